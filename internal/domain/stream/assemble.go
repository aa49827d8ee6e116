package stream

import (
	"encoding/json"
	"fmt"
)

// DecodePart unpacks a delta row's payload. The row's part_type column wins
// over a missing type field in the payload.
func DecodePart(d *StreamDelta) (Part, error) {
	var p Part
	if len(d.Payload) > 0 {
		if err := json.Unmarshal(d.Payload, &p); err != nil {
			return Part{}, fmt.Errorf("decode delta %s seq %d: %w", d.StreamID, d.Seq, err)
		}
	}
	if p.Type == "" {
		p.Type = d.PartType
	}
	return p, nil
}

// AssembleParts projects an ordered run of delta rows into the message's
// part sequence. Argument fragments accumulate into their pending tool
// call and results fold into the call they answer, so replaying the log
// always lands on the same parts a live consumer assembled. A result with
// no matching call stays as its own part rather than being dropped.
func AssembleParts(deltas []*StreamDelta) ([]Part, error) {
	decoded := make([]Part, 0, len(deltas))
	for _, d := range deltas {
		p, err := DecodePart(d)
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, p)
	}
	return FoldParts(decoded), nil
}

// FoldParts applies the tool-call fold to an ordered part sequence without
// touching the underlying rows.
func FoldParts(in []Part) []Part {
	parts := make([]Part, 0, len(in))
	callIdx := make(map[string]int)
	for _, p := range in {
		switch p.Type {
		case PartTypeToolCallDelta:
			if i, ok := callIdx[p.ToolCallID]; ok && p.ToolCallID != "" {
				call := &parts[i]
				call.Args = append(call.Args, []byte(p.ArgsDelta)...)
				continue
			}
			open := Part{
				Type:       PartTypeToolCall,
				ToolCallID: p.ToolCallID,
				ToolName:   p.ToolName,
				Args:       json.RawMessage(p.ArgsDelta),
				State:      ToolStatePartial,
			}
			parts = append(parts, open)
			if p.ToolCallID != "" {
				callIdx[p.ToolCallID] = len(parts) - 1
			}
		case PartTypeToolCall:
			if i, ok := callIdx[p.ToolCallID]; ok && p.ToolCallID != "" {
				call := &parts[i]
				if p.ToolName != "" {
					call.ToolName = p.ToolName
				}
				if len(p.Args) > 0 {
					call.Args = p.Args
				}
				if call.State != ToolStateResult {
					call.State = ToolStateCall
				}
				continue
			}
			if p.State == "" {
				p.State = ToolStateCall
			}
			parts = append(parts, p)
			if p.ToolCallID != "" {
				callIdx[p.ToolCallID] = len(parts) - 1
			}
		case PartTypeToolResult:
			if i, ok := callIdx[p.ToolCallID]; ok && p.ToolCallID != "" {
				call := &parts[i]
				call.Result = p.Result
				call.State = ToolStateResult
				continue
			}
			parts = append(parts, p)
		default:
			// includes unknown future types: carried through untouched
			parts = append(parts, p)
		}
	}
	return parts
}

// DisplayParts renders a part sequence the way a message stores and shows
// it: tool activity folded, step markers dropped, adjacent text runs merged.
func DisplayParts(in []Part) []Part {
	folded := FoldParts(in)
	kept := folded[:0]
	for _, p := range folded {
		if p.Type == PartTypeStep {
			continue
		}
		kept = append(kept, p)
	}
	return CoalesceParts(kept)
}

// AssembleEnvelopes renders delta rows as replayable envelopes in log
// order, one per row.
func AssembleEnvelopes(deltas []*StreamDelta) ([]Envelope, error) {
	out := make([]Envelope, 0, len(deltas))
	for _, d := range deltas {
		p, err := DecodePart(d)
		if err != nil {
			return nil, err
		}
		part := p
		out = append(out, Envelope{
			StreamID:  d.StreamID,
			MessageID: d.MessageID,
			Seq:       d.Seq,
			Timestamp: d.CreatedAt,
			Part:      &part,
		})
	}
	return out, nil
}
