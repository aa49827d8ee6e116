package stream

import "encoding/json"

// Part types as they appear in delta rows and assembled messages.
// tool_call_delta and tool_result only ever appear as log rows; assembly
// folds them into the tool_call part they belong to.
const (
	PartTypeText          = "text"
	PartTypeReasoning     = "reasoning"
	PartTypeToolCall      = "tool_call"
	PartTypeToolCallDelta = "tool_call_delta"
	PartTypeToolResult    = "tool_result"
	PartTypeSource        = "source"
	PartTypeFile          = "file"
	PartTypeError         = "error"
	PartTypeRaw           = "raw"
	PartTypeStep          = "step"
)

// Tool call lifecycle, in order: arguments still streaming, call complete,
// result recorded.
const (
	ToolStatePartial = "partial_call"
	ToolStateCall    = "call"
	ToolStateResult  = "result"
)

const (
	StepKindStart  = "start"
	StepKindFinish = "finish"
)

// Part is the tagged union stored in delta payloads and message parts
// arrays. Type selects which of the remaining fields are meaningful;
// everything else stays empty and is elided from JSON.
type Part struct {
	Type string `json:"type"`

	// text, reasoning
	Text string `json:"text,omitempty"`

	// tool_call, tool_call_delta, tool_result
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	ArgsDelta  string          `json:"args_delta,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	State      string          `json:"state,omitempty"`

	// source
	SourceURL   string `json:"source_url,omitempty"`
	SourceTitle string `json:"source_title,omitempty"`

	// file
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`

	// error
	Message string          `json:"message,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`

	// raw provider passthrough
	Raw json.RawMessage `json:"raw,omitempty"`

	// step
	Kind string `json:"kind,omitempty"`
}

// CoalesceParts merges adjacent text parts (and adjacent reasoning parts)
// into single logical parts for display. Emission order is preserved; any
// non-mergeable part breaks the run.
func CoalesceParts(parts []Part) []Part {
	if len(parts) == 0 {
		return parts
	}
	out := make([]Part, 0, len(parts))
	for _, p := range parts {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if p.Type == last.Type && (p.Type == PartTypeText || p.Type == PartTypeReasoning) {
				last.Text += p.Text
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

func TextOf(parts []Part) string {
	var s string
	for _, p := range parts {
		if p.Type == PartTypeText {
			s += p.Text
		}
	}
	return s
}
