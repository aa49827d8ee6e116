package stream

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

func deltaRow(t *testing.T, streamID uuid.UUID, seq int64, p Part) *StreamDelta {
	t.Helper()
	if p.Type == "" {
		t.Fatalf("deltaRow: part without type")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal part: %v", err)
	}
	return &StreamDelta{
		ID:       uuid.New(),
		StreamID: streamID,
		Seq:      seq,
		PartType: p.Type,
		Payload:  datatypes.JSON(payload),
	}
}

func TestAssemblePartsPlainText(t *testing.T) {
	sid := uuid.New()
	rows := []*StreamDelta{
		deltaRow(t, sid, 0, Part{Type: PartTypeText, Text: "The answer is "}),
		deltaRow(t, sid, 1, Part{Type: PartTypeText, Text: "42."}),
		deltaRow(t, sid, 2, Part{Type: PartTypeStep, Kind: StepKindFinish}),
	}

	parts, err := AssembleParts(rows)
	if err != nil {
		t.Fatalf("AssembleParts: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("parts=%d, want 3", len(parts))
	}

	display := CoalesceParts(parts)
	if len(display) != 2 {
		t.Fatalf("display parts=%d, want 2", len(display))
	}
	if display[0].Type != PartTypeText || display[0].Text != "The answer is 42." {
		t.Fatalf("coalesced text=%q", display[0].Text)
	}
	if display[1].Type != PartTypeStep || display[1].Kind != StepKindFinish {
		t.Fatalf("trailing part=%+v", display[1])
	}
}

func TestAssemblePartsFoldsToolResult(t *testing.T) {
	sid := uuid.New()
	rows := []*StreamDelta{
		deltaRow(t, sid, 0, Part{Type: PartTypeText, Text: "Let me check. "}),
		deltaRow(t, sid, 1, Part{
			Type:       PartTypeToolCall,
			ToolCallID: "call_1",
			ToolName:   "weather",
			Args:       json.RawMessage(`{"city":"Oslo"}`),
		}),
		deltaRow(t, sid, 2, Part{
			Type:       PartTypeToolResult,
			ToolCallID: "call_1",
			Result:     json.RawMessage(`{"temp":-3}`),
		}),
		deltaRow(t, sid, 3, Part{Type: PartTypeText, Text: "It is cold."}),
		deltaRow(t, sid, 4, Part{Type: PartTypeStep, Kind: StepKindFinish}),
	}

	parts, err := AssembleParts(rows)
	if err != nil {
		t.Fatalf("AssembleParts: %v", err)
	}
	if len(parts) != 4 {
		t.Fatalf("parts=%d, want 4 (result folded into call)", len(parts))
	}
	call := parts[1]
	if call.Type != PartTypeToolCall || call.State != ToolStateResult {
		t.Fatalf("call part=%+v", call)
	}
	if string(call.Result) != `{"temp":-3}` {
		t.Fatalf("call result=%s", call.Result)
	}
	if parts[2].Text != "It is cold." {
		t.Fatalf("text after call=%q", parts[2].Text)
	}
}

func TestAssemblePartsAccumulatesArgDeltas(t *testing.T) {
	sid := uuid.New()
	rows := []*StreamDelta{
		deltaRow(t, sid, 0, Part{Type: PartTypeToolCallDelta, ToolCallID: "call_1", ToolName: "search", ArgsDelta: `{"q":`}),
		deltaRow(t, sid, 1, Part{Type: PartTypeToolCallDelta, ToolCallID: "call_1", ArgsDelta: `"tidal power"}`}),
		deltaRow(t, sid, 2, Part{Type: PartTypeToolCall, ToolCallID: "call_1", ToolName: "search", Args: json.RawMessage(`{"q":"tidal power"}`)}),
	}

	parts, err := AssembleParts(rows)
	if err != nil {
		t.Fatalf("AssembleParts: %v", err)
	}
	if len(parts) != 1 {
		t.Fatalf("parts=%d, want 1", len(parts))
	}
	call := parts[0]
	if call.State != ToolStateCall {
		t.Fatalf("state=%q, want %q", call.State, ToolStateCall)
	}
	if string(call.Args) != `{"q":"tidal power"}` {
		t.Fatalf("args=%s", call.Args)
	}

	// fragments alone leave the call partial with the accumulated prefix
	partial, err := AssembleParts(rows[:2])
	if err != nil {
		t.Fatalf("AssembleParts partial: %v", err)
	}
	if partial[0].State != ToolStatePartial {
		t.Fatalf("partial state=%q", partial[0].State)
	}
	if string(partial[0].Args) != `{"q":"tidal power"}` {
		t.Fatalf("partial args=%s", partial[0].Args)
	}
}

func TestAssemblePartsKeepsOrphanResult(t *testing.T) {
	sid := uuid.New()
	rows := []*StreamDelta{
		deltaRow(t, sid, 0, Part{Type: PartTypeToolResult, ToolCallID: "call_x", Result: json.RawMessage(`{}`)}),
	}
	parts, err := AssembleParts(rows)
	if err != nil {
		t.Fatalf("AssembleParts: %v", err)
	}
	if len(parts) != 1 || parts[0].Type != PartTypeToolResult {
		t.Fatalf("orphan result parts=%+v", parts)
	}
}

func TestAssemblePartsKeepsUnknownType(t *testing.T) {
	sid := uuid.New()
	rows := []*StreamDelta{
		deltaRow(t, sid, 0, Part{Type: "telemetry", Text: "x"}),
		deltaRow(t, sid, 1, Part{Type: PartTypeText, Text: "hi"}),
	}
	parts, err := AssembleParts(rows)
	if err != nil {
		t.Fatalf("AssembleParts: %v", err)
	}
	if len(parts) != 2 || parts[0].Type != "telemetry" {
		t.Fatalf("parts=%+v", parts)
	}
}

func TestDecodePartFallsBackToRowType(t *testing.T) {
	d := &StreamDelta{
		StreamID: uuid.New(),
		Seq:      0,
		PartType: PartTypeText,
		Payload:  datatypes.JSON([]byte(`{"text":"no type field"}`)),
	}
	p, err := DecodePart(d)
	if err != nil {
		t.Fatalf("DecodePart: %v", err)
	}
	if p.Type != PartTypeText || p.Text != "no type field" {
		t.Fatalf("part=%+v", p)
	}
}

func TestCoalescePartsDoesNotMergeAcrossKinds(t *testing.T) {
	parts := []Part{
		{Type: PartTypeReasoning, Text: "think "},
		{Type: PartTypeReasoning, Text: "harder"},
		{Type: PartTypeText, Text: "a"},
		{Type: PartTypeToolCall, ToolCallID: "c1", State: ToolStateCall},
		{Type: PartTypeText, Text: "b"},
		{Type: PartTypeText, Text: "c"},
	}
	out := CoalesceParts(parts)
	if len(out) != 4 {
		t.Fatalf("coalesced=%d, want 4", len(out))
	}
	if out[0].Text != "think harder" {
		t.Fatalf("reasoning=%q", out[0].Text)
	}
	if out[3].Text != "bc" {
		t.Fatalf("tail text=%q", out[3].Text)
	}
}

func TestAssembleEnvelopes(t *testing.T) {
	sid := uuid.New()
	mid := uuid.New()
	rows := []*StreamDelta{
		deltaRow(t, sid, 0, Part{Type: PartTypeText, Text: "a"}),
		deltaRow(t, sid, 1, Part{Type: PartTypeText, Text: "b"}),
	}
	for _, r := range rows {
		r.MessageID = mid
	}
	envs, err := AssembleEnvelopes(rows)
	if err != nil {
		t.Fatalf("AssembleEnvelopes: %v", err)
	}
	if len(envs) != 2 {
		t.Fatalf("envelopes=%d, want 2", len(envs))
	}
	for i, env := range envs {
		if env.Seq != int64(i) {
			t.Fatalf("env[%d].Seq=%d", i, env.Seq)
		}
		if env.Part == nil || env.Event != nil {
			t.Fatalf("env[%d] not a part frame: %+v", i, env)
		}
		if env.MessageID != mid {
			t.Fatalf("env[%d].MessageID=%s", i, env.MessageID)
		}
	}
}
