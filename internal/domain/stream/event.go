package stream

import "encoding/json"

// Producer event types. Anything outside this set is skipped by consumers
// after a debug log; the stream itself keeps flowing.
const (
	EventTypeStart         = "start"
	EventTypeText          = "text"
	EventTypeReasoning     = "reasoning"
	EventTypeToolCall      = "tool_call"
	EventTypeToolCallDelta = "tool_call_delta"
	EventTypeToolResult    = "tool_result"
	EventTypeSource        = "source"
	EventTypeFile          = "file"
	EventTypeRaw           = "raw"
	EventTypeError         = "error"
	EventTypeFinish        = "finish"
)

type Usage struct {
	InputTokens  int64 `json:"input_tokens,omitempty"`
	OutputTokens int64 `json:"output_tokens,omitempty"`
	TotalTokens  int64 `json:"total_tokens,omitempty"`
}

// Event is one element of a producer stream. Type selects which fields are
// meaningful, mirroring the shape of Part for the kinds that become parts.
type Event struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	ArgsDelta  string          `json:"args_delta,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`

	SourceURL   string `json:"source_url,omitempty"`
	SourceTitle string `json:"source_title,omitempty"`

	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`

	Message string          `json:"message,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`

	Raw json.RawMessage `json:"raw,omitempty"`

	// start
	Model string `json:"model,omitempty"`

	// finish
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
}
