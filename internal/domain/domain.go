package domain

import (
	"github.com/lumenchat/lumen-backend/internal/domain/chat"
	"github.com/lumenchat/lumen-backend/internal/domain/stream"
)

// Re-exports so callers can depend on a single types package instead of
// reaching into each subdomain.

type ChatThread = chat.ChatThread
type ChatMessage = chat.ChatMessage

const (
	ThreadStatusActive   = chat.ThreadStatusActive
	ThreadStatusArchived = chat.ThreadStatusArchived

	MessageRoleUser      = chat.MessageRoleUser
	MessageRoleAssistant = chat.MessageRoleAssistant
	MessageRoleSystem    = chat.MessageRoleSystem

	MessageStatusSubmitted = chat.MessageStatusSubmitted
	MessageStatusStreaming = chat.MessageStatusStreaming
	MessageStatusReady     = chat.MessageStatusReady
	MessageStatusError     = chat.MessageStatusError
)

type Stream = stream.Stream
type StreamDelta = stream.StreamDelta
type Part = stream.Part
type Event = stream.Event
type Usage = stream.Usage
type Envelope = stream.Envelope
type ControlEvent = stream.ControlEvent

const (
	StreamStatusPending   = stream.StatusPending
	StreamStatusStreaming = stream.StatusStreaming
	StreamStatusDone      = stream.StatusDone
	StreamStatusError     = stream.StatusError
	StreamStatusTimeout   = stream.StatusTimeout

	PartTypeText          = stream.PartTypeText
	PartTypeReasoning     = stream.PartTypeReasoning
	PartTypeToolCall      = stream.PartTypeToolCall
	PartTypeToolCallDelta = stream.PartTypeToolCallDelta
	PartTypeToolResult    = stream.PartTypeToolResult
	PartTypeSource        = stream.PartTypeSource
	PartTypeFile          = stream.PartTypeFile
	PartTypeError         = stream.PartTypeError
	PartTypeRaw           = stream.PartTypeRaw
	PartTypeStep          = stream.PartTypeStep

	ToolStatePartial = stream.ToolStatePartial
	ToolStateCall    = stream.ToolStateCall
	ToolStateResult  = stream.ToolStateResult

	StepKindStart  = stream.StepKindStart
	StepKindFinish = stream.StepKindFinish

	EventTypeStart         = stream.EventTypeStart
	EventTypeText          = stream.EventTypeText
	EventTypeReasoning     = stream.EventTypeReasoning
	EventTypeToolCall      = stream.EventTypeToolCall
	EventTypeToolCallDelta = stream.EventTypeToolCallDelta
	EventTypeToolResult    = stream.EventTypeToolResult
	EventTypeSource        = stream.EventTypeSource
	EventTypeFile          = stream.EventTypeFile
	EventTypeRaw           = stream.EventTypeRaw
	EventTypeError         = stream.EventTypeError
	EventTypeFinish        = stream.EventTypeFinish

	ControlStreamEnd   = stream.ControlStreamEnd
	ControlStreamError = stream.ControlStreamError
)

func StreamTerminalStatuses() []string {
	return stream.TerminalStatuses()
}

func IsStreamTerminalStatus(status string) bool {
	return stream.IsTerminalStatus(status)
}

func FoldParts(parts []Part) []Part {
	return stream.FoldParts(parts)
}

func DisplayParts(parts []Part) []Part {
	return stream.DisplayParts(parts)
}

func CoalesceParts(parts []Part) []Part {
	return stream.CoalesceParts(parts)
}

func TextOf(parts []Part) string {
	return stream.TextOf(parts)
}
