package services

import (
	"context"

	"github.com/google/uuid"

	types "github.com/lumenchat/lumen-backend/internal/domain"
	"github.com/lumenchat/lumen-backend/internal/realtime"
)

// StreamNotifier pushes chat and stream lifecycle events onto the user's SSE
// channel. The per-stream NDJSON feed is the primary delivery path; these
// notifications let other tabs and devices follow along and know when to
// refetch the durable projection.
type StreamNotifier interface {
	ThreadCreated(userID uuid.UUID, thread *types.ChatThread)
	MessageCreated(userID uuid.UUID, threadID uuid.UUID, msg *types.ChatMessage, meta map[string]any)
	StreamDelta(userID uuid.UUID, threadID uuid.UUID, env *types.Envelope)
	StreamDone(userID uuid.UUID, threadID uuid.UUID, msg *types.ChatMessage, meta map[string]any)
	StreamError(userID uuid.UUID, threadID uuid.UUID, streamID uuid.UUID, messageID uuid.UUID, errMsg string)
	StreamTimeout(userID uuid.UUID, threadID uuid.UUID, streamID uuid.UUID, messageID uuid.UUID)
}

type streamNotifier struct {
	emit SSEEmitter
}

func NewStreamNotifier(emit SSEEmitter) StreamNotifier {
	return &streamNotifier{emit: emit}
}

func (n *streamNotifier) ThreadCreated(userID uuid.UUID, thread *types.ChatThread) {
	if n == nil || n.emit == nil || userID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: userID.String(),
		Event:   realtime.SSEEventThreadCreated,
		Data:    map[string]any{"thread": thread},
	})
}

func (n *streamNotifier) MessageCreated(userID uuid.UUID, threadID uuid.UUID, msg *types.ChatMessage, meta map[string]any) {
	if n == nil || n.emit == nil || userID == uuid.Nil {
		return
	}
	data := map[string]any{"thread_id": threadID, "message": msg}
	for k, v := range meta {
		data[k] = v
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: userID.String(),
		Event:   realtime.SSEEventMessageCreated,
		Data:    data,
	})
}

func (n *streamNotifier) StreamDelta(userID uuid.UUID, threadID uuid.UUID, env *types.Envelope) {
	if n == nil || n.emit == nil || userID == uuid.Nil || env == nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: userID.String(),
		Event:   realtime.SSEEventStreamDelta,
		Data: map[string]any{
			"thread_id": threadID,
			"envelope":  env,
		},
	})
}

func (n *streamNotifier) StreamDone(userID uuid.UUID, threadID uuid.UUID, msg *types.ChatMessage, meta map[string]any) {
	if n == nil || n.emit == nil || userID == uuid.Nil {
		return
	}
	data := map[string]any{"thread_id": threadID, "message": msg}
	for k, v := range meta {
		data[k] = v
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: userID.String(),
		Event:   realtime.SSEEventStreamDone,
		Data:    data,
	})
}

func (n *streamNotifier) StreamError(userID uuid.UUID, threadID uuid.UUID, streamID uuid.UUID, messageID uuid.UUID, errMsg string) {
	if n == nil || n.emit == nil || userID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: userID.String(),
		Event:   realtime.SSEEventStreamError,
		Data: map[string]any{
			"thread_id":  threadID,
			"stream_id":  streamID,
			"message_id": messageID,
			"error":      errMsg,
		},
	})
}

func (n *streamNotifier) StreamTimeout(userID uuid.UUID, threadID uuid.UUID, streamID uuid.UUID, messageID uuid.UUID) {
	if n == nil || n.emit == nil || userID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: userID.String(),
		Event:   realtime.SSEEventStreamTimeout,
		Data: map[string]any{
			"thread_id":  threadID,
			"stream_id":  streamID,
			"message_id": messageID,
		},
	})
}
