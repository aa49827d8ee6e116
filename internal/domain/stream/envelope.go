package stream

import (
	"time"

	"github.com/google/uuid"
)

const (
	ControlStreamEnd   = "stream_end"
	ControlStreamError = "stream_error"
)

// ControlEvent closes a feed. stream_end carries the final status ("done"
// or "timeout"); stream_error carries the recorded failure message.
type ControlEvent struct {
	Type    string `json:"type"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// Envelope is the transport frame shared by the live feed and continuation
// replay, one JSON object per line on the wire. Exactly one of Part or
// Event is set; a set Event means the feed is over.
type Envelope struct {
	StreamID  uuid.UUID `json:"stream_id"`
	MessageID uuid.UUID `json:"message_id"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`

	Part  *Part         `json:"part,omitempty"`
	Event *ControlEvent `json:"event,omitempty"`
}

// Terminal reports whether this envelope ends the feed.
func (e Envelope) Terminal() bool { return e.Event != nil }

// ControlForStatus builds the closing envelope for a finished stream.
func ControlForStatus(s *Stream, seq int64) Envelope {
	ev := ControlEvent{Type: ControlStreamEnd, Status: s.Status}
	if s.Status == StatusError {
		ev.Type = ControlStreamError
		ev.Message = s.Error
	}
	ts := s.UpdatedAt
	if s.CompletedAt != nil {
		ts = *s.CompletedAt
	}
	return Envelope{
		StreamID:  s.ID,
		MessageID: s.MessageID,
		Seq:       seq,
		Timestamp: ts,
		Event:     &ev,
	}
}
