package stream

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// StreamDelta is one append-only row of the delta log. Identity is
// (stream_id, seq); rows are never updated or deleted, so the row carries
// no updated_at or soft-delete column.
type StreamDelta struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	StreamID  uuid.UUID `gorm:"type:uuid;not null;index:idx_stream_delta_stream_seq,unique,priority:1" json:"stream_id"`
	MessageID uuid.UUID `gorm:"type:uuid;not null;index:idx_stream_delta_message_seq,priority:1" json:"message_id"`

	Seq int64 `gorm:"column:seq;not null;index:idx_stream_delta_stream_seq,unique,priority:2;index:idx_stream_delta_message_seq,priority:2" json:"seq"`

	PartType string         `gorm:"column:part_type;not null;index" json:"part_type"`
	Payload  datatypes.JSON `gorm:"type:jsonb;column:payload;not null;default:'{}'" json:"payload"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (StreamDelta) TableName() string { return "stream_delta" }
