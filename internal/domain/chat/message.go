package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
	MessageRoleSystem    = "system"
)

// Assistant messages move submitted -> streaming -> ready|error. User
// messages are created ready.
const (
	MessageStatusSubmitted = "submitted"
	MessageStatusStreaming = "streaming"
	MessageStatusReady     = "ready"
	MessageStatusError     = "error"
)

type ChatMessage struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ThreadID uuid.UUID `gorm:"type:uuid;not null;index:idx_chat_message_thread_seq,unique,priority:1" json:"thread_id"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Seq int64 `gorm:"column:seq;not null;index:idx_chat_message_thread_seq,unique,priority:2" json:"seq"`

	Role   string `gorm:"column:role;not null;index" json:"role"`
	Status string `gorm:"column:status;not null;default:'submitted';index" json:"status"`

	// Parts is the emission-ordered part array. For assistant messages it
	// is written once, at stream completion, from the delta log.
	Parts    datatypes.JSON `gorm:"type:jsonb;column:parts;not null;default:'[]'" json:"parts"`
	Model    string         `gorm:"column:model" json:"model,omitempty"`
	Metadata datatypes.JSON `gorm:"type:jsonb;column:metadata;not null;default:'{}'" json:"metadata,omitempty"`

	InputTokens  int64 `gorm:"column:input_tokens;not null;default:0" json:"input_tokens,omitempty"`
	OutputTokens int64 `gorm:"column:output_tokens;not null;default:0" json:"output_tokens,omitempty"`

	// Client-provided idempotency key to dedupe retried sends. Enforced
	// via a partial unique index (role='user' AND idempotency_key <> '').
	IdempotencyKey string `gorm:"type:text;column:idempotency_key;not null;default:'';index" json:"idempotency_key,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ChatMessage) TableName() string { return "chat_message" }
