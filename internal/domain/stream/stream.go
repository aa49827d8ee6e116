package stream

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusPending   = "pending"
	StatusStreaming = "streaming"
	StatusDone      = "done"
	StatusError     = "error"
	StatusTimeout   = "timeout"
)

// TerminalStatuses are the states a stream can never leave.
func TerminalStatuses() []string {
	return []string{StatusDone, StatusError, StatusTimeout}
}

func IsTerminalStatus(status string) bool {
	switch status {
	case StatusDone, StatusError, StatusTimeout:
		return true
	default:
		return false
	}
}

// Stream is the lifecycle record for one model response. The delta log
// hanging off it is the durable source of truth; the row itself tracks
// status, ownership and the terminal error if any.
type Stream struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	ThreadID  uuid.UUID `gorm:"type:uuid;not null;index" json:"thread_id"`
	MessageID uuid.UUID `gorm:"type:uuid;not null;index" json:"message_id"`

	Status string `gorm:"column:status;not null;default:'pending';index" json:"status"`
	Model  string `gorm:"column:model" json:"model,omitempty"`

	// Error holds the producer failure message verbatim when status is
	// "error".
	Error    string         `gorm:"column:error;type:text;not null;default:''" json:"error,omitempty"`
	Metadata datatypes.JSON `gorm:"type:jsonb;column:metadata;not null;default:'{}'" json:"metadata,omitempty"`

	StartedAt   *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at;index" json:"completed_at,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Stream) TableName() string { return "stream" }
