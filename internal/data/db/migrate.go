package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/lumenchat/lumen-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		// Chat surface
		&types.ChatThread{},
		&types.ChatMessage{},

		// Streaming core
		&types.Stream{},
		&types.StreamDelta{},
	)
}

// EnsureStreamIndexes creates the partial indexes AutoMigrate cannot
// express. Safe to re-run.
func EnsureStreamIndexes(db *gorm.DB) error {
	// At most one non-terminal stream per message; the insert that loses
	// this race gets a unique violation and resolves to the winner.
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_stream_active_message
		ON stream(message_id)
		WHERE status IN ('pending', 'streaming') AND deleted_at IS NULL;
	`).Error; err != nil {
		return fmt.Errorf("create idx_stream_active_message: %w", err)
	}

	// Retried sends with the same idempotency key map to one user message.
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_chat_message_user_idem
		ON chat_message(user_id, idempotency_key)
		WHERE role = 'user' AND idempotency_key <> '' AND deleted_at IS NULL;
	`).Error; err != nil {
		return fmt.Errorf("create idx_chat_message_user_idem: %w", err)
	}

	// Sweeper scan: non-terminal streams by age.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_stream_status_created
		ON stream(status, created_at)
		WHERE status IN ('pending', 'streaming');
	`).Error; err != nil {
		return fmt.Errorf("create idx_stream_status_created: %w", err)
	}

	return nil
}
