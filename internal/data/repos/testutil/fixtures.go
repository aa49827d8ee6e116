package testutil

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/lumenchat/lumen-backend/internal/domain"
)

func SeedThread(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID) *types.ChatThread {
	tb.Helper()
	th := &types.ChatThread{
		ID:       uuid.New(),
		UserID:   userID,
		Title:    "thread",
		Status:   types.ThreadStatusActive,
		Metadata: datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(th).Error; err != nil {
		tb.Fatalf("seed thread: %v", err)
	}
	return th
}

func SeedMessage(tb testing.TB, ctx context.Context, tx *gorm.DB, threadID, userID uuid.UUID, seq int64, role, status string) *types.ChatMessage {
	tb.Helper()
	m := &types.ChatMessage{
		ID:       uuid.New(),
		ThreadID: threadID,
		UserID:   userID,
		Seq:      seq,
		Role:     role,
		Status:   status,
		Parts:    datatypes.JSON([]byte("[]")),
		Metadata: datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed message: %v", err)
	}
	return m
}

func SeedStream(tb testing.TB, ctx context.Context, tx *gorm.DB, userID, threadID, messageID uuid.UUID, status string) *types.Stream {
	tb.Helper()
	s := &types.Stream{
		ID:        uuid.New(),
		UserID:    userID,
		ThreadID:  threadID,
		MessageID: messageID,
		Status:    status,
		Metadata:  datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed stream: %v", err)
	}
	return s
}

func SeedTextDeltas(tb testing.TB, ctx context.Context, tx *gorm.DB, streamID, messageID uuid.UUID, texts ...string) []*types.StreamDelta {
	tb.Helper()
	rows := make([]*types.StreamDelta, 0, len(texts))
	for i, text := range texts {
		payload, err := json.Marshal(types.Part{Type: types.PartTypeText, Text: text})
		if err != nil {
			tb.Fatalf("marshal part: %v", err)
		}
		rows = append(rows, &types.StreamDelta{
			ID:        uuid.New(),
			StreamID:  streamID,
			MessageID: messageID,
			Seq:       int64(i),
			PartType:  types.PartTypeText,
			Payload:   datatypes.JSON(payload),
		})
	}
	if len(rows) > 0 {
		if err := tx.WithContext(ctx).Create(&rows).Error; err != nil {
			tb.Fatalf("seed deltas: %v", err)
		}
	}
	return rows
}
