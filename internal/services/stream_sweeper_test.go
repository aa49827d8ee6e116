package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/lumenchat/lumen-backend/internal/domain"
	"github.com/lumenchat/lumen-backend/internal/pkg/dbctx"
)

func TestStreamSweeperReclaimsAbandonedStreams(t *testing.T) {
	log := mustTestLogger(t)
	userID := uuid.New()
	threadID := uuid.New()

	staleMsg := &types.ChatMessage{
		ID:       uuid.New(),
		ThreadID: threadID,
		UserID:   userID,
		Role:     types.MessageRoleAssistant,
		Status:   types.MessageStatusStreaming,
		Parts:    datatypes.JSON(`[]`),
	}
	freshMsg := &types.ChatMessage{
		ID:       uuid.New(),
		ThreadID: threadID,
		UserID:   userID,
		Role:     types.MessageRoleAssistant,
		Status:   types.MessageStatusStreaming,
		Parts:    datatypes.JSON(`[]`),
	}
	stale := &types.Stream{
		ID:        uuid.New(),
		UserID:    userID,
		ThreadID:  threadID,
		MessageID: staleMsg.ID,
		Status:    types.StreamStatusStreaming,
		CreatedAt: time.Now().UTC().Add(-45 * time.Minute),
	}
	fresh := &types.Stream{
		ID:        uuid.New(),
		UserID:    userID,
		ThreadID:  threadID,
		MessageID: freshMsg.ID,
		Status:    types.StreamStatusStreaming,
		CreatedAt: time.Now().UTC(),
	}

	streams := newFakeStreamRepo(stale, fresh)
	deltas := &fakeStreamDeltaRepo{}
	payload, _ := json.Marshal(types.Part{Type: types.PartTypeText, Text: "Half an answer"})
	if err := deltas.AppendBatch(dbctx.New(context.Background()), []*types.StreamDelta{{
		ID:        uuid.New(),
		StreamID:  stale.ID,
		MessageID: staleMsg.ID,
		Seq:       0,
		PartType:  types.PartTypeText,
		Payload:   datatypes.JSON(payload),
		CreatedAt: time.Now().UTC().Add(-45 * time.Minute),
	}}); err != nil {
		t.Fatalf("seed delta: %v", err)
	}
	messages := newFakeChatMessageRepo(staleMsg, freshMsg)
	notify := &fakeNotifier{}

	sw := NewStreamSweeper(nil, log, streams, deltas, messages, notify, StreamSweeperConfig{MaxAge: 20 * time.Minute})

	n, err := sw.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed %d streams, want 1", n)
	}

	swept, _ := streams.GetByID(dbctx.New(context.Background()), stale.ID)
	if swept.Status != types.StreamStatusTimeout || swept.CompletedAt == nil {
		t.Fatalf("stale stream: status=%q completed=%v", swept.Status, swept.CompletedAt)
	}
	untouched, _ := streams.GetByID(dbctx.New(context.Background()), fresh.ID)
	if untouched.Status != types.StreamStatusStreaming {
		t.Fatalf("fresh stream swept: %q", untouched.Status)
	}

	released, _ := messages.GetByID(dbctx.New(context.Background()), staleMsg.ID)
	if released.Status != types.MessageStatusError {
		t.Fatalf("swept message status %q, want error", released.Status)
	}
	var parts []types.Part
	if err := json.Unmarshal(released.Parts, &parts); err != nil {
		t.Fatalf("unmarshal salvaged parts: %v", err)
	}
	if len(parts) != 1 || parts[0].Text != "Half an answer" {
		t.Fatalf("salvaged parts: %+v", parts)
	}

	if notify.timedOut != 1 {
		t.Fatalf("StreamTimeout notifications: %d", notify.timedOut)
	}
}

func TestStreamSweeperLosesRaceToLegitimateFinish(t *testing.T) {
	log := mustTestLogger(t)
	userID := uuid.New()

	msg := &types.ChatMessage{
		ID:     uuid.New(),
		UserID: userID,
		Role:   types.MessageRoleAssistant,
		Status: types.MessageStatusReady,
		Parts:  datatypes.JSON(`[]`),
	}
	row := &types.Stream{
		ID:        uuid.New(),
		UserID:    userID,
		MessageID: msg.ID,
		Status:    types.StreamStatusDone,
		CreatedAt: time.Now().UTC().Add(-45 * time.Minute),
	}
	streams := newFakeStreamRepo(row)
	messages := newFakeChatMessageRepo(msg)
	notify := &fakeNotifier{}

	sw := NewStreamSweeper(nil, log, streams, &fakeStreamDeltaRepo{}, messages, notify, StreamSweeperConfig{})

	// Stale snapshot from before the writer finished; the status guard must
	// reject the timeout transition.
	snapshot := *row
	snapshot.Status = types.StreamStatusStreaming
	if sw.sweepStream(context.Background(), &snapshot) {
		t.Fatal("sweeper reclaimed a stream the writer already finished")
	}

	after, _ := streams.GetByID(dbctx.New(context.Background()), row.ID)
	if after.Status != types.StreamStatusDone {
		t.Fatalf("terminal status overwritten: %q", after.Status)
	}
	final, _ := messages.GetByID(dbctx.New(context.Background()), msg.ID)
	if final.Status != types.MessageStatusReady {
		t.Fatalf("finalized message touched: %q", final.Status)
	}
	if notify.timedOut != 0 {
		t.Fatalf("StreamTimeout notifications: %d", notify.timedOut)
	}
}
