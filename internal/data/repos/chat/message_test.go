package chat

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/lumenchat/lumen-backend/internal/data/repos/testutil"
	types "github.com/lumenchat/lumen-backend/internal/domain"
	"github.com/lumenchat/lumen-backend/internal/pkg/dbctx"
)

func TestChatMessageRepo(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	ctx := context.Background()
	dbc := dbctx.WithTx(ctx, tx)

	repo := NewChatMessageRepo(gdb, testutil.Logger(t))

	userID := uuid.New()
	th := testutil.SeedThread(t, ctx, tx, userID)

	if maxSeq, err := repo.GetMaxSeq(dbc, th.ID); err != nil || maxSeq != 0 {
		t.Fatalf("GetMaxSeq empty: seq=%d err=%v", maxSeq, err)
	}

	userMsg := &types.ChatMessage{
		ID:             uuid.New(),
		ThreadID:       th.ID,
		UserID:         userID,
		Seq:            1,
		Role:           types.MessageRoleUser,
		Status:         types.MessageStatusReady,
		Parts:          datatypes.JSON([]byte(`[{"type":"text","text":"hi"}]`)),
		IdempotencyKey: "send-1",
	}
	asstMsg := &types.ChatMessage{
		ID:       uuid.New(),
		ThreadID: th.ID,
		UserID:   userID,
		Seq:      2,
		Role:     types.MessageRoleAssistant,
		Status:   types.MessageStatusSubmitted,
		Parts:    datatypes.JSON([]byte(`[]`)),
		Model:    "lumen-1",
	}

	if _, err := repo.Create(dbc, []*types.ChatMessage{userMsg, asstMsg}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if got, err := repo.GetByID(dbc, asstMsg.ID); err != nil || got == nil || got.Role != types.MessageRoleAssistant {
		t.Fatalf("GetByID: row=%v err=%v", got, err)
	}

	if got, err := repo.GetByIdempotencyKey(dbc, userID, "send-1"); err != nil || got == nil || got.ID != userMsg.ID {
		t.Fatalf("GetByIdempotencyKey: row=%v err=%v", got, err)
	}
	if got, err := repo.GetByIdempotencyKey(dbc, userID, "never-used"); err != nil || got != nil {
		t.Fatalf("GetByIdempotencyKey unused: row=%v err=%v", got, err)
	}

	if maxSeq, err := repo.GetMaxSeq(dbc, th.ID); err != nil || maxSeq != 2 {
		t.Fatalf("GetMaxSeq: seq=%d err=%v", maxSeq, err)
	}

	msgs, err := repo.ListByThread(dbc, th.ID, 50)
	if err != nil {
		t.Fatalf("ListByThread: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Seq != 1 || msgs[1].Seq != 2 {
		t.Fatalf("ListByThread order: %+v", msgs)
	}

	since, err := repo.ListSinceSeq(dbc, th.ID, 1, 50)
	if err != nil || len(since) != 1 || since[0].ID != asstMsg.ID {
		t.Fatalf("ListSinceSeq: n=%d err=%v", len(since), err)
	}

	// streaming -> ready transition applies while not terminal
	applied, err := repo.UpdateFieldsUnlessStatus(dbc, asstMsg.ID,
		[]string{types.MessageStatusReady, types.MessageStatusError},
		map[string]interface{}{"status": types.MessageStatusReady})
	if err != nil || !applied {
		t.Fatalf("UpdateFieldsUnlessStatus: applied=%v err=%v", applied, err)
	}

	// a second terminal write loses the guard silently
	applied, err = repo.UpdateFieldsUnlessStatus(dbc, asstMsg.ID,
		[]string{types.MessageStatusReady, types.MessageStatusError},
		map[string]interface{}{"status": types.MessageStatusError})
	if err != nil {
		t.Fatalf("guarded rewrite err: %v", err)
	}
	if applied {
		t.Fatalf("guarded rewrite applied over ready status")
	}

	got, err := repo.GetByID(dbc, asstMsg.ID)
	if err != nil || got == nil || got.Status != types.MessageStatusReady {
		t.Fatalf("final status=%v err=%v", got, err)
	}
}

func TestChatMessageRepoIdempotencyUnique(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	ctx := context.Background()
	dbc := dbctx.WithTx(ctx, tx)

	repo := NewChatMessageRepo(gdb, testutil.Logger(t))

	userID := uuid.New()
	th := testutil.SeedThread(t, ctx, tx, userID)

	first := &types.ChatMessage{
		ID: uuid.New(), ThreadID: th.ID, UserID: userID, Seq: 1,
		Role: types.MessageRoleUser, Status: types.MessageStatusReady,
		Parts: datatypes.JSON([]byte(`[]`)), IdempotencyKey: "dup",
	}
	if _, err := repo.Create(dbc, []*types.ChatMessage{first}); err != nil {
		t.Fatalf("Create first: %v", err)
	}

	second := &types.ChatMessage{
		ID: uuid.New(), ThreadID: th.ID, UserID: userID, Seq: 2,
		Role: types.MessageRoleUser, Status: types.MessageStatusReady,
		Parts: datatypes.JSON([]byte(`[]`)), IdempotencyKey: "dup",
	}
	if _, err := repo.Create(dbc, []*types.ChatMessage{second}); err == nil {
		t.Fatalf("duplicate idempotency key accepted")
	}
}
