package stream

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lumenchat/lumen-backend/internal/data/repos/testutil"
	types "github.com/lumenchat/lumen-backend/internal/domain"
	"github.com/lumenchat/lumen-backend/internal/pkg/dbctx"
	apperrors "github.com/lumenchat/lumen-backend/internal/pkg/errors"
)

func TestStreamRepoLifecycle(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	ctx := context.Background()
	dbc := dbctx.WithTx(ctx, tx)

	repo := NewStreamRepo(gdb, testutil.Logger(t))

	userID := uuid.New()
	th := testutil.SeedThread(t, ctx, tx, userID)
	msg := testutil.SeedMessage(t, ctx, tx, th.ID, userID, 1, types.MessageRoleAssistant, types.MessageStatusSubmitted)

	row := &types.Stream{
		ID:        uuid.New(),
		UserID:    userID,
		ThreadID:  th.ID,
		MessageID: msg.ID,
		Status:    types.StreamStatusPending,
		Model:     "lumen-1",
	}
	if err := repo.Create(dbc, row); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByID(dbc, row.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil || got.Status != types.StreamStatusPending {
		t.Fatalf("GetByID got=%+v", got)
	}

	if missing, err := repo.GetByID(dbc, uuid.New()); err != nil || missing != nil {
		t.Fatalf("GetByID missing: row=%v err=%v", missing, err)
	}

	active, err := repo.ActiveByMessage(dbc, msg.ID)
	if err != nil || active == nil || active.ID != row.ID {
		t.Fatalf("ActiveByMessage: row=%v err=%v", active, err)
	}

	ok, err := repo.MarkStreaming(dbc, row.ID, time.Now().UTC())
	if err != nil || !ok {
		t.Fatalf("MarkStreaming: ok=%v err=%v", ok, err)
	}
	// second call is a no-op: row already left pending
	ok, err = repo.MarkStreaming(dbc, row.ID, time.Now().UTC())
	if err != nil || ok {
		t.Fatalf("MarkStreaming repeat: ok=%v err=%v", ok, err)
	}

	// terminal transition guarded by disallowed statuses
	applied, err := repo.UpdateFieldsUnlessStatus(dbc, row.ID, types.StreamTerminalStatuses(), map[string]interface{}{
		"status":       types.StreamStatusDone,
		"completed_at": time.Now().UTC(),
	})
	if err != nil || !applied {
		t.Fatalf("terminal transition: applied=%v err=%v", applied, err)
	}

	// replaying the transition must silently lose the guard
	applied, err = repo.UpdateFieldsUnlessStatus(dbc, row.ID, types.StreamTerminalStatuses(), map[string]interface{}{
		"status": types.StreamStatusError,
		"error":  "late failure",
	})
	if err != nil {
		t.Fatalf("replayed transition err: %v", err)
	}
	if applied {
		t.Fatalf("replayed transition applied over terminal status")
	}

	got, err = repo.GetByID(dbc, row.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID after transitions: %v", err)
	}
	if got.Status != types.StreamStatusDone || got.Error != "" {
		t.Fatalf("terminal state clobbered: status=%q error=%q", got.Status, got.Error)
	}

	if active, err := repo.ActiveByMessage(dbc, msg.ID); err != nil || active != nil {
		t.Fatalf("ActiveByMessage after done: row=%v err=%v", active, err)
	}
}

func TestStreamRepoActiveMessageConflict(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	ctx := context.Background()
	dbc := dbctx.WithTx(ctx, tx)

	repo := NewStreamRepo(gdb, testutil.Logger(t))

	userID := uuid.New()
	th := testutil.SeedThread(t, ctx, tx, userID)
	msg := testutil.SeedMessage(t, ctx, tx, th.ID, userID, 1, types.MessageRoleAssistant, types.MessageStatusSubmitted)

	first := &types.Stream{ID: uuid.New(), UserID: userID, ThreadID: th.ID, MessageID: msg.ID, Status: types.StreamStatusPending}
	if err := repo.Create(dbc, first); err != nil {
		t.Fatalf("Create first: %v", err)
	}

	second := &types.Stream{ID: uuid.New(), UserID: userID, ThreadID: th.ID, MessageID: msg.ID, Status: types.StreamStatusPending}
	err := repo.Create(dbc, second)
	if err == nil {
		t.Fatalf("second active stream for message did not conflict")
	}
	if !apperrors.IsConflict(err) {
		t.Fatalf("conflict not classified: %v", err)
	}
}

func TestStreamRepoListExpired(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	ctx := context.Background()
	dbc := dbctx.WithTx(ctx, tx)

	repo := NewStreamRepo(gdb, testutil.Logger(t))

	userID := uuid.New()
	th := testutil.SeedThread(t, ctx, tx, userID)

	old := time.Now().UTC().Add(-45 * time.Minute)
	fresh := time.Now().UTC().Add(-1 * time.Minute)

	mkStream := func(seq int64, status string, createdAt time.Time) *types.Stream {
		msg := testutil.SeedMessage(t, ctx, tx, th.ID, userID, seq, types.MessageRoleAssistant, types.MessageStatusSubmitted)
		s := &types.Stream{
			ID:        uuid.New(),
			UserID:    userID,
			ThreadID:  th.ID,
			MessageID: msg.ID,
			Status:    status,
			CreatedAt: createdAt,
			UpdatedAt: createdAt,
		}
		if err := repo.Create(dbc, s); err != nil {
			t.Fatalf("Create seq=%d: %v", seq, err)
		}
		return s
	}

	abandoned := mkStream(1, types.StreamStatusStreaming, old)
	mkStream(2, types.StreamStatusStreaming, fresh)
	mkStream(3, types.StreamStatusDone, old)

	expired, err := repo.ListExpired(dbc, 20*time.Minute, 10)
	if err != nil {
		t.Fatalf("ListExpired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != abandoned.ID {
		t.Fatalf("expired=%d rows, want only the abandoned stream", len(expired))
	}

	// limit is respected
	mkStream(4, types.StreamStatusPending, old.Add(-time.Minute))
	expired, err = repo.ListExpired(dbc, 20*time.Minute, 1)
	if err != nil || len(expired) != 1 {
		t.Fatalf("ListExpired limited: n=%d err=%v", len(expired), err)
	}
}
