package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/lumenchat/lumen-backend/internal/domain"
	"github.com/lumenchat/lumen-backend/internal/pkg/dbctx"
	apperrors "github.com/lumenchat/lumen-backend/internal/pkg/errors"
	"github.com/lumenchat/lumen-backend/internal/platform/ctxutil"
)

type replayFixture struct {
	svc      StreamService
	streams  *fakeStreamRepo
	deltas   *fakeStreamDeltaRepo
	userID   uuid.UUID
	streamID uuid.UUID
	row      *types.Stream
}

func newReplayFixture(t *testing.T, status string, rows int) *replayFixture {
	t.Helper()
	userID := uuid.New()
	streamID := uuid.New()
	messageID := uuid.New()
	now := time.Now().UTC()

	row := &types.Stream{
		ID:        streamID,
		UserID:    userID,
		MessageID: messageID,
		ThreadID:  uuid.New(),
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if types.IsStreamTerminalStatus(status) {
		row.CompletedAt = &now
	}

	deltas := &fakeStreamDeltaRepo{}
	for i := 0; i < rows; i++ {
		payload, _ := json.Marshal(types.Part{Type: types.PartTypeText, Text: "chunk "})
		deltas.rows = append(deltas.rows, &types.StreamDelta{
			ID:        uuid.New(),
			StreamID:  streamID,
			MessageID: messageID,
			Seq:       int64(i),
			PartType:  types.PartTypeText,
			Payload:   datatypes.JSON(payload),
			CreatedAt: now,
		})
	}

	streams := newFakeStreamRepo(row)
	svc := NewStreamService(
		nil,
		mustTestLogger(t),
		streams,
		deltas,
		newFakeChatMessageRepo(),
		nil,
		&fakeNotifier{},
		NewStreamRegistry(),
		StreamWriterConfig{},
	)
	return &replayFixture{svc: svc, streams: streams, deltas: deltas, userID: userID, streamID: streamID, row: row}
}

func (fx *replayFixture) dbc() dbctx.Context {
	ctx := ctxutil.WithRequestData(context.Background(), &ctxutil.RequestData{UserID: fx.userID})
	return dbctx.Context{Ctx: ctx}
}

func TestStreamReplayIsIdempotent(t *testing.T) {
	fx := newReplayFixture(t, types.StreamStatusDone, 3)

	first, err := fx.svc.Replay(fx.dbc(), fx.streamID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	second, err := fx.svc.Replay(fx.dbc(), fx.streamID)
	if err != nil {
		t.Fatalf("replay again: %v", err)
	}

	a, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal first: %v", err)
	}
	b, err := json.Marshal(second)
	if err != nil {
		t.Fatalf("marshal second: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("replays differ:\n%s\n%s", a, b)
	}

	if len(first) != 4 {
		t.Fatalf("expected 3 parts + control, got %d envelopes", len(first))
	}
	for i := 0; i < 3; i++ {
		if first[i].Seq != int64(i) || first[i].Part == nil {
			t.Fatalf("envelope %d: %+v", i, first[i])
		}
	}
	last := first[3]
	if last.Event == nil || last.Event.Type != types.ControlStreamEnd || last.Seq != 3 {
		t.Fatalf("terminal envelope: %+v", last)
	}
}

func TestStreamReplayInFlightOmitsTerminal(t *testing.T) {
	fx := newReplayFixture(t, types.StreamStatusStreaming, 2)

	envs, err := fx.svc.Replay(fx.dbc(), fx.streamID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(envs) != 2 {
		t.Fatalf("expected 2 envelopes, got %d", len(envs))
	}
	for _, env := range envs {
		if env.Terminal() {
			t.Fatalf("in-flight replay produced a control event: %+v", env)
		}
	}
}

func TestStreamReplayErrorCarriesMessage(t *testing.T) {
	fx := newReplayFixture(t, types.StreamStatusError, 1)
	fx.row.Error = "producer exploded"

	envs, err := fx.svc.Replay(fx.dbc(), fx.streamID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	last := envs[len(envs)-1]
	if last.Event == nil || last.Event.Type != types.ControlStreamError {
		t.Fatalf("terminal envelope: %+v", last)
	}
	if last.Event.Message != "producer exploded" {
		t.Fatalf("error message=%q", last.Event.Message)
	}
}

func TestStreamGetEnforcesOwnership(t *testing.T) {
	fx := newReplayFixture(t, types.StreamStatusDone, 0)

	otherCtx := ctxutil.WithRequestData(context.Background(), &ctxutil.RequestData{UserID: uuid.New()})
	_, err := fx.svc.Get(dbctx.Context{Ctx: otherCtx}, fx.streamID)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not-found for foreign stream, got %v", err)
	}

	_, err = fx.svc.Get(dbctx.Context{Ctx: context.Background()}, fx.streamID)
	if !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized without request data, got %v", err)
	}
}
