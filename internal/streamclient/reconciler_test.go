package streamclient

import (
	"context"
	"testing"
	"time"

	types "github.com/lumenchat/lumen-backend/internal/domain"
)

func TestLiveReconcilerSwitchesToDurable(t *testing.T) {
	srv := newFakeStreamServer()
	srv.live = []types.Envelope{
		srv.textEnvelope(0, "The answer "),
		srv.textEnvelope(1, "is 42."),
		srv.endEnvelope(2),
	}
	srv.replay = srv.live
	c, _ := newTestClient(t, srv)

	r := NewLiveReconciler(c, newTestLogger(t), ReconcilerOptions{StreamID: srv.streamID})
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	view := r.View()
	if view.Source != SourceDurable {
		t.Fatalf("source=%q, want durable after the live feed closed", view.Source)
	}
	if view.Status != types.StreamStatusDone {
		t.Fatalf("status=%q", view.Status)
	}
	if view.MessageID != srv.messageID {
		t.Fatalf("message_id=%s", view.MessageID)
	}
	if len(view.Parts) != 1 || view.Parts[0].Text != "The answer is 42." {
		t.Fatalf("parts=%+v", view.Parts)
	}
	if view.LastSeq != 2 {
		t.Fatalf("last_seq=%d", view.LastSeq)
	}
}

func TestLiveReconcilerRecoversFromDroppedFeed(t *testing.T) {
	srv := newFakeStreamServer()
	// Live connection drops after one delta, no terminal event. The full
	// log is only on the durable side.
	srv.live = []types.Envelope{srv.textEnvelope(0, "partial")}
	srv.replay = []types.Envelope{
		srv.textEnvelope(0, "partial"),
		srv.textEnvelope(1, " then the rest"),
		srv.endEnvelope(2),
	}
	c, _ := newTestClient(t, srv)

	r := NewLiveReconciler(c, newTestLogger(t), ReconcilerOptions{StreamID: srv.streamID})
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	view := r.View()
	if view.Source != SourceDurable || view.Status != types.StreamStatusDone {
		t.Fatalf("source=%q status=%q", view.Source, view.Status)
	}
	if len(view.Parts) != 1 || view.Parts[0].Text != "partial then the rest" {
		t.Fatalf("parts=%+v", view.Parts)
	}
}

func TestLiveReconcilerKeepsGoingWhileReplayIsMidStream(t *testing.T) {
	srv := newFakeStreamServer()
	// Both the live feed and the first replay end without a terminal
	// envelope: the producer is still writing. Run must not settle on
	// that half-finished view.
	srv.live = []types.Envelope{srv.textEnvelope(0, "half ")}
	srv.replay = []types.Envelope{
		srv.textEnvelope(0, "half "),
		srv.textEnvelope(1, "way"),
	}
	c, _ := newTestClient(t, srv)

	r := NewLiveReconciler(c, newTestLogger(t), ReconcilerOptions{
		StreamID:     srv.streamID,
		PollInterval: 10 * time.Millisecond,
	})

	go func() {
		time.Sleep(30 * time.Millisecond)
		srv.mu.Lock()
		srv.replay = append(srv.replay, srv.textEnvelope(2, " there"), srv.endEnvelope(3))
		srv.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	view := r.View()
	if view.Status != types.StreamStatusDone {
		t.Fatalf("status=%q, want done once the log has a terminal envelope", view.Status)
	}
	if view.Source != SourceDurable {
		t.Fatalf("source=%q", view.Source)
	}
	if len(view.Parts) != 1 || view.Parts[0].Text != "half way there" {
		t.Fatalf("parts=%+v", view.Parts)
	}
	if view.LastSeq != 3 {
		t.Fatalf("last_seq=%d", view.LastSeq)
	}

	srv.mu.Lock()
	calls := srv.replayCalls
	srv.mu.Unlock()
	if calls < 2 {
		t.Fatalf("expected at least 2 replay fetches, got %d", calls)
	}
}

func TestLiveReconcilerViewDuringStreaming(t *testing.T) {
	srv := newFakeStreamServer()
	srv.live = []types.Envelope{srv.textEnvelope(0, "hello")}
	srv.replay = []types.Envelope{srv.textEnvelope(0, "hello")}
	c, _ := newTestClient(t, srv)

	r := NewLiveReconciler(c, newTestLogger(t), ReconcilerOptions{StreamID: srv.streamID}).(*liveReconciler)
	if err := r.followLive(context.Background()); err != nil {
		t.Fatalf("follow live: %v", err)
	}

	view := r.View()
	if view.Source != SourceLive {
		t.Fatalf("source=%q, want live while the feed is open", view.Source)
	}
	if view.Status != types.StreamStatusStreaming {
		t.Fatalf("status=%q", view.Status)
	}
	if len(view.Parts) != 1 || view.Parts[0].Text != "hello" {
		t.Fatalf("parts=%+v", view.Parts)
	}
}

func TestPollReconcilerPollsUntilTerminal(t *testing.T) {
	srv := newFakeStreamServer()
	srv.replay = []types.Envelope{srv.textEnvelope(0, "slow ")}
	c, _ := newTestClient(t, srv)

	r := NewPollReconciler(c, newTestLogger(t), ReconcilerOptions{
		StreamID:     srv.streamID,
		PollInterval: 10 * time.Millisecond,
	})

	// Finish the stream server-side after the first replay has no
	// terminal envelope.
	go func() {
		time.Sleep(30 * time.Millisecond)
		srv.mu.Lock()
		srv.replay = append(srv.replay, srv.textEnvelope(1, "reply"), srv.endEnvelope(2))
		srv.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	view := r.View()
	if view.Source != SourceDurable || view.Status != types.StreamStatusDone {
		t.Fatalf("source=%q status=%q", view.Source, view.Status)
	}
	if len(view.Parts) != 1 || view.Parts[0].Text != "slow reply" {
		t.Fatalf("parts=%+v", view.Parts)
	}

	srv.mu.Lock()
	calls := srv.replayCalls
	srv.mu.Unlock()
	if calls < 2 {
		t.Fatalf("expected at least 2 replay fetches, got %d", calls)
	}
}

func TestReconcilerReportsStreamError(t *testing.T) {
	srv := newFakeStreamServer()
	srv.replay = []types.Envelope{
		srv.textEnvelope(0, "partial output"),
		srv.envelope(1, nil, &types.ControlEvent{Type: types.ControlStreamError, Message: "producer failed"}),
	}
	c, _ := newTestClient(t, srv)

	r := NewPollReconciler(c, newTestLogger(t), ReconcilerOptions{
		StreamID:     srv.streamID,
		PollInterval: 10 * time.Millisecond,
	})
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	view := r.View()
	if view.Status != types.StreamStatusError {
		t.Fatalf("status=%q", view.Status)
	}
	if view.Error != "producer failed" {
		t.Fatalf("error=%q", view.Error)
	}
	if len(view.Parts) != 1 || view.Parts[0].Text != "partial output" {
		t.Fatalf("parts=%+v", view.Parts)
	}
}
