package streamclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/lumenchat/lumen-backend/internal/domain"
	"github.com/lumenchat/lumen-backend/internal/platform/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

// fakeStreamServer serves the client-facing slice of the streaming API:
// live feed, continuation replay, stream record, and thread messages.
type fakeStreamServer struct {
	mu sync.Mutex

	streamID  uuid.UUID
	messageID uuid.UUID
	threadID  uuid.UUID

	live     []types.Envelope
	replay   []types.Envelope
	messages []*types.ChatMessage

	lastAuth    string
	replayCalls int
}

func newFakeStreamServer() *fakeStreamServer {
	return &fakeStreamServer{
		streamID:  uuid.New(),
		messageID: uuid.New(),
		threadID:  uuid.New(),
	}
}

func (f *fakeStreamServer) envelope(seq int64, p *types.Part, ev *types.ControlEvent) types.Envelope {
	return types.Envelope{
		StreamID:  f.streamID,
		MessageID: f.messageID,
		Seq:       seq,
		Timestamp: time.Now().UTC(),
		Part:      p,
		Event:     ev,
	}
}

func (f *fakeStreamServer) textEnvelope(seq int64, text string) types.Envelope {
	return f.envelope(seq, &types.Part{Type: types.PartTypeText, Text: text}, nil)
}

func (f *fakeStreamServer) endEnvelope(seq int64) types.Envelope {
	return f.envelope(seq, nil, &types.ControlEvent{Type: types.ControlStreamEnd, Status: types.StreamStatusDone})
}

func (f *fakeStreamServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/streams/{id}/live", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		envs := append([]types.Envelope(nil), f.live...)
		f.lastAuth = r.Header.Get("Authorization")
		f.mu.Unlock()
		writeNDJSON(w, envs)
	})
	mux.HandleFunc("GET /api/streams/{id}/continue", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.replayCalls++
		envs := append([]types.Envelope(nil), f.replay...)
		f.mu.Unlock()
		writeNDJSON(w, envs)
	})
	mux.HandleFunc("GET /api/streams/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil || id != f.streamID {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"message": "stream not found", "code": "stream_not_found"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"stream": &types.Stream{ID: f.streamID, MessageID: f.messageID, Status: types.StreamStatusStreaming},
		})
	})
	mux.HandleFunc("GET /api/threads/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		out := f.messages
		if v := r.URL.Query().Get("after_seq"); v != "" {
			if after, err := strconv.ParseInt(v, 10, 64); err == nil {
				filtered := make([]*types.ChatMessage, 0, len(out))
				for _, m := range out {
					if m.Seq > after {
						filtered = append(filtered, m)
					}
				}
				out = filtered
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"messages": out})
	})
	return mux
}

func writeNDJSON(w http.ResponseWriter, envs []types.Envelope) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	for i := range envs {
		_ = enc.Encode(&envs[i])
	}
}

func newTestClient(t *testing.T, srv *fakeStreamServer) (*Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)
	c, err := New(newTestLogger(t), Options{BaseURL: ts.URL, Token: "test-token"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, ts
}

func TestContinuationFeedParsesEnvelopes(t *testing.T) {
	srv := newFakeStreamServer()
	srv.replay = []types.Envelope{
		srv.textEnvelope(0, "The answer "),
		srv.textEnvelope(1, "is 42."),
		srv.endEnvelope(2),
	}
	c, _ := newTestClient(t, srv)

	feed, err := c.Continuation(context.Background(), srv.streamID)
	if err != nil {
		t.Fatalf("continuation: %v", err)
	}
	defer feed.Close()

	var envs []*types.Envelope
	for {
		env, err := feed.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		envs = append(envs, env)
	}
	if len(envs) != 3 {
		t.Fatalf("expected 3 envelopes, got %d", len(envs))
	}
	for i, env := range envs {
		if env.Seq != int64(i) {
			t.Fatalf("envelope %d: seq=%d", i, env.Seq)
		}
	}
	if !envs[2].Terminal() {
		t.Fatal("expected terminal envelope last")
	}
}

func TestLiveFeedSendsBearerToken(t *testing.T) {
	srv := newFakeStreamServer()
	srv.live = []types.Envelope{srv.endEnvelope(0)}
	c, _ := newTestClient(t, srv)

	feed, err := c.Live(context.Background(), srv.streamID)
	if err != nil {
		t.Fatalf("live: %v", err)
	}
	_ = feed.Close()

	srv.mu.Lock()
	auth := srv.lastAuth
	srv.mu.Unlock()
	if auth != "Bearer test-token" {
		t.Fatalf("authorization=%q", auth)
	}
}

func TestMessagesAfterSeqCursor(t *testing.T) {
	srv := newFakeStreamServer()
	srv.messages = []*types.ChatMessage{
		{ID: uuid.New(), ThreadID: srv.threadID, Seq: 1, Role: types.MessageRoleUser, Status: types.MessageStatusReady},
		{ID: uuid.New(), ThreadID: srv.threadID, Seq: 2, Role: types.MessageRoleAssistant, Status: types.MessageStatusReady},
	}
	c, _ := newTestClient(t, srv)

	all, err := c.Messages(context.Background(), srv.threadID, nil)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(all))
	}

	after := int64(1)
	newer, err := c.Messages(context.Background(), srv.threadID, &after)
	if err != nil {
		t.Fatalf("messages after_seq: %v", err)
	}
	if len(newer) != 1 || newer[0].Seq != 2 {
		t.Fatalf("expected the seq=2 row, got %+v", newer)
	}
}

func TestStreamNotFoundCarriesServerCode(t *testing.T) {
	srv := newFakeStreamServer()
	c, _ := newTestClient(t, srv)

	_, err := c.Stream(context.Background(), uuid.New())
	if err == nil {
		t.Fatal("expected error for unknown stream")
	}
	var hErr *HTTPError
	if !errors.As(err, &hErr) {
		t.Fatalf("expected *HTTPError, got %T", err)
	}
	if hErr.StatusCode != http.StatusNotFound || hErr.Code != "stream_not_found" {
		t.Fatalf("status=%d code=%q", hErr.StatusCode, hErr.Code)
	}
}
