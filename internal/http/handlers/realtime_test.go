package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lumenchat/lumen-backend/internal/platform/ctxutil"
	"github.com/lumenchat/lumen-backend/internal/realtime"
)

func newRealtimeTestServer(t *testing.T, userID uuid.UUID) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := NewRealtimeHandler(newTestLogger(t), realtime.NewSSEHub(newTestLogger(t)))
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{UserID: userID}))
		c.Next()
	})
	r.GET("/api/sse/stream", h.SSEStream)
	r.POST("/api/sse/subscribe", h.SSESubscribe)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func TestSSEStreamReconnectKeepsReplacementRegistered(t *testing.T) {
	userID := uuid.New()
	ts := newRealtimeTestServer(t, userID)

	clientID := uuid.New()
	streamURL := ts.URL + "/api/sse/stream?client_id=" + clientID.String()

	subscribe := func() int {
		body, err := json.Marshal(map[string]any{"client_id": clientID, "channel": "updates"})
		if err != nil {
			t.Fatalf("marshal subscribe body: %v", err)
		}
		resp, err := http.Post(ts.URL+"/api/sse/subscribe", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		defer resp.Body.Close()
		return resp.StatusCode
	}

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		resp, err := http.Get(streamURL)
		if err == nil {
			resp.Body.Close()
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for subscribe() != http.StatusOK {
		if time.Now().After(deadline) {
			t.Fatalf("first connection never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Reconnect with the same client_id; this kicks the first handler out.
	ctx, cancel := context.WithCancel(context.Background())
	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
		if err != nil {
			return
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
		}
	}()

	select {
	case <-firstDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("first connection did not close after the reconnect")
	}

	// The unwinding first handler must not evict the reconnect's
	// registration.
	if code := subscribe(); code != http.StatusOK {
		t.Fatalf("subscribe after reconnect: status=%d, want 200", code)
	}

	cancel()
	select {
	case <-secondDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("second connection did not close")
	}
}
