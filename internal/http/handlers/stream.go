package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lumenchat/lumen-backend/internal/http/response"
	"github.com/lumenchat/lumen-backend/internal/pkg/dbctx"
	"github.com/lumenchat/lumen-backend/internal/platform/logger"
	"github.com/lumenchat/lumen-backend/internal/services"
)

type StreamHandler struct {
	streams services.StreamService
	log     *logger.Logger
}

func NewStreamHandler(streams services.StreamService, log *logger.Logger) *StreamHandler {
	return &StreamHandler{streams: streams, log: log.With("handler", "stream")}
}

// GET /api/streams/:id
func (h *StreamHandler) GetStream(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_stream_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	row, err := h.streams.Get(dbc, streamID)
	if err != nil {
		respondServiceError(c, "stream_not_found", err)
		return
	}
	response.RespondOK(c, gin.H{"stream": row})
}

// GET /api/streams/:id/live
//
// Newline-delimited JSON. The first caller to reach a live writer
// becomes its driven client and receives buffered history followed by
// deltas as they arrive. When the writer is gone or already driven the
// request degrades to a full replay, which is always safe: the delta
// log plus the terminal control event reconstruct the same sequence.
func (h *StreamHandler) Live(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_stream_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	if _, err := h.streams.Get(dbc, streamID); err != nil {
		respondServiceError(c, "stream_not_found", err)
		return
	}

	w, ok := h.streams.Writer(streamID)
	if !ok {
		h.replay(c, streamID)
		return
	}
	history, ch, attached := w.AttachLive()
	if !attached {
		h.replay(c, streamID)
		return
	}
	defer w.DetachLive()

	writeNDJSONHeader(c)
	enc := json.NewEncoder(c.Writer)
	for _, env := range history {
		if err := enc.Encode(env); err != nil {
			return
		}
	}
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case env, open := <-ch:
			if !open {
				return
			}
			if err := enc.Encode(env); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

// GET /api/streams/:id/continue
//
// Full replay of the delta log in seq order, closed by the terminal
// control event when the stream has ended. Used by reconnecting clients
// to catch up after a dropped live feed.
func (h *StreamHandler) Continue(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_stream_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	if _, err := h.streams.Get(dbc, streamID); err != nil {
		respondServiceError(c, "stream_not_found", err)
		return
	}
	h.replay(c, streamID)
}

func (h *StreamHandler) replay(c *gin.Context, streamID uuid.UUID) {
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	envs, err := h.streams.Replay(dbc, streamID)
	if err != nil {
		respondServiceError(c, "stream_replay_failed", err)
		return
	}
	writeNDJSONHeader(c)
	enc := json.NewEncoder(c.Writer)
	for i := range envs {
		if err := enc.Encode(&envs[i]); err != nil {
			return
		}
	}
	c.Writer.Flush()
}

func writeNDJSONHeader(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "application/x-ndjson")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
}
