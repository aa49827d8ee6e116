package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lumenchat/lumen-backend/internal/http/response"
	"github.com/lumenchat/lumen-backend/internal/pkg/dbctx"
	"github.com/lumenchat/lumen-backend/internal/services"
)

type ChatHandler struct {
	chat services.ChatService
}

func NewChatHandler(chat services.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type createThreadReq struct {
	Title string `json:"title"`
}

// POST /api/threads
func (h *ChatHandler) CreateThread(c *gin.Context) {
	var req createThreadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	thread, err := h.chat.CreateThread(dbc, req.Title)
	if err != nil {
		respondServiceError(c, "create_thread_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{"thread": thread})
}

// GET /api/threads?limit=50
func (h *ChatHandler) ListThreads(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	threads, err := h.chat.ListThreads(dbc, limit)
	if err != nil {
		respondServiceError(c, "list_threads_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"threads": threads})
}

// GET /api/threads/:id?limit=50
func (h *ChatHandler) GetThread(c *gin.Context) {
	threadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_thread_id", err)
		return
	}
	limit := queryInt(c, "limit", 50)
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	thread, msgs, err := h.chat.GetThread(dbc, threadID, limit)
	if err != nil {
		respondServiceError(c, "thread_not_found", err)
		return
	}
	response.RespondOK(c, gin.H{"thread": thread, "messages": msgs})
}

// GET /api/threads/:id/messages?limit=50&after_seq=123
//
// after_seq is the polling cursor: passing the highest seq already seen
// returns only newer rows, so a degraded client can follow a thread
// without the push channel.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	threadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_thread_id", err)
		return
	}
	limit := queryInt(c, "limit", 50)
	var after *int64
	if v := strings.TrimSpace(c.Query("after_seq")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			after = &n
		}
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	msgs, err := h.chat.ListThreadMessages(dbc, threadID, limit, after)
	if err != nil {
		respondServiceError(c, "list_messages_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"messages": msgs})
}

type sendMessageReq struct {
	Content        string `json:"content"`
	IdempotencyKey string `json:"idempotency_key"`
}

// POST /api/threads/:id/messages
//
// Returns the created user message, the assistant placeholder, and the
// stream id immediately; the caller follows the generation on
// /api/streams/:id/live.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	threadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_thread_id", err)
		return
	}
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	userMsg, asstMsg, stream, err := h.chat.SendMessage(dbc, threadID, req.Content, req.IdempotencyKey)
	if err != nil {
		respondServiceError(c, "send_message_failed", err)
		return
	}
	payload := gin.H{
		"message":           userMsg,
		"assistant_message": asstMsg,
	}
	if stream != nil {
		payload["stream_id"] = stream.ID
	}
	response.RespondCreated(c, payload)
}

func queryInt(c *gin.Context, name string, def int) int {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
