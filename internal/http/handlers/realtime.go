package handlers

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lumenchat/lumen-backend/internal/platform/ctxutil"
	"github.com/lumenchat/lumen-backend/internal/platform/logger"
	"github.com/lumenchat/lumen-backend/internal/realtime"
)

type RealtimeHandler struct {
	Log *logger.Logger
	Hub *realtime.SSEHub

	mu      sync.RWMutex
	clients map[uuid.UUID]*realtime.SSEClient // key: caller-chosen client_id
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.SSEHub) *RealtimeHandler {
	return &RealtimeHandler{
		Log:     log,
		Hub:     hub,
		clients: make(map[uuid.UUID]*realtime.SSEClient),
	}
}

// SSEStream opens the push connection. The caller supplies a client_id
// so a later subscribe/unsubscribe can address this connection; a
// reconnect with the same id replaces the old connection.
func (h *RealtimeHandler) SSEStream(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	userID := rd.UserID
	clientID, err := uuid.Parse(c.Query("client_id"))
	if err != nil || clientID == uuid.Nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid client_id"})
		return
	}
	h.Log.Info("sse stream open", "user_id", userID.String(), "client_id", clientID.String())

	h.mu.Lock()
	if existing, ok := h.clients[clientID]; ok {
		h.Hub.CloseClient(existing)
		delete(h.clients, clientID)
	}
	client := h.Hub.NewSSEClient(userID)
	client.ID = clientID
	client.Logger = h.Log.With("sse_client_id", client.ID)
	h.clients[clientID] = client
	h.mu.Unlock()

	// Every connection gets the user's own channel; thread and stream
	// events are all published there.
	h.Hub.AddChannel(client, userID.String())

	h.Hub.ServeHTTP(c.Writer, c.Request, client)

	// A reconnect may have replaced this registration already; only
	// evict the entry while it is still ours.
	h.mu.Lock()
	if current, ok := h.clients[clientID]; ok && current == client {
		delete(h.clients, clientID)
	}
	h.mu.Unlock()
	h.Hub.CloseClient(client)
}

func (h *RealtimeHandler) SSESubscribe(c *gin.Context) {
	client, req, ok := h.resolveClient(c)
	if !ok {
		return
	}
	h.Hub.AddChannel(client, req.Channel)
	c.JSON(http.StatusOK, gin.H{"message": "subscribed", "channel": req.Channel})
}

func (h *RealtimeHandler) SSEUnsubscribe(c *gin.Context) {
	client, req, ok := h.resolveClient(c)
	if !ok {
		return
	}
	h.Hub.RemoveChannel(client, req.Channel)
	c.JSON(http.StatusOK, gin.H{"message": "unsubscribed", "channel": req.Channel})
}

type channelReq struct {
	ClientID uuid.UUID `json:"client_id"`
	Channel  string    `json:"channel"`
}

func (h *RealtimeHandler) resolveClient(c *gin.Context) (*realtime.SSEClient, channelReq, bool) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return nil, channelReq{}, false
	}
	var req channelReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Channel == "" || req.ClientID == uuid.Nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client_id or channel"})
		return nil, channelReq{}, false
	}

	h.mu.RLock()
	client, exists := h.clients[req.ClientID]
	h.mu.RUnlock()
	if !exists {
		c.JSON(http.StatusConflict, gin.H{"error": "no active sse connection for this client_id"})
		return nil, channelReq{}, false
	}
	if client.UserID != rd.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return nil, channelReq{}, false
	}
	return client, req, true
}
