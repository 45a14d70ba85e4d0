package handlers

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/edforge/edforge-backend/internal/pkg/logger"
	"github.com/edforge/edforge-backend/internal/requestdata"
	"github.com/edforge/edforge-backend/internal/sse"
)

// RealtimeHandler owns the SSE endpoints. One stream per user; subscribe and
// unsubscribe mutate that stream's channel set between requests.
type RealtimeHandler struct {
	log *logger.Logger
	hub *sse.Hub

	mu      sync.RWMutex
	clients map[uuid.UUID]*sse.Client // key: user id
}

func NewRealtimeHandler(log *logger.Logger, hub *sse.Hub) *RealtimeHandler {
	return &RealtimeHandler{
		log:     log.With("handler", "RealtimeHandler"),
		hub:     hub,
		clients: make(map[uuid.UUID]*sse.Client),
	}
}

// GET /sse/stream?generation_id=...
func (h *RealtimeHandler) Stream(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("not authenticated"))
		return
	}
	userID := rd.UserID

	h.mu.Lock()
	if existing, ok := h.clients[userID]; ok {
		h.hub.CloseClient(existing)
		delete(h.clients, userID)
	}
	client := h.hub.NewClient(userID)
	h.clients[userID] = client
	h.mu.Unlock()

	if raw := c.Query("generation_id"); raw != "" {
		if genID, err := uuid.Parse(raw); err == nil {
			h.hub.AddChannel(client, sse.GenerationChannel(genID))
		}
	}

	h.log.Info("sse stream open", "user_id", userID.String(), "client_id", client.ID.String())
	h.hub.ServeHTTP(c.Writer, c.Request, client)

	h.mu.Lock()
	if h.clients[userID] == client {
		delete(h.clients, userID)
	}
	h.mu.Unlock()
	h.hub.CloseClient(client)
}

type subscribeRequest struct {
	GenerationID uuid.UUID `json:"generation_id"`
}

// POST /sse/subscribe
func (h *RealtimeHandler) Subscribe(c *gin.Context) {
	client, req, ok := h.clientAndRequest(c)
	if !ok {
		return
	}
	channel := sse.GenerationChannel(req.GenerationID)
	h.hub.AddChannel(client, channel)
	RespondOK(c, gin.H{"message": "subscribed", "channel": channel})
}

// POST /sse/unsubscribe
func (h *RealtimeHandler) Unsubscribe(c *gin.Context) {
	client, req, ok := h.clientAndRequest(c)
	if !ok {
		return
	}
	channel := sse.GenerationChannel(req.GenerationID)
	h.hub.RemoveChannel(client, channel)
	RespondOK(c, gin.H{"message": "unsubscribed", "channel": channel})
}

func (h *RealtimeHandler) clientAndRequest(c *gin.Context) (*sse.Client, subscribeRequest, bool) {
	var req subscribeRequest
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("not authenticated"))
		return nil, req, false
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.GenerationID == uuid.Nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", errors.New("generation_id required"))
		return nil, req, false
	}

	h.mu.RLock()
	client, ok := h.clients[rd.UserID]
	h.mu.RUnlock()
	if !ok {
		RespondError(c, http.StatusConflict, "no_active_stream", errors.New("no active SSE connection"))
		return nil, req, false
	}
	return client, req, true
}
