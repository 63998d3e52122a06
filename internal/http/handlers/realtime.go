package handlers

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/kidslab-backend/internal/http/response"
	"github.com/yungbote/kidslab-backend/internal/platform/apierr"
	"github.com/yungbote/kidslab-backend/internal/platform/ctxutil"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
	"github.com/yungbote/kidslab-backend/internal/realtime"
)

const headerSSEClientID = "X-SSE-Client-Id"

var errNoStream = errors.New("no active SSE connection for this client")

type RealtimeHandler struct {
	log *logger.Logger
	hub *realtime.SSEHub

	mu      sync.RWMutex
	clients map[uuid.UUID]*realtime.SSEClient
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.SSEHub) *RealtimeHandler {
	return &RealtimeHandler{
		log:     log.With("handler", "RealtimeHandler"),
		hub:     hub,
		clients: make(map[uuid.UUID]*realtime.SSEClient),
	}
}

// GET /api/sse/stream?channel=<runId>[,<runId>...]
func (h *RealtimeHandler) SSEStream(c *gin.Context) {
	channels := splitChannels(c.Query("channel"))
	if len(channels) == 0 {
		response.RespondAPIError(c, apierr.BadRequest("channel is required"))
		return
	}
	childID := ctxutil.ChildID(c.Request.Context())

	client := h.hub.NewSSEClient(childID)
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
	for _, ch := range channels {
		h.hub.AddChannel(client, ch)
	}
	h.log.Debug("SSEStream open", "client_id", client.ID.String(), "child_id", childID, "channels", channels)

	c.Writer.Header().Set(headerSSEClientID, client.ID.String())
	h.hub.ServeHTTP(c.Writer, c.Request, client)

	h.mu.Lock()
	delete(h.clients, client.ID)
	h.mu.Unlock()
	h.hub.CloseClient(client)
}

type channelRequest struct {
	ClientID string `json:"clientId"`
	Channel  string `json:"channel"`
}

// POST /api/sse/subscribe
func (h *RealtimeHandler) SSESubscribe(c *gin.Context) {
	client, channel, ok := h.lookup(c)
	if !ok {
		return
	}
	h.hub.AddChannel(client, channel)
	response.RespondOK(c, gin.H{"message": "subscribed", "channel": channel})
}

// POST /api/sse/unsubscribe
func (h *RealtimeHandler) SSEUnsubscribe(c *gin.Context) {
	client, channel, ok := h.lookup(c)
	if !ok {
		return
	}
	h.hub.RemoveChannel(client, channel)
	response.RespondOK(c, gin.H{"message": "unsubscribed", "channel": channel})
}

func (h *RealtimeHandler) lookup(c *gin.Context) (*realtime.SSEClient, string, bool) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Channel) == "" {
		response.RespondAPIError(c, apierr.BadRequest("invalid channel"))
		return nil, "", false
	}
	id, err := uuid.Parse(req.ClientID)
	if err != nil {
		response.RespondAPIError(c, apierr.BadRequest("invalid clientId"))
		return nil, "", false
	}
	h.mu.RLock()
	client, exists := h.clients[id]
	h.mu.RUnlock()
	if !exists || client.ChildID != ctxutil.ChildID(c.Request.Context()) {
		response.RespondError(c, http.StatusConflict, apierr.CodeNotFound, errNoStream)
		return nil, "", false
	}
	return client, strings.TrimSpace(req.Channel), true
}

func splitChannels(raw string) []string {
	var out []string
	seen := map[string]bool{}
	for _, ch := range strings.Split(raw, ",") {
		ch = strings.TrimSpace(ch)
		if ch == "" || seen[ch] {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	return out
}
