package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/notebook-gateway/backend/internal/notebook"
	"github.com/notebook-gateway/backend/internal/session"
	"github.com/notebook-gateway/backend/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the frontend host is pinned down
		return true
	},
}

// WebSocketHandler upgrades attach requests and hands the connection to the
// session manager.
type WebSocketHandler struct {
	manager *session.Manager
	log     *zap.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(manager *session.Manager, log *zap.Logger) *WebSocketHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebSocketHandler{manager: manager, log: log}
}

// RegisterRoutes registers the WebSocket attach route.
func (h *WebSocketHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/session/attach", h.Attach)
}

// Attach handles GET /api/session/attach?path= - upgrades to WebSocket and
// attaches the client to the session for path, creating it on demand.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Query parameter 'path' is required")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := ws.NewClient(uuid.NewString(), path, conn, h.log)
	if err := h.manager.Connect(c.Request.Context(), client); err != nil {
		h.log.Error("session attach failed", zap.String("path", path), zap.Error(err))
		if data, merr := json.Marshal(notebook.NewErrorUpdate("session.attach", "failed to start session")); merr == nil {
			conn.WriteMessage(websocket.TextMessage, data)
		}
		client.Close()
		conn.Close()
		return
	}

	// Run blocks until the connection drops; gin keeps the goroutine.
	client.Run()
}
