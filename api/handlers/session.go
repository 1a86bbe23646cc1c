// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/notebook-gateway/backend/internal/model"
	"github.com/notebook-gateway/backend/internal/session"
)

// SessionHandler handles HTTP requests for notebook session management.
type SessionHandler struct {
	manager *session.Manager
	log     *zap.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(manager *session.Manager, log *zap.Logger) *SessionHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionHandler{manager: manager, log: log}
}

// CreateSessionRequest represents the request body for creating a session.
type CreateSessionRequest struct {
	Path string `json:"path" binding:"required"`
}

// SessionResponse represents a session in API responses.
type SessionResponse struct {
	Path       string `json:"path"`
	State      string `json:"state"`
	NumClients int    `json:"numClients"`
	LastSaved  string `json:"lastSaved,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// toSessionResponse converts a session to its API representation.
func toSessionResponse(s *session.Session) *SessionResponse {
	resp := &SessionResponse{
		Path:       s.Path(),
		State:      string(s.State()),
		NumClients: s.NumClients(),
		CreatedAt:  s.CreatedAt().Format(time.RFC3339),
	}
	if ls := s.LastSaved(); ls != nil {
		resp.LastSaved = ls.Format(time.RFC3339)
	}
	return resp
}

// RegisterRoutes registers session management routes.
func (h *SessionHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/sessions", h.Create)
	r.GET("/sessions", h.List)
	r.GET("/session", h.Get)
	r.POST("/session/reset", h.Reset)
	r.DELETE("/session", h.Shutdown)
}

// Create handles POST /api/sessions - opens the session for a notebook
// path. A fresh session answers 201; joining a live one answers 200.
func (h *SessionHandler) Create(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	sess, created, err := h.manager.Create(c.Request.Context(), req.Path)
	if err != nil {
		if errors.Is(err, model.ErrPathRequired) {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Notebook path is required")
			return
		}
		h.log.Error("session create failed", zap.String("path", req.Path), zap.Error(err))
		sendError(c, http.StatusInternalServerError, "SESSION_START_FAILED", "Failed to start session")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, toSessionResponse(sess))
}

// List handles GET /api/sessions - lists all live sessions.
func (h *SessionHandler) List(c *gin.Context) {
	sessions := h.manager.List()
	resp := make([]*SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, toSessionResponse(s))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": resp})
}

// Get handles GET /api/session?path= - returns one session's state.
func (h *SessionHandler) Get(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Query parameter 'path' is required")
		return
	}

	sess, err := h.manager.Get(path)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "No session for path: "+path)
			return
		}
		h.log.Error("session lookup failed", zap.String("path", path), zap.Error(err))
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to look up session")
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(sess))
}

// Reset handles POST /api/session/reset?path= - respawns the session kernel.
func (h *SessionHandler) Reset(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Query parameter 'path' is required")
		return
	}

	if err := h.manager.Reset(c.Request.Context(), path); err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "No session for path: "+path)
			return
		}
		h.log.Error("session reset failed", zap.String("path", path), zap.Error(err))
		sendError(c, http.StatusInternalServerError, "RESET_FAILED", "Failed to reset session kernel")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "restarting"})
}

// Shutdown handles DELETE /api/session?path= - terminates a session.
func (h *SessionHandler) Shutdown(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Query parameter 'path' is required")
		return
	}

	if err := h.manager.Shutdown(path); err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "No session for path: "+path)
			return
		}
		h.log.Error("session shutdown failed", zap.String("path", path), zap.Error(err))
		sendError(c, http.StatusInternalServerError, "SHUTDOWN_FAILED", "Failed to shut down session")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "shutdown"})
}
