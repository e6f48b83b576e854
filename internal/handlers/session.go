package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/session"
	"chat-sync/internal/topics"
)

// SessionHandler exposes the sync session to the UI layer.
type SessionHandler struct {
	session *session.Session
}

// NewSessionHandler builds a SessionHandler.
func NewSessionHandler(sess *session.Session) *SessionHandler {
	return &SessionHandler{session: sess}
}

// GetState returns the current observable state snapshot.
func (h *SessionHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Snapshot())
}

// SelectPeer switches the active conversation.
func (h *SessionHandler) SelectPeer(c *gin.Context) {
	var req struct {
		Peer string `json:"peer"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.session.SelectPeer(req.Peer); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, topics.ErrInvalidConversation) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"peer": req.Peer})
}

// Send queues a message to the active peer. Confirmation arrives through
// the state stream once the push echo is reconciled.
func (h *SessionHandler) Send(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.session.Send(req.Content); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrNoActivePeer) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusAccepted)
}

// RetryHistory re-fetches history for the active peer.
func (h *SessionHandler) RetryHistory(c *gin.Context) {
	if err := h.session.RetryHistory(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

// SetTyping updates the local typing indicator.
func (h *SessionHandler) SetTyping(c *gin.Context) {
	var req struct {
		Typing bool `json:"typing"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.session.SetTyping(req.Typing); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
