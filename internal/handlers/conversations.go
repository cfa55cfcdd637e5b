package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"atelier/internal/conversations"
	"atelier/internal/middleware"
	"atelier/internal/models"
)

// ConversationService is the messaging API the handlers depend on.
type ConversationService interface {
	ListConversations(ctx context.Context, viewer string) ([]models.Conversation, error)
	Thread(ctx context.Context, viewer, counterpart string) ([]models.Message, error)
	MarkRead(ctx context.Context, viewer, counterpart string) (int64, error)
	SendMessage(ctx context.Context, viewer, counterpart, content string) (models.Message, error)
}

// ConversationHandler manages inbox endpoints.
type ConversationHandler struct {
	svc ConversationService
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(svc ConversationService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// Register mounts the conversation routes on rg.
func (h *ConversationHandler) Register(rg gin.IRoutes) {
	rg.GET("/conversations", h.ListConversations)
	rg.GET("/conversations/:user_id/messages", h.GetMessages)
	rg.POST("/conversations/:user_id/messages", h.PostMessage)
	rg.POST("/conversations/:user_id/read", h.MarkRead)
}

// ListConversations returns the caller's inbox, optionally filtered by name.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	list, err := h.svc.ListConversations(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations.Filter(list, c.Query("q"))})
}

// GetMessages returns the thread with user_id, oldest first.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	msgs, err := h.svc.Thread(c.Request.Context(), middleware.UserID(c), c.Param("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage sends a message to user_id.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.svc.SendMessage(c.Request.Context(), middleware.UserID(c), c.Param("user_id"), req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkRead marks every message from user_id to the caller as read.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	n, err := h.svc.MarkRead(c.Request.Context(), middleware.UserID(c), c.Param("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}
