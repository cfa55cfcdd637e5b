package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"atelier/internal/middleware"
	"atelier/internal/models"
)

// RelationshipService is the connection API the handlers depend on.
type RelationshipService interface {
	GetStatus(ctx context.Context, viewer, other string) (*models.ConnectionView, error)
	SendRequest(ctx context.Context, viewer, other string) (models.Connection, error)
	Accept(ctx context.Context, actor, connectionID string) (models.Connection, error)
	Reject(ctx context.Context, actor, connectionID string) (models.Connection, error)
	Count(ctx context.Context, user string) (int, error)
	ListIncoming(ctx context.Context, user string) ([]models.ConnectionEntry, error)
	ListConnections(ctx context.Context, user string) ([]models.ConnectionEntry, error)
}

// ConnectionHandler manages connection endpoints.
type ConnectionHandler struct {
	svc RelationshipService
}

// NewConnectionHandler builds a ConnectionHandler.
func NewConnectionHandler(svc RelationshipService) *ConnectionHandler {
	return &ConnectionHandler{svc: svc}
}

// Register mounts the connection routes on rg.
func (h *ConnectionHandler) Register(rg gin.IRoutes) {
	rg.GET("/connections", h.ListConnections)
	rg.GET("/connections/requests", h.ListRequests)
	rg.GET("/connections/status/:user_id", h.GetStatus)
	rg.POST("/connections/requests", h.SendRequest)
	rg.POST("/connections/:id/accept", h.Accept)
	rg.POST("/connections/:id/reject", h.Reject)
	rg.GET("/users/:user_id/connections/count", h.Count)
}

// ListConnections returns the caller's accepted connections.
func (h *ConnectionHandler) ListConnections(c *gin.Context) {
	entries, err := h.svc.ListConnections(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": entries, "count": len(entries)})
}

// ListRequests returns pending requests sent to the caller.
func (h *ConnectionHandler) ListRequests(c *gin.Context) {
	entries, err := h.svc.ListIncoming(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": entries})
}

// GetStatus returns the caller's view of the pair, or null.
func (h *ConnectionHandler) GetStatus(c *gin.Context) {
	view, err := h.svc.GetStatus(c.Request.Context(), middleware.UserID(c), c.Param("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connection": view})
}

// SendRequest creates a request or returns the live one.
func (h *ConnectionHandler) SendRequest(c *gin.Context) {
	var req struct {
		ReceiverID string `json:"receiver_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	viewer := middleware.UserID(c)
	conn, err := h.svc.SendRequest(c.Request.Context(), viewer, req.ReceiverID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connection": models.ViewFor(conn, viewer)})
}

// Accept accepts a pending request addressed to the caller.
func (h *ConnectionHandler) Accept(c *gin.Context) {
	conn, err := h.svc.Accept(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connection": conn})
}

// Reject rejects a pending request addressed to the caller.
func (h *ConnectionHandler) Reject(c *gin.Context) {
	conn, err := h.svc.Reject(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connection": conn})
}

// Count returns the accepted connection count of any user.
func (h *ConnectionHandler) Count(c *gin.Context) {
	userID := c.Param("user_id")
	n, err := h.svc.Count(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "count": n})
}
