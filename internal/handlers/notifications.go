package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/apperr"
	"messaging-service/internal/service"
)

// NotificationHandler serves the caller's notifications and preferences.
type NotificationHandler struct {
	notifications *service.NotificationService
}

func NewNotificationHandler(notifications *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// RegisterRoutes mounts the notification endpoints on an authenticated group.
func (h *NotificationHandler) RegisterRoutes(rg gin.IRoutes) {
	rg.GET("/notifications", h.List)
	rg.GET("/notifications/unread-count", h.UnreadCount)
	rg.POST("/notifications/mark-read", h.MarkRead)
	rg.POST("/notifications/mark-all-read", h.MarkAllRead)
	rg.DELETE("/notifications/:id", h.Delete)
	rg.GET("/notifications/preferences", h.GetPreferences)
	rg.PUT("/notifications/preferences", h.UpdatePreferences)
	rg.POST("/notifications/preferences/reset", h.ResetPreferences)
}

func (h *NotificationHandler) List(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	items, err := h.notifications.ListForUser(c.Request.Context(), who.UserID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items})
}

func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	count, err := h.notifications.UnreadCount(c.Request.Context(), who.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

// MarkRead marks one notification owned by the caller.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	var req struct {
		NotificationID int64 `json:"notification_id" binding:"required,gt=0"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), who.UserID, req.NotificationID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	updated, err := h.notifications.MarkAllRead(c.Request.Context(), who.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (h *NotificationHandler) Delete(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	notificationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.notifications.Delete(c.Request.Context(), who.UserID, notificationID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *NotificationHandler) GetPreferences(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	prefs, err := h.notifications.GetPreferences(c.Request.Context(), who.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

// UpdatePreferences replaces the whole preference set. The body binds to any JSON value
// so string and numeric flags can be coerced.
func (h *NotificationHandler) UpdatePreferences(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	var payload any
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, apperr.Validation("preferences", "malformed JSON"))
		return
	}
	prefs, err := h.notifications.UpdatePreferences(c.Request.Context(), who.UserID, payload)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

func (h *NotificationHandler) ResetPreferences(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	prefs, err := h.notifications.ResetPreferences(c.Request.Context(), who.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}
