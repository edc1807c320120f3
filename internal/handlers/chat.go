package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/models"
	"messaging-service/internal/service"
)

// DeliveryInfo is advertised to clients so they do not hardcode poll cadence.
type DeliveryInfo struct {
	PushMode          string
	AdminPollInterval time.Duration
	UserPollInterval  time.Duration
}

// ChatHandler manages support conversation endpoints.
type ChatHandler struct {
	chat     *service.ChatService
	delivery DeliveryInfo
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(chat *service.ChatService, delivery DeliveryInfo) *ChatHandler {
	return &ChatHandler{chat: chat, delivery: delivery}
}

// RegisterRoutes mounts the chat endpoints on an authenticated group.
func (h *ChatHandler) RegisterRoutes(rg gin.IRoutes, admin gin.HandlerFunc) {
	rg.POST("/send-message", h.SendMessage)
	rg.GET("/messages", h.ListMessages)
	rg.POST("/mark-read", h.MarkRead)
	rg.GET("/unread-count", h.UnreadCount)
	rg.GET("/support-conversation", h.SupportConversation)
	rg.GET("/conversations", admin, h.ListConversations)
	rg.POST("/conversations/:id/archive", admin, h.Archive)
	rg.GET("/config/delivery", h.DeliveryConfig)
}

type conversationRef struct {
	ConversationID      int64 `json:"conversation_id"`
	ConversationIDCamel int64 `json:"conversationId"`
}

func (r conversationRef) id() int64 {
	if r.ConversationID != 0 {
		return r.ConversationID
	}
	return r.ConversationIDCamel
}

// SendMessage appends a message. Users without a conversation get one created.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	var req struct {
		conversationRef
		Body string `json:"body" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}

	msg, err := h.chat.Send(c.Request.Context(), who, req.id(), req.Body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// ListMessages returns a page of a conversation, oldest first.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	conversationID, ok := queryID(c, "conversation_id", "conversationId")
	if !ok {
		return
	}
	beforeID, ok := queryID(c, "before_id", "")
	if !ok {
		return
	}
	afterID, ok := queryID(c, "after_id", "")
	if !ok {
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	msgs, err := h.chat.ListMessages(c.Request.Context(), who, conversationID, models.Page{
		Limit:    limit,
		BeforeID: beforeID,
		AfterID:  afterID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// MarkRead flips the caller's unread messages in a conversation.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	var req conversationRef
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	updated, err := h.chat.MarkConversationRead(c.Request.Context(), who, req.id())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (h *ChatHandler) UnreadCount(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	conversationID, ok := queryID(c, "conversation_id", "conversationId")
	if !ok {
		return
	}
	count, err := h.chat.UnreadCount(c.Request.Context(), who, conversationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

// SupportConversation returns the caller's active conversation, creating it lazily.
func (h *ChatHandler) SupportConversation(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	if who.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "only users have a support conversation"})
		return
	}
	conv, err := h.chat.GetOrCreateSupportConversation(c.Request.Context(), who.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// ListConversations is the admin inbox.
func (h *ChatHandler) ListConversations(c *gin.Context) {
	summaries, err := h.chat.ListConversationsForAdmin(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

func (h *ChatHandler) Archive(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	conv, err := h.chat.Archive(c.Request.Context(), who, conversationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *ChatHandler) DeliveryConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"push_mode":           h.delivery.PushMode,
		"admin_poll_interval": h.delivery.AdminPollInterval.Milliseconds(),
		"user_poll_interval":  h.delivery.UserPollInterval.Milliseconds(),
	})
}
