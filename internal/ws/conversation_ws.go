package ws

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"messaging-service/internal/apperr"
	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

// AccessChecker decides whether a caller may observe a conversation.
type AccessChecker interface {
	CheckAccess(ctx context.Context, who models.Identity, conversationID int64) error
}

// ConversationWebSocketHandler upgrades conversation views to push subscriptions.
type ConversationWebSocketHandler struct {
	hub      *Hub
	verifier middleware.TokenVerifier
	access   AccessChecker
	log      *zap.Logger
}

func NewConversationWebSocketHandler(hub *Hub, verifier middleware.TokenVerifier, access AccessChecker, log *zap.Logger) *ConversationWebSocketHandler {
	return &ConversationWebSocketHandler{hub: hub, verifier: verifier, access: access, log: log}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, checks ownership, then upgrades and starts a Subscription.
func (h *ConversationWebSocketHandler) Handle(c *gin.Context) {
	conversationID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || conversationID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	ctx, span := otel.Tracer("messaging-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	token, ok := tokenFrom(c.GetHeader("Authorization"), c.Query("token"))
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	identity, err := h.verifier.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	if err := h.access.CheckAccess(ctx, identity, conversationID); err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.PublicMessage(err)})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      identity.UserID,
		Role:        identity.Role,
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   c.GetString("request_id"),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	newSubscription(h.hub, conversationID, conn, info, h.log).Start()
}
