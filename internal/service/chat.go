package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"messaging-service/internal/apperr"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

// ChatDeps wires a ChatService. Broadcaster and Audit may be nil.
type ChatDeps struct {
	Conversations repositories.ConversationRepository
	Messages      repositories.MessageRepository
	Users         repositories.UserDirectory
	Broadcaster   Broadcaster
	Transport     string
	Audit         Auditor
	Log           *zap.Logger
	MaxBodyRunes  int
}

type ChatService struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	users         repositories.UserDirectory
	broadcaster   Broadcaster
	transport     string
	audit         Auditor
	log           *zap.Logger
	maxBodyRunes  int
}

func NewChatService(deps ChatDeps) *ChatService {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	maxRunes := deps.MaxBodyRunes
	if maxRunes <= 0 {
		maxRunes = 5000
	}
	return &ChatService{
		conversations: deps.Conversations,
		messages:      deps.Messages,
		users:         deps.Users,
		broadcaster:   deps.Broadcaster,
		transport:     deps.Transport,
		audit:         deps.Audit,
		log:           log,
		maxBodyRunes:  maxRunes,
	}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return telemetry.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// GetOrCreateSupportConversation returns the user's active conversation, creating it on
// first contact. Concurrent first contacts converge on one row.
func (s *ChatService) GetOrCreateSupportConversation(ctx context.Context, userID int64) (models.Conversation, error) {
	ctx, span := startSpan(ctx, "chat.GetOrCreateSupportConversation", attribute.Int64("user_id", userID))
	defer span.End()

	if _, err := s.users.GetUser(ctx, userID); err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return models.Conversation{}, apperr.NotFound("user")
		}
		return models.Conversation{}, apperr.Internal("failed to load user", err)
	}

	conv, outcome, err := s.conversations.CreateOrGetActive(ctx, userID)
	if err != nil {
		return models.Conversation{}, apperr.Internal("failed to resolve conversation", err)
	}
	switch outcome {
	case repositories.OutcomeCreated:
		s.log.Info("support conversation created", zap.Int64("conversation_id", conv.ID), zap.Int64("user_id", userID))
	case repositories.OutcomeRaceLost:
		observability.IncConversationCreateConflict()
		s.log.Debug("conversation create race resolved by refetch", zap.Int64("conversation_id", conv.ID), zap.Int64("user_id", userID))
	}
	return conv, nil
}

// ListConversationsForAdmin returns every conversation, most recently active first.
func (s *ChatService) ListConversationsForAdmin(ctx context.Context) ([]models.ConversationSummary, error) {
	ctx, span := startSpan(ctx, "chat.ListConversationsForAdmin")
	defer span.End()

	summaries, err := s.conversations.ListSummaries(ctx)
	if err != nil {
		return nil, apperr.Internal("failed to list conversations", err)
	}

	ids := make([]int64, 0, len(summaries))
	seen := make(map[int64]struct{}, len(summaries))
	for _, summary := range summaries {
		if _, ok := seen[summary.UserID]; !ok {
			seen[summary.UserID] = struct{}{}
			ids = append(ids, summary.UserID)
		}
	}
	names, err := s.users.BulkNames(ctx, ids)
	if err != nil {
		s.log.Warn("bulk user names failed", zap.Error(err))
		names = map[int64]string{}
	}

	for i := range summaries {
		summaries[i].UserName = names[summaries[i].UserID]
		if msg := summaries[i].LatestMessage; msg != nil {
			summaries[i].LatestPreview = Preview(msg.Body)
			if sender, err := msg.Sender(); err == nil {
				summaries[i].LatestSender = models.SenderLabel(sender, summaries[i].UserName)
			}
		}
	}
	return summaries, nil
}

// Preview shortens a body to PreviewRunes runes.
func Preview(body string) string {
	if utf8.RuneCountInString(body) <= PreviewRunes {
		return body
	}
	runes := []rune(body)
	return string(runes[:PreviewRunes]) + "…"
}

// Send appends a message on behalf of the caller. A zero conversationID makes users
// write to their support conversation; admins must name one.
func (s *ChatService) Send(ctx context.Context, who models.Identity, conversationID int64, body string) (models.Message, error) {
	ctx, span := startSpan(ctx, "chat.Send", attribute.Int64("conversation_id", conversationID), attribute.String("role", string(who.Role)))
	defer span.End()

	body = strings.TrimSpace(body)
	if body == "" {
		return models.Message{}, apperr.Validation("body", "must not be empty")
	}
	if utf8.RuneCountInString(body) > s.maxBodyRunes {
		return models.Message{}, apperr.Validation("body", fmt.Sprintf("must be at most %d characters", s.maxBodyRunes))
	}

	sender, err := who.Sender()
	if err != nil {
		return models.Message{}, apperr.Forbidden("unknown role")
	}

	var (
		conv     models.Conversation
		resolved bool
	)
	switch sender.(type) {
	case models.UserSender:
		if conversationID == 0 {
			resolved = true
			conv, err = s.GetOrCreateSupportConversation(ctx, who.UserID)
		} else {
			conv, err = s.authorize(ctx, who, conversationID, true)
		}
	case models.AdminSender:
		if conversationID == 0 {
			return models.Message{}, apperr.Validation("conversation_id", "required for admins")
		}
		conv, err = s.authorize(ctx, who, conversationID, true)
	default:
		panic(fmt.Sprintf("unhandled sender %T", sender))
	}
	if err != nil {
		return models.Message{}, err
	}

	msg, err := s.messages.Append(ctx, conv.ID, sender, body)
	if resolved && errors.Is(err, repositories.ErrConversationArchived) {
		// Archived between resolve and append: the next resolve opens a fresh conversation.
		s.log.Debug("support conversation archived before append, resolving again",
			zap.Int64("conversation_id", conv.ID), zap.Int64("user_id", who.UserID))
		if conv, err = s.GetOrCreateSupportConversation(ctx, who.UserID); err != nil {
			return models.Message{}, err
		}
		msg, err = s.messages.Append(ctx, conv.ID, sender, body)
	}
	switch {
	case errors.Is(err, repositories.ErrConversationNotFound):
		return models.Message{}, apperr.NotFound("conversation")
	case errors.Is(err, repositories.ErrConversationArchived):
		return models.Message{}, apperr.Conflict("conversation archived")
	case err != nil:
		return models.Message{}, apperr.Internal("failed to send message", err)
	}

	observability.IncMessageAppended(string(msg.SenderRole))
	s.publish(ctx, models.ConversationEvent{Type: models.EventMessage, ConversationID: conv.ID, Message: &msg})
	s.emit(ctx, "message.sent", "message appended", who.UserID, map[string]any{
		"conversation_id": conv.ID,
		"message_id":      msg.ID,
		"sender_role":     msg.SenderRole,
	})
	return msg, nil
}

// ListMessages returns a page of messages oldest-first. Users without a conversation
// get an empty list when they do not name one.
func (s *ChatService) ListMessages(ctx context.Context, who models.Identity, conversationID int64, page models.Page) ([]models.Message, error) {
	ctx, span := startSpan(ctx, "chat.ListMessages", attribute.Int64("conversation_id", conversationID))
	defer span.End()

	if page.BeforeID > 0 && page.AfterID > 0 {
		return nil, apperr.ValidationFields(map[string]string{
			"before_id": "cannot be combined with after_id",
			"after_id":  "cannot be combined with before_id",
		})
	}
	page.Limit = clampLimit(page.Limit)

	conv, ok, err := s.resolveForRead(ctx, who, conversationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []models.Message{}, nil
	}

	msgs, err := s.messages.ListMessages(ctx, conv.ID, page)
	if err != nil {
		return nil, apperr.Internal("failed to list messages", err)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

// UnreadCount counts opposite-role messages the caller has not read.
func (s *ChatService) UnreadCount(ctx context.Context, who models.Identity, conversationID int64) (int, error) {
	ctx, span := startSpan(ctx, "chat.UnreadCount", attribute.Int64("conversation_id", conversationID))
	defer span.End()

	conv, ok, err := s.resolveForRead(ctx, who, conversationID)
	if err != nil || !ok {
		return 0, err
	}
	count, err := s.messages.UnreadCount(ctx, conv.ID, who.Role)
	if err != nil {
		return 0, apperr.Internal("failed to count unread messages", err)
	}
	return count, nil
}

// MarkConversationRead marks every opposite-role message as read in one statement and
// reports how many changed. Messages appended afterwards stay unread.
func (s *ChatService) MarkConversationRead(ctx context.Context, who models.Identity, conversationID int64) (int64, error) {
	ctx, span := startSpan(ctx, "chat.MarkConversationRead", attribute.Int64("conversation_id", conversationID))
	defer span.End()

	if conversationID == 0 {
		if who.IsAdmin() {
			return 0, apperr.Validation("conversation_id", "required for admins")
		}
		conv, err := s.conversations.GetActiveForUser(ctx, who.UserID)
		if errors.Is(err, repositories.ErrConversationNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, apperr.Internal("failed to load conversation", err)
		}
		conversationID = conv.ID
	} else if _, err := s.authorize(ctx, who, conversationID, true); err != nil {
		return 0, err
	}

	flipped, err := s.messages.MarkRead(ctx, conversationID, who.Role)
	if err != nil {
		return 0, apperr.Internal("failed to mark conversation read", err)
	}
	observability.AddMarkReadRows(string(who.Role), flipped)
	if flipped > 0 {
		s.publish(ctx, models.ConversationEvent{Type: models.EventRead, ConversationID: conversationID, ReaderRole: who.Role, Count: flipped})
	}
	return flipped, nil
}

// Archive soft-archives a conversation; the user's next contact opens a new one.
func (s *ChatService) Archive(ctx context.Context, who models.Identity, conversationID int64) (models.Conversation, error) {
	ctx, span := startSpan(ctx, "chat.Archive", attribute.Int64("conversation_id", conversationID))
	defer span.End()

	if !who.IsAdmin() {
		return models.Conversation{}, apperr.Forbidden("admin role required")
	}
	conv, err := s.conversations.Archive(ctx, conversationID)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return models.Conversation{}, apperr.NotFound("conversation")
	}
	if err != nil {
		return models.Conversation{}, apperr.Internal("failed to archive conversation", err)
	}
	s.emit(ctx, "conversation.archived", "conversation archived", who.UserID, map[string]any{"conversation_id": conversationID})
	return conv, nil
}

// CheckAccess reports whether the caller may observe the conversation.
func (s *ChatService) CheckAccess(ctx context.Context, who models.Identity, conversationID int64) error {
	_, err := s.authorize(ctx, who, conversationID, false)
	return err
}

// authorize loads a conversation the caller may use. Foreign conversations read as
// NotFound, and as Forbidden when the caller tries to change them.
func (s *ChatService) authorize(ctx context.Context, who models.Identity, conversationID int64, mutate bool) (models.Conversation, error) {
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return models.Conversation{}, apperr.NotFound("conversation")
	}
	if err != nil {
		return models.Conversation{}, apperr.Internal("failed to load conversation", err)
	}
	if who.IsAdmin() || conv.UserID == who.UserID {
		return conv, nil
	}
	if mutate {
		return models.Conversation{}, apperr.Forbidden("conversation belongs to another user")
	}
	return models.Conversation{}, apperr.NotFound("conversation")
}

func (s *ChatService) resolveForRead(ctx context.Context, who models.Identity, conversationID int64) (models.Conversation, bool, error) {
	if conversationID != 0 {
		conv, err := s.authorize(ctx, who, conversationID, false)
		return conv, err == nil, err
	}
	if who.IsAdmin() {
		return models.Conversation{}, false, apperr.Validation("conversation_id", "required for admins")
	}
	conv, err := s.conversations.GetActiveForUser(ctx, who.UserID)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return models.Conversation{}, false, nil
	}
	if err != nil {
		return models.Conversation{}, false, apperr.Internal("failed to load conversation", err)
	}
	return conv, true, nil
}

// publish is best-effort. The write already committed; failures are logged and counted.
func (s *ChatService) publish(ctx context.Context, ev models.ConversationEvent) {
	if s.broadcaster == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.broadcaster.Publish(pubCtx, ev.ConversationID, ev); err != nil {
		observability.IncPushPublishError(s.transport)
		s.log.Warn("push publish failed",
			zap.String("transport", s.transport),
			zap.Int64("conversation_id", ev.ConversationID),
			zap.String("event", ev.Type),
			zap.Error(err))
	}
}

func (s *ChatService) emit(ctx context.Context, action, text string, actorID int64, attrs map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, "INFO", action, text, actorID, attrs)
}
