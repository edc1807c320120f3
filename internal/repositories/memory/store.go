// Package memory provides in-process repository implementations used when
// DB_DSN=memory and by service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

// Store holds every table behind one mutex, so each repository call is atomic.
type Store struct {
	mu sync.Mutex

	now func() time.Time

	nextConversationID int64
	nextMessageID      int64
	nextNotificationID int64

	conversations map[int64]*models.Conversation
	messages      map[int64][]*models.Message
	notifications map[int64]*models.Notification
	preferences   map[int64]models.NotificationPreferences
}

func NewStore() *Store {
	return &Store{
		now:           func() time.Time { return time.Now().UTC() },
		conversations: make(map[int64]*models.Conversation),
		messages:      make(map[int64][]*models.Message),
		notifications: make(map[int64]*models.Notification),
		preferences:   make(map[int64]models.NotificationPreferences),
	}
}

// tick returns a timestamp never earlier than the previous one handed out.
func (s *Store) tick(last time.Time) time.Time {
	t := s.now()
	if !t.After(last) {
		t = last.Add(time.Microsecond)
	}
	return t
}

type ConversationRepo struct{ s *Store }

func NewConversationRepo(s *Store) *ConversationRepo { return &ConversationRepo{s: s} }

func (r *ConversationRepo) CreateOrGetActive(ctx context.Context, userID int64) (models.Conversation, repositories.CreateOutcome, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if conv := r.s.activeFor(userID); conv != nil {
		return *conv, repositories.OutcomeExisting, nil
	}
	r.s.nextConversationID++
	now := r.s.now()
	conv := &models.Conversation{ID: r.s.nextConversationID, UserID: userID, CreatedAt: now, LastActivityAt: now}
	r.s.conversations[conv.ID] = conv
	return *conv, repositories.OutcomeCreated, nil
}

func (s *Store) activeFor(userID int64) *models.Conversation {
	for _, conv := range s.conversations {
		if conv.UserID == userID && conv.ArchivedAt == nil {
			return conv
		}
	}
	return nil
}

func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID int64) (models.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	conv, ok := r.s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, repositories.ErrConversationNotFound
	}
	return *conv, nil
}

func (r *ConversationRepo) GetActiveForUser(ctx context.Context, userID int64) (models.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if conv := r.s.activeFor(userID); conv != nil {
		return *conv, nil
	}
	return models.Conversation{}, repositories.ErrConversationNotFound
}

func (r *ConversationRepo) ListSummaries(ctx context.Context) ([]models.ConversationSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.ConversationSummary, 0, len(r.s.conversations))
	for _, conv := range r.s.conversations {
		summary := models.ConversationSummary{Conversation: *conv}
		msgs := r.s.messages[conv.ID]
		if len(msgs) > 0 {
			latest := *msgs[len(msgs)-1]
			summary.LatestMessage = &latest
		}
		summary.UnreadForAdmin = unread(msgs, models.RoleAdmin)
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].LastActivityAt.After(out[j].LastActivityAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *ConversationRepo) Archive(ctx context.Context, conversationID int64) (models.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	conv, ok := r.s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, repositories.ErrConversationNotFound
	}
	if conv.ArchivedAt == nil {
		now := r.s.now()
		conv.ArchivedAt = &now
	}
	return *conv, nil
}

type MessageRepo struct{ s *Store }

func NewMessageRepo(s *Store) *MessageRepo { return &MessageRepo{s: s} }

func (r *MessageRepo) Append(ctx context.Context, conversationID int64, sender models.Sender, body string) (models.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	conv, ok := r.s.conversations[conversationID]
	if !ok {
		return models.Message{}, repositories.ErrConversationNotFound
	}
	if conv.ArchivedAt != nil {
		return models.Message{}, repositories.ErrConversationArchived
	}
	if body == "" {
		return models.Message{}, fmt.Errorf("insert message: empty body")
	}

	msgs := r.s.messages[conversationID]
	last := conv.LastActivityAt
	if len(msgs) > 0 && msgs[len(msgs)-1].CreatedAt.After(last) {
		last = msgs[len(msgs)-1].CreatedAt
	}
	r.s.nextMessageID++
	msg := &models.Message{
		ID:             r.s.nextMessageID,
		ConversationID: conversationID,
		SenderID:       sender.ID(),
		SenderRole:     sender.Role(),
		Body:           body,
		CreatedAt:      r.s.tick(last),
	}
	r.s.messages[conversationID] = append(msgs, msg)
	conv.LastActivityAt = msg.CreatedAt
	return *msg, nil
}

func (r *MessageRepo) ListMessages(ctx context.Context, conversationID int64, page models.Page) ([]models.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	msgs := r.s.messages[conversationID]

	var window []*models.Message
	switch {
	case page.AfterID > 0:
		for _, m := range msgs {
			if m.ID > page.AfterID {
				window = append(window, m)
			}
		}
		if page.Limit > 0 && len(window) > page.Limit {
			window = window[:page.Limit]
		}
	default:
		for _, m := range msgs {
			if page.BeforeID == 0 || m.ID < page.BeforeID {
				window = append(window, m)
			}
		}
		if page.Limit > 0 && len(window) > page.Limit {
			window = window[len(window)-page.Limit:]
		}
	}

	out := make([]models.Message, 0, len(window))
	for _, m := range window {
		out = append(out, *m)
	}
	return out, nil
}

func (r *MessageRepo) UnreadCount(ctx context.Context, conversationID int64, viewer models.Role) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return unread(r.s.messages[conversationID], viewer), nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, conversationID int64, viewer models.Role) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	var flipped int64
	for _, m := range r.s.messages[conversationID] {
		if m.SenderRole != viewer && !m.IsRead {
			m.IsRead = true
			readAt := now
			m.ReadAt = &readAt
			flipped++
		}
	}
	return flipped, nil
}

func unread(msgs []*models.Message, viewer models.Role) int {
	n := 0
	for _, m := range msgs {
		if m.SenderRole != viewer && !m.IsRead {
			n++
		}
	}
	return n
}

var (
	_ repositories.ConversationRepository = (*ConversationRepo)(nil)
	_ repositories.MessageRepository      = (*MessageRepo)(nil)
	_ repositories.NotificationRepository = (*NotificationRepo)(nil)
	_ repositories.PreferenceRepository   = (*PreferenceRepo)(nil)
	_ repositories.UserDirectory          = (*UserDirectory)(nil)
)
