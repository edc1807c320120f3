package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) CreateOrGetActive(ctx context.Context, userID int64) (models.Conversation, repositories.CreateOutcome, error) {
	args := m.Called(ctx, userID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	var outcome repositories.CreateOutcome
	if val := args.Get(1); val != nil {
		outcome = val.(repositories.CreateOutcome)
	}
	return conv, outcome, args.Error(2)
}

func (m *ConversationRepositoryMock) GetConversation(ctx context.Context, conversationID int64) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) GetActiveForUser(ctx context.Context, userID int64) (models.Conversation, error) {
	args := m.Called(ctx, userID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) ListSummaries(ctx context.Context) ([]models.ConversationSummary, error) {
	args := m.Called(ctx)
	var list []models.ConversationSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationSummary)
	}
	return list, args.Error(1)
}

func (m *ConversationRepositoryMock) Archive(ctx context.Context, conversationID int64) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Append(ctx context.Context, conversationID int64, sender models.Sender, body string) (models.Message, error) {
	args := m.Called(ctx, conversationID, sender, body)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, conversationID int64, page models.Page) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, page)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) UnreadCount(ctx context.Context, conversationID int64, viewer models.Role) (int, error) {
	args := m.Called(ctx, conversationID, viewer)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, conversationID int64, viewer models.Role) (int64, error) {
	args := m.Called(ctx, conversationID, viewer)
	return args.Get(0).(int64), args.Error(1)
}

type NotificationRepositoryMock struct {
	mock.Mock
}

func (m *NotificationRepositoryMock) CreateNotification(ctx context.Context, n models.Notification) (models.Notification, error) {
	args := m.Called(ctx, n)
	var out models.Notification
	if val := args.Get(0); val != nil {
		out = val.(models.Notification)
	}
	return out, args.Error(1)
}

func (m *NotificationRepositoryMock) ListForUser(ctx context.Context, userID int64, limit int) ([]models.Notification, error) {
	args := m.Called(ctx, userID, limit)
	var list []models.Notification
	if val := args.Get(0); val != nil {
		list = val.([]models.Notification)
	}
	return list, args.Error(1)
}

func (m *NotificationRepositoryMock) GetNotification(ctx context.Context, notificationID int64) (models.Notification, error) {
	args := m.Called(ctx, notificationID)
	var out models.Notification
	if val := args.Get(0); val != nil {
		out = val.(models.Notification)
	}
	return out, args.Error(1)
}

func (m *NotificationRepositoryMock) MarkRead(ctx context.Context, notificationID, userID int64) error {
	args := m.Called(ctx, notificationID, userID)
	return args.Error(0)
}

func (m *NotificationRepositoryMock) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *NotificationRepositoryMock) DeleteNotification(ctx context.Context, notificationID, userID int64) error {
	args := m.Called(ctx, notificationID, userID)
	return args.Error(0)
}

func (m *NotificationRepositoryMock) UnreadCount(ctx context.Context, userID int64) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type PreferenceRepositoryMock struct {
	mock.Mock
}

func (m *PreferenceRepositoryMock) GetOrCreate(ctx context.Context, userID int64) (models.NotificationPreferences, error) {
	args := m.Called(ctx, userID)
	var prefs models.NotificationPreferences
	if val := args.Get(0); val != nil {
		prefs = val.(models.NotificationPreferences)
	}
	return prefs, args.Error(1)
}

func (m *PreferenceRepositoryMock) Replace(ctx context.Context, prefs models.NotificationPreferences) (models.NotificationPreferences, error) {
	args := m.Called(ctx, prefs)
	var out models.NotificationPreferences
	if val := args.Get(0); val != nil {
		out = val.(models.NotificationPreferences)
	}
	return out, args.Error(1)
}

type UserDirectoryMock struct {
	mock.Mock
}

func (m *UserDirectoryMock) GetUser(ctx context.Context, userID int64) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserDirectoryMock) BulkNames(ctx context.Context, userIDs []int64) (map[int64]string, error) {
	args := m.Called(ctx, userIDs)
	var names map[int64]string
	if val := args.Get(0); val != nil {
		names = val.(map[int64]string)
	}
	return names, args.Error(1)
}

var _ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.NotificationRepository = (*NotificationRepositoryMock)(nil)
var _ repositories.PreferenceRepository = (*PreferenceRepositoryMock)(nil)
var _ repositories.UserDirectory = (*UserDirectoryMock)(nil)
