package repositories

import (
	"errors"

	"github.com/lib/pq"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrConversationArchived = errors.New("conversation archived")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrUserNotFound         = errors.New("user not found")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

var (
	_ ConversationRepository = (*ConversationRepo)(nil)
	_ MessageRepository      = (*MessageRepo)(nil)
	_ NotificationRepository = (*NotificationRepo)(nil)
	_ PreferenceRepository   = (*PreferenceRepo)(nil)
	_ UserDirectory          = (*UserRepo)(nil)
)
