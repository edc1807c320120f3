package models

import "time"

// Conversation is the single support thread between one user and the admin pool.
type Conversation struct {
	ID             int64      `db:"id" json:"id"`
	UserID         int64      `db:"user_id" json:"user_id"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	LastActivityAt time.Time  `db:"last_activity_at" json:"last_activity_at"`
	ArchivedAt     *time.Time `db:"archived_at" json:"archived_at,omitempty"`
}

// Archived reports whether the conversation was soft-archived.
func (c Conversation) Archived() bool {
	return c.ArchivedAt != nil
}

// ConversationSummary is the admin inbox row for a conversation.
type ConversationSummary struct {
	Conversation
	UserName       string   `db:"-" json:"user_name,omitempty"`
	LatestMessage  *Message `db:"-" json:"latest_message,omitempty"`
	LatestPreview  string   `db:"-" json:"latest_preview"`
	LatestSender   string   `db:"-" json:"latest_sender,omitempty"`
	UnreadForAdmin int      `db:"unread_count" json:"unread_count"`
}
