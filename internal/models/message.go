package models

import "time"

// Message is an immutable chat entry authored by exactly one role.
type Message struct {
	ID             int64      `db:"id" json:"id"`
	ConversationID int64      `db:"conversation_id" json:"conversation_id"`
	SenderID       int64      `db:"sender_id" json:"sender_id"`
	SenderRole     Role       `db:"sender_role" json:"sender_role"`
	Body           string     `db:"body" json:"body"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	IsRead         bool       `db:"is_read" json:"is_read"`
	ReadAt         *time.Time `db:"read_at" json:"read_at,omitempty"`
}

// Sender returns the tagged sender for the message.
func (m Message) Sender() (Sender, error) {
	return NewSender(m.SenderRole, m.SenderID)
}

// Page selects a window of a conversation's messages. BeforeID and AfterID are
// exclusive id cursors; at most one of them is set.
type Page struct {
	Limit    int
	BeforeID int64
	AfterID  int64
}

// Event types pushed to conversation subscribers.
const (
	EventMessage = "message"
	EventRead    = "read"
)

// ConversationEvent is fanned out to push subscribers of a conversation.
type ConversationEvent struct {
	Type           string   `json:"type"`
	ConversationID int64    `json:"conversation_id"`
	Message        *Message `json:"message,omitempty"`
	ReaderRole     Role     `json:"reader_role,omitempty"`
	Count          int64    `json:"count,omitempty"`
}
