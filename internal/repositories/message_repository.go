package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

// MessageRepository defines interactions for conversation messages and their read state.
type MessageRepository interface {
	Append(ctx context.Context, conversationID int64, sender models.Sender, body string) (models.Message, error)
	ListMessages(ctx context.Context, conversationID int64, page models.Page) ([]models.Message, error)
	UnreadCount(ctx context.Context, conversationID int64, viewer models.Role) (int, error)
	MarkRead(ctx context.Context, conversationID int64, viewer models.Role) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, conversation_id, sender_id, sender_role, body, created_at, is_read, read_at`

// Append stores a message. The conversation row is locked by the activity update so
// ids commit in order within one conversation.
func (r *MessageRepo) Append(ctx context.Context, conversationID int64, sender models.Sender, body string) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var archivedAt sql.NullTime
	err = tx.QueryRowxContext(ctx, `UPDATE conversations SET last_activity_at = clock_timestamp()
        WHERE id=$1 RETURNING archived_at`, conversationID).Scan(&archivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("touch conversation: %w", err)
	}
	if archivedAt.Valid {
		return models.Message{}, ErrConversationArchived
	}

	var msg models.Message
	err = tx.GetContext(ctx, &msg, `INSERT INTO messages (conversation_id, sender_id, sender_role, body)
        VALUES ($1, $2, $3, $4) RETURNING `+messageColumns,
		conversationID, sender.ID(), sender.Role(), body)
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, fmt.Errorf("commit append: %w", err)
	}
	return msg, nil
}

// ListMessages returns one page of messages, always oldest-first.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID int64, page models.Page) ([]models.Message, error) {
	var (
		msgs    []models.Message
		err     error
		reverse bool
	)
	switch {
	case page.AfterID > 0:
		err = r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
            WHERE conversation_id=$1 AND id > $2 ORDER BY id ASC LIMIT $3`,
			conversationID, page.AfterID, page.Limit)
	case page.BeforeID > 0:
		reverse = true
		err = r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
            WHERE conversation_id=$1 AND id < $2 ORDER BY id DESC LIMIT $3`,
			conversationID, page.BeforeID, page.Limit)
	default:
		reverse = true
		err = r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
            WHERE conversation_id=$1 ORDER BY id DESC LIMIT $2`,
			conversationID, page.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if reverse {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	return msgs, nil
}

// UnreadCount counts messages from the opposite role the viewer has not read.
func (r *MessageRepo) UnreadCount(ctx context.Context, conversationID int64, viewer models.Role) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages
        WHERE conversation_id=$1 AND sender_role<>$2 AND is_read=FALSE`, conversationID, viewer)
	return count, err
}

// MarkRead flips every qualifying message in one statement and returns how many changed.
func (r *MessageRepo) MarkRead(ctx context.Context, conversationID int64, viewer models.Role) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_read=TRUE, read_at=$3
        WHERE conversation_id=$1 AND sender_role<>$2 AND is_read=FALSE`,
		conversationID, viewer, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.RowsAffected()
}
