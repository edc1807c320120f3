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

// CreateOutcome tells how CreateOrGetActive resolved.
type CreateOutcome int

const (
	OutcomeExisting CreateOutcome = iota
	OutcomeCreated
	// OutcomeRaceLost means a concurrent caller created the row first and it was re-fetched.
	OutcomeRaceLost
)

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	CreateOrGetActive(ctx context.Context, userID int64) (models.Conversation, CreateOutcome, error)
	GetConversation(ctx context.Context, conversationID int64) (models.Conversation, error)
	GetActiveForUser(ctx context.Context, userID int64) (models.Conversation, error)
	ListSummaries(ctx context.Context) ([]models.ConversationSummary, error)
	Archive(ctx context.Context, conversationID int64) (models.Conversation, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `id, user_id, created_at, last_activity_at, archived_at`

// CreateOrGetActive returns the user's active conversation, inserting it when absent.
// Uniqueness is enforced by the partial unique index on user_id; losing the insert
// race re-fetches the winner's row.
func (r *ConversationRepo) CreateOrGetActive(ctx context.Context, userID int64) (models.Conversation, CreateOutcome, error) {
	conv, err := r.GetActiveForUser(ctx, userID)
	if err == nil {
		return conv, OutcomeExisting, nil
	}
	if !errors.Is(err, ErrConversationNotFound) {
		return models.Conversation{}, OutcomeExisting, err
	}

	err = r.db.GetContext(ctx, &conv, `INSERT INTO conversations (user_id) VALUES ($1) RETURNING `+conversationColumns, userID)
	if err == nil {
		return conv, OutcomeCreated, nil
	}
	if !isUniqueViolation(err) {
		return models.Conversation{}, OutcomeExisting, fmt.Errorf("insert conversation: %w", err)
	}

	conv, err = r.GetActiveForUser(ctx, userID)
	if err != nil {
		return models.Conversation{}, OutcomeExisting, fmt.Errorf("refetch conversation after conflict: %w", err)
	}
	return conv, OutcomeRaceLost, nil
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID int64) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// GetActiveForUser fetches the user's non-archived conversation.
func (r *ConversationRepo) GetActiveForUser(ctx context.Context, userID int64) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE user_id=$1 AND archived_at IS NULL`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

type summaryRow struct {
	models.Conversation
	UnreadCount   int            `db:"unread_count"`
	MsgID         sql.NullInt64  `db:"msg_id"`
	MsgSenderID   sql.NullInt64  `db:"msg_sender_id"`
	MsgSenderRole sql.NullString `db:"msg_sender_role"`
	MsgBody       sql.NullString `db:"msg_body"`
	MsgCreatedAt  sql.NullTime   `db:"msg_created_at"`
	MsgIsRead     sql.NullBool   `db:"msg_is_read"`
	MsgReadAt     sql.NullTime   `db:"msg_read_at"`
}

// ListSummaries returns every conversation, most recently active first, with the
// latest message and the admin-side unread count.
func (r *ConversationRepo) ListSummaries(ctx context.Context) ([]models.ConversationSummary, error) {
	query := `SELECT c.id, c.user_id, c.created_at, c.last_activity_at, c.archived_at,
            lm.id AS msg_id, lm.sender_id AS msg_sender_id, lm.sender_role AS msg_sender_role,
            lm.body AS msg_body, lm.created_at AS msg_created_at, lm.is_read AS msg_is_read,
            lm.read_at AS msg_read_at,
            COALESCE(uc.unread_count, 0) AS unread_count
        FROM conversations c
        LEFT JOIN LATERAL (
            SELECT id, sender_id, sender_role, body, created_at, is_read, read_at
            FROM messages WHERE conversation_id = c.id
            ORDER BY id DESC LIMIT 1
        ) lm ON TRUE
        LEFT JOIN LATERAL (
            SELECT COUNT(*) AS unread_count FROM messages
            WHERE conversation_id = c.id AND sender_role = 'user' AND is_read = FALSE
        ) uc ON TRUE
        ORDER BY c.last_activity_at DESC, c.id DESC`

	var rows []summaryRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list conversation summaries: %w", err)
	}

	result := make([]models.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		summary := models.ConversationSummary{Conversation: row.Conversation, UnreadForAdmin: row.UnreadCount}
		if row.MsgID.Valid {
			msg := &models.Message{
				ID:             row.MsgID.Int64,
				ConversationID: row.ID,
				SenderID:       row.MsgSenderID.Int64,
				SenderRole:     models.Role(row.MsgSenderRole.String),
				Body:           row.MsgBody.String,
				CreatedAt:      row.MsgCreatedAt.Time,
				IsRead:         row.MsgIsRead.Bool,
			}
			if row.MsgReadAt.Valid {
				readAt := row.MsgReadAt.Time
				msg.ReadAt = &readAt
			}
			summary.LatestMessage = msg
		}
		result = append(result, summary)
	}
	return result, nil
}

// Archive soft-archives a conversation. Archiving twice keeps the first timestamp.
func (r *ConversationRepo) Archive(ctx context.Context, conversationID int64) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `UPDATE conversations SET archived_at = COALESCE(archived_at, $2)
        WHERE id=$1 RETURNING `+conversationColumns, conversationID, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}
