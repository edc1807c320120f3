package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

// NotificationRepository persists user notifications.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, n models.Notification) (models.Notification, error)
	ListForUser(ctx context.Context, userID int64, limit int) ([]models.Notification, error)
	GetNotification(ctx context.Context, notificationID int64) (models.Notification, error)
	MarkRead(ctx context.Context, notificationID, userID int64) error
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	DeleteNotification(ctx context.Context, notificationID, userID int64) error
	UnreadCount(ctx context.Context, userID int64) (int, error)
}

type NotificationRepo struct {
	db *sqlx.DB
}

func NewNotificationRepo(db *sqlx.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

const notificationColumns = `id, user_id, title, body, type, priority, is_read, created_at`

func (r *NotificationRepo) CreateNotification(ctx context.Context, n models.Notification) (models.Notification, error) {
	var created models.Notification
	err := r.db.GetContext(ctx, &created, `INSERT INTO notifications (user_id, title, body, type, priority)
        VALUES ($1, $2, $3, $4, $5) RETURNING `+notificationColumns,
		n.UserID, n.Title, n.Body, n.Type, n.Priority)
	if err != nil {
		return models.Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	return created, nil
}

// ListForUser returns the user's notifications newest first.
func (r *NotificationRepo) ListForUser(ctx context.Context, userID int64, limit int) ([]models.Notification, error) {
	var items []models.Notification
	err := r.db.SelectContext(ctx, &items, `SELECT `+notificationColumns+` FROM notifications
        WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`, userID, limit)
	return items, err
}

func (r *NotificationRepo) GetNotification(ctx context.Context, notificationID int64) (models.Notification, error) {
	var n models.Notification
	err := r.db.GetContext(ctx, &n, `SELECT `+notificationColumns+` FROM notifications WHERE id=$1`, notificationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Notification{}, ErrNotificationNotFound
	}
	return n, err
}

// MarkRead is scoped to the owner; a foreign or missing id yields ErrNotificationNotFound.
func (r *NotificationRepo) MarkRead(ctx context.Context, notificationID, userID int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read=TRUE WHERE id=$1 AND user_id=$2`, notificationID, userID)
	if err != nil {
		return err
	}
	return requireAffected(res, ErrNotificationNotFound)
}

func (r *NotificationRepo) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read=TRUE WHERE user_id=$1 AND is_read=FALSE`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteNotification hard-deletes an owned notification.
func (r *NotificationRepo) DeleteNotification(ctx context.Context, notificationID, userID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE id=$1 AND user_id=$2`, notificationID, userID)
	if err != nil {
		return err
	}
	return requireAffected(res, ErrNotificationNotFound)
}

func (r *NotificationRepo) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND is_read=FALSE`, userID)
	return count, err
}

func requireAffected(res sql.Result, notFound error) error {
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return notFound
	}
	return nil
}
