package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

// UserDirectory reads the identity mirror maintained by the LMS.
type UserDirectory interface {
	GetUser(ctx context.Context, userID int64) (models.User, error)
	BulkNames(ctx context.Context, userIDs []int64) (map[int64]string, error)
}

type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) GetUser(ctx context.Context, userID int64) (models.User, error) {
	var u models.User
	err := r.db.GetContext(ctx, &u, `SELECT id, name, role FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return u, err
}

// BulkNames resolves display names in one query; unknown ids are absent from the map.
func (r *UserRepo) BulkNames(ctx context.Context, userIDs []int64) (map[int64]string, error) {
	names := make(map[int64]string, len(userIDs))
	if len(userIDs) == 0 {
		return names, nil
	}
	query, args, err := sqlx.In(`SELECT id, name FROM users WHERE id IN (?)`, userIDs)
	if err != nil {
		return nil, err
	}
	var rows []models.User
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, u := range rows {
		names[u.ID] = u.Name
	}
	return names, nil
}
