package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"messaging-service/internal/config"
	"messaging-service/internal/db/migrations"
)

// Connect opens the postgres pool, retrying with backoff until maxWait elapses,
// and applies pending migrations.
func Connect(ctx context.Context, cfg config.DBConfig, maxWait time.Duration, log *zap.Logger) (*sqlx.DB, error) {
	deadline := time.Now().Add(maxWait)
	backoff := time.Second

	var database *sqlx.DB
	for {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		conn, err := sqlx.ConnectContext(connectCtx, "postgres", cfg.DSN)
		cancel()
		if err == nil {
			database = conn
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("connect db (gave up after %v): %w", maxWait, err)
		}
		log.Warn("db connect failed, retrying", zap.Duration("backoff", backoff), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 15*time.Second {
			backoff *= 2
		}
	}

	database.SetMaxOpenConns(cfg.MaxOpenConns)
	database.SetMaxIdleConns(cfg.MaxIdleConns)
	database.SetConnMaxLifetime(5 * time.Minute)

	if err := Migrate(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database ready, migrations applied")
	return database, nil
}

// Migrate applies every pending embedded migration.
func Migrate(database *sqlx.DB) error {
	src, err := iofs.New(migrations.Files, ".")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(database.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
