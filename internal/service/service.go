// Package service implements the messaging core: the conversation registry, the
// message store, read-state tracking, push delivery and notification dispatch.
package service

import (
	"context"
	"time"

	"messaging-service/internal/models"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
	PreviewRunes     = 120

	publishTimeout = 2 * time.Second
)

// Broadcaster fans a conversation event out to push subscribers.
type Broadcaster interface {
	Publish(ctx context.Context, conversationID int64, ev models.ConversationEvent) error
}

// Auditor records state-changing actions.
type Auditor interface {
	Emit(ctx context.Context, level, action, text string, actorID int64, attrs map[string]any)
}

// Publisher sends broker messages on a fixed exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}
