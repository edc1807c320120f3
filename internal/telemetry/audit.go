package telemetry

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"messaging-service/internal/observability"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// AuditEmitter records state-changing actions on the audit exchange.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	log         *zap.Logger
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level  string         `json:"level"`
	Action string         `json:"action"`
	Text   string         `json:"text"`
	Attrs  map[string]any `json:"attrs,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, log *zap.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         log,
	}
}

// Emit publishes one audit envelope. Failures are logged and never returned.
func (e *AuditEmitter) Emit(ctx context.Context, level, action, text string, actorID int64, attrs map[string]any) {
	if e == nil || e.publisher == nil {
		return
	}

	var userID *string
	if actorID != 0 {
		id := strconv.FormatInt(actorID, 10)
		userID = &id
	}
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     observability.RequestIDFromContext(ctx),
		UserID:        userID,
		Payload: AuditPayload{
			Level:  level,
			Action: action,
			Text:   text,
			Attrs:  attrs,
		},
	}

	e.log.Debug("audit emit", zap.String("action", action), zap.String("request_id", envelope.RequestID), zap.Int64("actor_id", actorID))
	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		e.log.Warn("audit publish failed", zap.String("action", action), zap.Error(err))
	}
}
