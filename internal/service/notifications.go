package service

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"messaging-service/internal/apperr"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

// DispatchRoutingKey is where dispatch envelopes for external senders are published.
const DispatchRoutingKey = "notification.dispatch"

type NotificationDeps struct {
	Notifications repositories.NotificationRepository
	Preferences   repositories.PreferenceRepository
	Dispatcher    Publisher
	Audit         Auditor
	Log           *zap.Logger
}

type NotificationService struct {
	notifications repositories.NotificationRepository
	preferences   repositories.PreferenceRepository
	dispatcher    Publisher
	audit         Auditor
	log           *zap.Logger
}

func NewNotificationService(deps NotificationDeps) *NotificationService {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &NotificationService{
		notifications: deps.Notifications,
		preferences:   deps.Preferences,
		dispatcher:    deps.Dispatcher,
		audit:         deps.Audit,
		log:           log,
	}
}

// ListForUser returns the caller's notifications newest first.
func (s *NotificationService) ListForUser(ctx context.Context, userID int64, limit int) ([]models.Notification, error) {
	items, err := s.notifications.ListForUser(ctx, userID, clampLimit(limit))
	if err != nil {
		return nil, apperr.Internal("failed to list notifications", err)
	}
	if items == nil {
		items = []models.Notification{}
	}
	return items, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID int64) (int, error) {
	count, err := s.notifications.UnreadCount(ctx, userID)
	if err != nil {
		return 0, apperr.Internal("failed to count notifications", err)
	}
	return count, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID int64) error {
	if _, err := s.owned(ctx, userID, notificationID); err != nil {
		return err
	}
	err := s.notifications.MarkRead(ctx, notificationID, userID)
	if errors.Is(err, repositories.ErrNotificationNotFound) {
		return apperr.NotFound("notification")
	}
	if err != nil {
		return apperr.Internal("failed to mark notification read", err)
	}
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	n, err := s.notifications.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, apperr.Internal("failed to mark notifications read", err)
	}
	return n, nil
}

// Delete hard-deletes a notification the caller owns. Other users' records are
// left untouched and the call fails with Forbidden.
func (s *NotificationService) Delete(ctx context.Context, userID, notificationID int64) error {
	if _, err := s.owned(ctx, userID, notificationID); err != nil {
		return err
	}
	err := s.notifications.DeleteNotification(ctx, notificationID, userID)
	if errors.Is(err, repositories.ErrNotificationNotFound) {
		return apperr.NotFound("notification")
	}
	if err != nil {
		return apperr.Internal("failed to delete notification", err)
	}
	s.emit(ctx, "notification.deleted", "notification deleted", userID, map[string]any{"notification_id": notificationID})
	return nil
}

func (s *NotificationService) owned(ctx context.Context, userID, notificationID int64) (models.Notification, error) {
	n, err := s.notifications.GetNotification(ctx, notificationID)
	if errors.Is(err, repositories.ErrNotificationNotFound) {
		return models.Notification{}, apperr.NotFound("notification")
	}
	if err != nil {
		return models.Notification{}, apperr.Internal("failed to load notification", err)
	}
	if n.UserID != userID {
		return models.Notification{}, apperr.Forbidden("notification belongs to another user")
	}
	return n, nil
}

// GetPreferences returns the caller's preferences, creating defaults on first access.
func (s *NotificationService) GetPreferences(ctx context.Context, userID int64) (models.NotificationPreferences, error) {
	prefs, err := s.preferences.GetOrCreate(ctx, userID)
	if err != nil {
		return models.NotificationPreferences{}, apperr.Internal("failed to load preferences", err)
	}
	return prefs, nil
}

// UpdatePreferences replaces every flag from a decoded JSON payload. Each field is
// coerced to a boolean and missing fields become false.
func (s *NotificationService) UpdatePreferences(ctx context.Context, userID int64, payload any) (models.NotificationPreferences, error) {
	object, ok := payload.(map[string]any)
	if !ok {
		return models.NotificationPreferences{}, apperr.Validation("preferences", "must be a JSON object")
	}
	prefs := CoercePreferences(userID, object)
	saved, err := s.preferences.Replace(ctx, prefs)
	if err != nil {
		return models.NotificationPreferences{}, apperr.Internal("failed to save preferences", err)
	}
	s.emit(ctx, "preferences.updated", "notification preferences replaced", userID, nil)
	return saved, nil
}

// ResetPreferences restores the defaults.
func (s *NotificationService) ResetPreferences(ctx context.Context, userID int64) (models.NotificationPreferences, error) {
	saved, err := s.preferences.Replace(ctx, models.DefaultPreferences(userID))
	if err != nil {
		return models.NotificationPreferences{}, apperr.Internal("failed to reset preferences", err)
	}
	s.emit(ctx, "preferences.reset", "notification preferences reset", userID, nil)
	return saved, nil
}

// CoercePreferences builds a full preference set from a loosely typed object.
func CoercePreferences(userID int64, object map[string]any) models.NotificationPreferences {
	prefs := models.NotificationPreferences{UserID: userID}
	for _, field := range models.PreferenceFields {
		prefs.Set(field, coerceBool(object[field]))
	}
	return prefs
}

func coerceBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "on", "yes":
			return true
		}
	case float64:
		return val == 1
	case int:
		return val == 1
	case int64:
		return val == 1
	}
	return false
}

// HandleEvent ingests one notification request from an external producer. Requests
// for categories the user switched off are skipped without error.
func (s *NotificationService) HandleEvent(ctx context.Context, ev models.NotificationEvent) error {
	ctx, span := startSpan(ctx, "notifications.HandleEvent", attribute.String("type", ev.Type), attribute.Int64("user_id", ev.UserID))
	defer span.End()

	if ev.Priority == "" {
		ev.Priority = models.PriorityMedium
	}
	fields := map[string]string{}
	if ev.UserID <= 0 {
		fields["user_id"] = "must be positive"
	}
	if strings.TrimSpace(ev.Title) == "" {
		fields["title"] = "must not be empty"
	}
	if !ev.Priority.Valid() {
		fields["priority"] = "must be low, medium or high"
	}
	if _, known := (models.NotificationPreferences{}).Allows(ev.Type); !known {
		fields["type"] = "unknown category"
	}
	if len(fields) > 0 {
		observability.IncNotificationIngested("rejected")
		return apperr.ValidationFields(fields)
	}

	prefs, err := s.preferences.GetOrCreate(ctx, ev.UserID)
	if err != nil {
		return apperr.Internal("failed to load preferences", err)
	}
	if allowed, _ := prefs.Allows(ev.Type); !allowed {
		observability.IncNotificationIngested("skipped")
		s.log.Debug("notification skipped by preference", zap.Int64("user_id", ev.UserID), zap.String("type", ev.Type))
		return nil
	}

	created, err := s.notifications.CreateNotification(ctx, models.Notification{
		UserID:   ev.UserID,
		Title:    ev.Title,
		Body:     ev.Body,
		Type:     ev.Type,
		Priority: ev.Priority,
	})
	if err != nil {
		return apperr.Internal("failed to store notification", err)
	}
	observability.IncNotificationIngested("created")

	channels := prefs.Channels()
	if s.dispatcher != nil && len(channels) > 0 {
		envelope := models.DispatchEnvelope{
			NotificationID: created.ID,
			UserID:         created.UserID,
			Type:           created.Type,
			Title:          created.Title,
			Body:           created.Body,
			Priority:       created.Priority,
			Channels:       channels,
		}
		if err := s.dispatcher.Publish(ctx, DispatchRoutingKey, envelope); err != nil {
			s.log.Warn("dispatch publish failed", zap.Int64("notification_id", created.ID), zap.Error(err))
		}
	}
	return nil
}

func (s *NotificationService) emit(ctx context.Context, action, text string, actorID int64, attrs map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, "INFO", action, text, actorID, attrs)
}
