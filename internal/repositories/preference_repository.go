package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

// PreferenceRepository stores one preference row per user.
type PreferenceRepository interface {
	GetOrCreate(ctx context.Context, userID int64) (models.NotificationPreferences, error)
	Replace(ctx context.Context, prefs models.NotificationPreferences) (models.NotificationPreferences, error)
}

type PreferenceRepo struct {
	db *sqlx.DB
}

func NewPreferenceRepo(db *sqlx.DB) *PreferenceRepo {
	return &PreferenceRepo{db: db}
}

const preferenceColumns = `user_id, email_notifications, push_notifications, sms_notifications,
    course_completion, lesson_reminders, quiz_reminders, achievement_alerts, streak_reminders,
    dropout_risk_alerts, new_course_alerts, system_maintenance, updated_at`

// GetOrCreate returns the stored preferences, inserting the column defaults on first access.
func (r *PreferenceRepo) GetOrCreate(ctx context.Context, userID int64) (models.NotificationPreferences, error) {
	if _, err := r.db.ExecContext(ctx, `INSERT INTO notification_preferences (user_id) VALUES ($1)
        ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return models.NotificationPreferences{}, fmt.Errorf("ensure preferences: %w", err)
	}
	var prefs models.NotificationPreferences
	err := r.db.GetContext(ctx, &prefs, `SELECT `+preferenceColumns+` FROM notification_preferences WHERE user_id=$1`, userID)
	return prefs, err
}

// Replace overwrites every flag.
func (r *PreferenceRepo) Replace(ctx context.Context, prefs models.NotificationPreferences) (models.NotificationPreferences, error) {
	prefs.UpdatedAt = time.Now().UTC()
	query := `INSERT INTO notification_preferences (` + preferenceColumns + `)
        VALUES (:user_id, :email_notifications, :push_notifications, :sms_notifications,
            :course_completion, :lesson_reminders, :quiz_reminders, :achievement_alerts, :streak_reminders,
            :dropout_risk_alerts, :new_course_alerts, :system_maintenance, :updated_at)
        ON CONFLICT (user_id) DO UPDATE SET
            email_notifications = EXCLUDED.email_notifications,
            push_notifications = EXCLUDED.push_notifications,
            sms_notifications = EXCLUDED.sms_notifications,
            course_completion = EXCLUDED.course_completion,
            lesson_reminders = EXCLUDED.lesson_reminders,
            quiz_reminders = EXCLUDED.quiz_reminders,
            achievement_alerts = EXCLUDED.achievement_alerts,
            streak_reminders = EXCLUDED.streak_reminders,
            dropout_risk_alerts = EXCLUDED.dropout_risk_alerts,
            new_course_alerts = EXCLUDED.new_course_alerts,
            system_maintenance = EXCLUDED.system_maintenance,
            updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, prefs); err != nil {
		return models.NotificationPreferences{}, fmt.Errorf("replace preferences: %w", err)
	}
	return prefs, nil
}
