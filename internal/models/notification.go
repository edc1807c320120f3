package models

import "time"

// Priority of a notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Notification categories produced by external LMS events.
const (
	CategoryCourseCompletion  = "course_completion"
	CategoryLessonReminder    = "lesson_reminder"
	CategoryQuizReminder      = "quiz_reminder"
	CategoryAchievement       = "achievement"
	CategoryStreak            = "streak"
	CategoryDropoutRisk       = "dropout_risk"
	CategoryNewCourse         = "new_course"
	CategorySystemMaintenance = "system_maintenance"
)

// Notification is a user-facing alert, distinct from chat messages.
type Notification struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Title     string    `db:"title" json:"title"`
	Body      string    `db:"body" json:"body"`
	Type      string    `db:"type" json:"type"`
	Priority  Priority  `db:"priority" json:"priority"`
	IsRead    bool      `db:"is_read" json:"is_read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NotificationPreferences holds per-user channel and category switches.
type NotificationPreferences struct {
	UserID             int64     `db:"user_id" json:"-"`
	EmailNotifications bool      `db:"email_notifications" json:"email_notifications"`
	PushNotifications  bool      `db:"push_notifications" json:"push_notifications"`
	SMSNotifications   bool      `db:"sms_notifications" json:"sms_notifications"`
	CourseCompletion   bool      `db:"course_completion" json:"course_completion"`
	LessonReminders    bool      `db:"lesson_reminders" json:"lesson_reminders"`
	QuizReminders      bool      `db:"quiz_reminders" json:"quiz_reminders"`
	AchievementAlerts  bool      `db:"achievement_alerts" json:"achievement_alerts"`
	StreakReminders    bool      `db:"streak_reminders" json:"streak_reminders"`
	DropoutRiskAlerts  bool      `db:"dropout_risk_alerts" json:"dropout_risk_alerts"`
	NewCourseAlerts    bool      `db:"new_course_alerts" json:"new_course_alerts"`
	SystemMaintenance  bool      `db:"system_maintenance" json:"system_maintenance"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// DefaultPreferences returns the preferences a user starts with.
func DefaultPreferences(userID int64) NotificationPreferences {
	return NotificationPreferences{
		UserID:             userID,
		EmailNotifications: true,
		PushNotifications:  true,
		SMSNotifications:   false,
		CourseCompletion:   true,
		LessonReminders:    true,
		QuizReminders:      true,
		AchievementAlerts:  true,
		StreakReminders:    true,
		DropoutRiskAlerts:  true,
		NewCourseAlerts:    true,
		SystemMaintenance:  true,
	}
}

// PreferenceFields lists the JSON names of every preference flag.
var PreferenceFields = []string{
	"email_notifications",
	"push_notifications",
	"sms_notifications",
	"course_completion",
	"lesson_reminders",
	"quiz_reminders",
	"achievement_alerts",
	"streak_reminders",
	"dropout_risk_alerts",
	"new_course_alerts",
	"system_maintenance",
}

// Set assigns a flag by its JSON name and reports whether the name is known.
func (p *NotificationPreferences) Set(field string, v bool) bool {
	switch field {
	case "email_notifications":
		p.EmailNotifications = v
	case "push_notifications":
		p.PushNotifications = v
	case "sms_notifications":
		p.SMSNotifications = v
	case "course_completion":
		p.CourseCompletion = v
	case "lesson_reminders":
		p.LessonReminders = v
	case "quiz_reminders":
		p.QuizReminders = v
	case "achievement_alerts":
		p.AchievementAlerts = v
	case "streak_reminders":
		p.StreakReminders = v
	case "dropout_risk_alerts":
		p.DropoutRiskAlerts = v
	case "new_course_alerts":
		p.NewCourseAlerts = v
	case "system_maintenance":
		p.SystemMaintenance = v
	default:
		return false
	}
	return true
}

// Allows reports whether notifications of the given category are wanted.
// ok is false for unknown categories.
func (p NotificationPreferences) Allows(category string) (allowed bool, ok bool) {
	switch category {
	case CategoryCourseCompletion:
		return p.CourseCompletion, true
	case CategoryLessonReminder:
		return p.LessonReminders, true
	case CategoryQuizReminder:
		return p.QuizReminders, true
	case CategoryAchievement:
		return p.AchievementAlerts, true
	case CategoryStreak:
		return p.StreakReminders, true
	case CategoryDropoutRisk:
		return p.DropoutRiskAlerts, true
	case CategoryNewCourse:
		return p.NewCourseAlerts, true
	case CategorySystemMaintenance:
		return p.SystemMaintenance, true
	}
	return false, false
}

// Channels lists the delivery channels switched on.
func (p NotificationPreferences) Channels() []string {
	channels := make([]string, 0, 3)
	if p.EmailNotifications {
		channels = append(channels, "email")
	}
	if p.PushNotifications {
		channels = append(channels, "push")
	}
	if p.SMSNotifications {
		channels = append(channels, "sms")
	}
	return channels
}

// NotificationEvent is what external producers publish to request a notification.
type NotificationEvent struct {
	UserID   int64    `json:"user_id"`
	Type     string   `json:"type"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Priority Priority `json:"priority"`
}

// DispatchEnvelope tells external senders which channels to deliver a notification on.
type DispatchEnvelope struct {
	NotificationID int64    `json:"notification_id"`
	UserID         int64    `json:"user_id"`
	Type           string   `json:"type"`
	Title          string   `json:"title"`
	Body           string   `json:"body"`
	Priority       Priority `json:"priority"`
	Channels       []string `json:"channels"`
}
