package memory

import (
	"context"
	"sort"

	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

type NotificationRepo struct{ s *Store }

func NewNotificationRepo(s *Store) *NotificationRepo { return &NotificationRepo{s: s} }

func (r *NotificationRepo) CreateNotification(ctx context.Context, n models.Notification) (models.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextNotificationID++
	n.ID = r.s.nextNotificationID
	n.IsRead = false
	n.CreatedAt = r.s.now()
	stored := n
	r.s.notifications[n.ID] = &stored
	return n, nil
}

func (r *NotificationRepo) ListForUser(ctx context.Context, userID int64, limit int) ([]models.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Notification
	for _, n := range r.s.notifications {
		if n.UserID == userID {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *NotificationRepo) GetNotification(ctx context.Context, notificationID int64) (models.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.notifications[notificationID]
	if !ok {
		return models.Notification{}, repositories.ErrNotificationNotFound
	}
	return *n, nil
}

func (r *NotificationRepo) MarkRead(ctx context.Context, notificationID, userID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.notifications[notificationID]
	if !ok || n.UserID != userID {
		return repositories.ErrNotificationNotFound
	}
	n.IsRead = true
	return nil
}

func (r *NotificationRepo) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var flipped int64
	for _, n := range r.s.notifications {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			flipped++
		}
	}
	return flipped, nil
}

func (r *NotificationRepo) DeleteNotification(ctx context.Context, notificationID, userID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.notifications[notificationID]
	if !ok || n.UserID != userID {
		return repositories.ErrNotificationNotFound
	}
	delete(r.s.notifications, notificationID)
	return nil
}

func (r *NotificationRepo) UnreadCount(ctx context.Context, userID int64) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, n := range r.s.notifications {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

type PreferenceRepo struct{ s *Store }

func NewPreferenceRepo(s *Store) *PreferenceRepo { return &PreferenceRepo{s: s} }

func (r *PreferenceRepo) GetOrCreate(ctx context.Context, userID int64) (models.NotificationPreferences, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prefs, ok := r.s.preferences[userID]
	if !ok {
		prefs = models.DefaultPreferences(userID)
		prefs.UpdatedAt = r.s.now()
		r.s.preferences[userID] = prefs
	}
	return prefs, nil
}

func (r *PreferenceRepo) Replace(ctx context.Context, prefs models.NotificationPreferences) (models.NotificationPreferences, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prefs.UpdatedAt = r.s.now()
	r.s.preferences[prefs.UserID] = prefs
	return prefs, nil
}
