package memory

import (
	"context"
	"fmt"
	"sync"

	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

// UserDirectory is a fixed set of users. With Implicit set, unknown ids resolve to
// a generated user, which keeps a standalone dev server usable without seeding.
type UserDirectory struct {
	mu       sync.RWMutex
	users    map[int64]models.User
	Implicit bool
}

func NewUserDirectory(users ...models.User) *UserDirectory {
	d := &UserDirectory{users: make(map[int64]models.User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *UserDirectory) Put(u models.User) {
	d.mu.Lock()
	d.users[u.ID] = u
	d.mu.Unlock()
}

func (d *UserDirectory) GetUser(ctx context.Context, userID int64) (models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if u, ok := d.users[userID]; ok {
		return u, nil
	}
	if d.Implicit && userID > 0 {
		return models.User{ID: userID, Name: fmt.Sprintf("user %d", userID), Role: models.RoleUser}, nil
	}
	return models.User{}, repositories.ErrUserNotFound
}

func (d *UserDirectory) BulkNames(ctx context.Context, userIDs []int64) (map[int64]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make(map[int64]string, len(userIDs))
	for _, id := range userIDs {
		if u, ok := d.users[id]; ok {
			names[id] = u.Name
		}
	}
	return names, nil
}
