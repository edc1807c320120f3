package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/middleware"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
	"messaging-service/internal/repositories/memory"
	"messaging-service/internal/service"
)

func setupNotificationRouter(handler *NotificationHandler, who models.Identity) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		middleware.SetIdentity(c, who)
		c.Next()
	})
	handler.RegisterRoutes(r)
	return r
}

type notificationFixture struct {
	handler *NotificationHandler
	repo    *memory.NotificationRepo
}

func newNotificationFixture() notificationFixture {
	store := memory.NewStore()
	repo := memory.NewNotificationRepo(store)
	svc := service.NewNotificationService(service.NotificationDeps{
		Notifications: repo,
		Preferences:   memory.NewPreferenceRepo(store),
	})
	return notificationFixture{handler: NewNotificationHandler(svc), repo: repo}
}

func (f notificationFixture) seed(t *testing.T, userID int64, title string) models.Notification {
	t.Helper()
	n, err := f.repo.CreateNotification(context.Background(), models.Notification{
		UserID: userID, Title: title, Type: models.CategoryAchievement, Priority: models.PriorityMedium,
	})
	require.NoError(t, err)
	return n
}

func TestNotificationInboxFlow(t *testing.T) {
	f := newNotificationFixture()
	first := f.seed(t, 1, "first")
	f.seed(t, 1, "second")
	f.seed(t, 2, "not mine")
	router := setupNotificationRouter(f.handler, testUser)

	rec := do(t, router, http.MethodGet, "/notifications", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Notifications []models.Notification `json:"notifications"`
	}](t, rec)
	require.Len(t, list.Notifications, 2)
	assert.Equal(t, "second", list.Notifications[0].Title)

	rec = do(t, router, http.MethodPost, "/notifications/mark-read", `{"notification_id":`+jsonInt(first.ID)+`}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/notifications/unread-count", "")
	assert.Equal(t, 1, decode[map[string]int](t, rec)["unread_count"])

	rec = do(t, router, http.MethodPost, "/notifications/mark-all-read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]int64](t, rec)["updated"])

	rec = do(t, router, http.MethodDelete, "/notifications/"+jsonInt(first.ID), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodDelete, "/notifications/"+jsonInt(first.ID), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotificationOwnershipOverHTTP(t *testing.T) {
	f := newNotificationFixture()
	foreign := f.seed(t, 2, "bo's")
	router := setupNotificationRouter(f.handler, testUser)

	rec := do(t, router, http.MethodDelete, "/notifications/"+jsonInt(foreign.ID), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodPost, "/notifications/mark-read", `{"notification_id":`+jsonInt(foreign.ID)+`}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	_, err := f.repo.GetNotification(context.Background(), foreign.ID)
	assert.NoError(t, err)
}

func TestMarkNotificationReadValidation(t *testing.T) {
	router := setupNotificationRouter(newNotificationFixture().handler, testUser)

	rec := do(t, router, http.MethodPost, "/notifications/mark-read", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"validation failed","fields":{"notification_id":"required"}}`, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/notifications/mark-read", `{"notification_id":999}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodDelete, "/notifications/zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreferencesOverHTTP(t *testing.T) {
	router := setupNotificationRouter(newNotificationFixture().handler, testUser)

	rec := do(t, router, http.MethodGet, "/notifications/preferences", "")
	require.Equal(t, http.StatusOK, rec.Code)
	prefs := decode[map[string]any](t, rec)
	assert.Equal(t, true, prefs["email_notifications"])
	assert.Equal(t, false, prefs["sms_notifications"])

	prefs["email_notifications"] = false
	prefs["sms_notifications"] = "yes"
	body := jsonBody(t, prefs)

	rec = do(t, router, http.MethodPut, "/notifications/preferences", body)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[models.NotificationPreferences](t, rec)
	assert.False(t, updated.EmailNotifications)
	assert.True(t, updated.SMSNotifications)
	assert.True(t, updated.PushNotifications)
	assert.True(t, updated.SystemMaintenance)

	rec = do(t, router, http.MethodPut, "/notifications/preferences", `[true]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPut, "/notifications/preferences", `{broken`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPut, "/notifications/preferences", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/notifications/preferences/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	reset := decode[models.NotificationPreferences](t, rec)
	assert.True(t, reset.EmailNotifications)
	assert.False(t, reset.SMSNotifications)
}

func TestListNotificationsRepoError(t *testing.T) {
	repo := new(mocks.NotificationRepositoryMock)
	svc := service.NewNotificationService(service.NotificationDeps{
		Notifications: repo,
		Preferences:   new(mocks.PreferenceRepositoryMock),
	})
	router := setupNotificationRouter(NewNotificationHandler(svc), testUser)

	repo.On("ListForUser", mock.Anything, int64(1), service.DefaultPageLimit).Return(([]models.Notification)(nil), assert.AnError).Once()

	rec := do(t, router, http.MethodGet, "/notifications", "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	repo.AssertExpectations(t)
}

func TestDeleteNotificationRaceReportsNotFound(t *testing.T) {
	repo := new(mocks.NotificationRepositoryMock)
	svc := service.NewNotificationService(service.NotificationDeps{
		Notifications: repo,
		Preferences:   new(mocks.PreferenceRepositoryMock),
	})
	router := setupNotificationRouter(NewNotificationHandler(svc), testUser)

	repo.On("GetNotification", mock.Anything, int64(4)).Return(models.Notification{ID: 4, UserID: 1}, nil).Once()
	repo.On("DeleteNotification", mock.Anything, int64(4), int64(1)).Return(repositories.ErrNotificationNotFound).Once()

	rec := do(t, router, http.MethodDelete, "/notifications/4", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	repo.AssertExpectations(t)
}
