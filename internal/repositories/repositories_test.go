package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/models"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return sqlx.NewDb(raw, "postgres"), mock
}

var conversationCols = []string{"id", "user_id", "created_at", "last_activity_at", "archived_at"}

func conversationRow(id, userID int64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(conversationCols).AddRow(id, userID, now, now, nil)
}

func TestCreateOrGetActiveReturnsExisting(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepo(db)

	mock.ExpectQuery(`SELECT .* FROM conversations WHERE user_id=\$1 AND archived_at IS NULL`).
		WithArgs(int64(7)).
		WillReturnRows(conversationRow(3, 7))

	conv, outcome, err := repo.CreateOrGetActive(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(3), conv.ID)
	assert.Equal(t, OutcomeExisting, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrGetActiveInserts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepo(db)

	mock.ExpectQuery(`SELECT .* FROM conversations WHERE user_id=\$1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(conversationCols))
	mock.ExpectQuery(`INSERT INTO conversations \(user_id\) VALUES \(\$1\) RETURNING`).
		WithArgs(int64(7)).
		WillReturnRows(conversationRow(4, 7))

	conv, outcome, err := repo.CreateOrGetActive(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(4), conv.ID)
	assert.Equal(t, OutcomeCreated, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrGetActiveRefetchesAfterUniqueViolation(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepo(db)

	mock.ExpectQuery(`SELECT .* FROM conversations WHERE user_id=\$1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(conversationCols))
	mock.ExpectQuery(`INSERT INTO conversations`).
		WithArgs(int64(7)).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectQuery(`SELECT .* FROM conversations WHERE user_id=\$1`).
		WithArgs(int64(7)).
		WillReturnRows(conversationRow(5, 7))

	conv, outcome, err := repo.CreateOrGetActive(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(5), conv.ID)
	assert.Equal(t, OutcomeRaceLost, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrGetActiveOtherInsertErrorSurfaces(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepo(db)

	mock.ExpectQuery(`SELECT .* FROM conversations`).WillReturnRows(sqlmock.NewRows(conversationCols))
	mock.ExpectQuery(`INSERT INTO conversations`).WillReturnError(assert.AnError)

	_, _, err := repo.CreateOrGetActive(context.Background(), 7)
	require.ErrorIs(t, err, assert.AnError)
}

func TestGetConversationNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepo(db)

	mock.ExpectQuery(`SELECT .* FROM conversations WHERE id=\$1`).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(conversationCols))

	_, err := repo.GetConversation(context.Background(), 99)
	require.ErrorIs(t, err, ErrConversationNotFound)
}

func TestListSummariesMapsLatestMessage(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepo(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "created_at", "last_activity_at", "archived_at",
		"msg_id", "msg_sender_id", "msg_sender_role", "msg_body", "msg_created_at", "msg_is_read", "msg_read_at",
		"unread_count"}).
		AddRow(1, 10, now, now, nil, 42, 10, "user", "Hello", now, false, nil, 1).
		AddRow(2, 11, now, now, nil, nil, nil, nil, nil, nil, nil, nil, 0)
	mock.ExpectQuery(`LEFT JOIN LATERAL`).WillReturnRows(rows)

	list, err := repo.ListSummaries(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.NotNil(t, list[0].LatestMessage)
	assert.Equal(t, "Hello", list[0].LatestMessage.Body)
	assert.Equal(t, models.RoleUser, list[0].LatestMessage.SenderRole)
	assert.Equal(t, 1, list[0].UnreadForAdmin)
	assert.Nil(t, list[1].LatestMessage)
}

var messageCols = []string{"id", "conversation_id", "sender_id", "sender_role", "body", "created_at", "is_read", "read_at"}

func TestAppendLocksConversationThenInserts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE conversations SET last_activity_at = clock_timestamp\(\)`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"archived_at"}).AddRow(nil))
	mock.ExpectQuery(`INSERT INTO messages`).
		WithArgs(int64(3), int64(7), "user", "Hello").
		WillReturnRows(sqlmock.NewRows(messageCols).AddRow(11, 3, 7, "user", "Hello", time.Now(), false, nil))
	mock.ExpectCommit()

	msg, err := repo.Append(context.Background(), 3, models.UserSender{UserID: 7}, "Hello")
	require.NoError(t, err)
	assert.Equal(t, int64(11), msg.ID)
	assert.Equal(t, models.RoleUser, msg.SenderRole)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendMissingConversation(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE conversations`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"archived_at"}))
	mock.ExpectRollback()

	_, err := repo.Append(context.Background(), 3, models.AdminSender{AdminID: 1}, "Hi")
	require.ErrorIs(t, err, ErrConversationNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendArchivedConversation(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE conversations`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"archived_at"}).AddRow(time.Now()))
	mock.ExpectRollback()

	_, err := repo.Append(context.Background(), 3, models.AdminSender{AdminID: 1}, "Hi")
	require.ErrorIs(t, err, ErrConversationArchived)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListMessagesBeforeIDReturnsOldestFirst(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	now := time.Now()
	mock.ExpectQuery(`WHERE conversation_id=\$1 AND id < \$2 ORDER BY id DESC LIMIT \$3`).
		WithArgs(int64(3), int64(10), 2).
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow(9, 3, 7, "user", "b", now, false, nil).
			AddRow(8, 3, 7, "user", "a", now, false, nil))

	msgs, err := repo.ListMessages(context.Background(), 3, models.Page{Limit: 2, BeforeID: 10})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(8), msgs[0].ID)
	assert.Equal(t, int64(9), msgs[1].ID)
}

func TestListMessagesAfterIDAscending(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	now := time.Now()
	mock.ExpectQuery(`AND id > \$2 ORDER BY id ASC`).
		WithArgs(int64(3), int64(4), 50).
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow(5, 3, 1, "admin", "x", now, false, nil).
			AddRow(6, 3, 7, "user", "y", now, false, nil))

	msgs, err := repo.ListMessages(context.Background(), 3, models.Page{Limit: 50, AfterID: 4})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(5), msgs[0].ID)
}

func TestMarkReadSingleStatement(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectExec(`UPDATE messages SET is_read=TRUE, read_at=\$3\s+WHERE conversation_id=\$1 AND sender_role<>\$2 AND is_read=FALSE`).
		WithArgs(int64(3), "user", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.MarkRead(context.Background(), 3, models.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnreadCountFiltersOppositeRole(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM messages`).
		WithArgs(int64(3), "admin").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := repo.UnreadCount(context.Background(), 3, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestDeleteNotificationScopedToOwner(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepo(db)

	mock.ExpectExec(`DELETE FROM notifications WHERE id=\$1 AND user_id=\$2`).
		WithArgs(int64(5), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeleteNotification(context.Background(), 5, 2)
	require.ErrorIs(t, err, ErrNotificationNotFound)
}

func TestMarkAllNotificationsRead(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepo(db)

	mock.ExpectExec(`UPDATE notifications SET is_read=TRUE WHERE user_id=\$1 AND is_read=FALSE`).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.MarkAllRead(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestPreferencesGetOrCreateInsertsDefaults(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPreferenceRepo(db)

	mock.ExpectExec(`INSERT INTO notification_preferences \(user_id\) VALUES \(\$1\)\s+ON CONFLICT \(user_id\) DO NOTHING`).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .* FROM notification_preferences WHERE user_id=\$1`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "email_notifications", "push_notifications", "sms_notifications",
			"course_completion", "lesson_reminders", "quiz_reminders", "achievement_alerts", "streak_reminders",
			"dropout_risk_alerts", "new_course_alerts", "system_maintenance", "updated_at"}).
			AddRow(2, true, true, false, true, true, true, true, true, true, true, true, time.Now()))

	prefs, err := repo.GetOrCreate(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, prefs.EmailNotifications)
	assert.False(t, prefs.SMSNotifications)
}

func TestBulkNamesExpandsIn(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(`SELECT id, name FROM users WHERE id IN \(\$1, \$2\)`).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "Ann").AddRow(2, "Bo"))

	names, err := repo.BulkNames(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{1: "Ann", 2: "Bo"}, names)
}

func TestGetUserNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(`SELECT id, name, role FROM users WHERE id=\$1`).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "role"}))

	_, err := repo.GetUser(context.Background(), 404)
	require.ErrorIs(t, err, ErrUserNotFound)
}
