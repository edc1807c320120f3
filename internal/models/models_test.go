package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSenderIsClosed(t *testing.T) {
	s, err := NewSender(RoleUser, 4)
	require.NoError(t, err)
	assert.Equal(t, UserSender{UserID: 4}, s)
	assert.Equal(t, RoleUser, s.Role())

	s, err = NewSender(RoleAdmin, 9)
	require.NoError(t, err)
	assert.Equal(t, AdminSender{AdminID: 9}, s)

	_, err = NewSender("instructor", 1)
	assert.Error(t, err)

	_, err = ParseRole("root")
	assert.Error(t, err)
	assert.Equal(t, RoleUser, RoleAdmin.Opposite())
}

func TestSenderLabel(t *testing.T) {
	assert.Equal(t, "Ann", SenderLabel(UserSender{UserID: 1}, "Ann"))
	assert.Equal(t, "user #1", SenderLabel(UserSender{UserID: 1}, ""))
	assert.Equal(t, "Support", SenderLabel(AdminSender{AdminID: 2}, "ignored"))
}

func TestPreferencesAllowsEveryCategory(t *testing.T) {
	prefs := DefaultPreferences(1)
	for _, category := range []string{
		CategoryCourseCompletion, CategoryLessonReminder, CategoryQuizReminder, CategoryAchievement,
		CategoryStreak, CategoryDropoutRisk, CategoryNewCourse, CategorySystemMaintenance,
	} {
		allowed, ok := prefs.Allows(category)
		assert.True(t, ok, category)
		assert.True(t, allowed, category)
	}
	_, ok := prefs.Allows("party_invite")
	assert.False(t, ok)
	assert.Equal(t, []string{"email", "push"}, prefs.Channels())
}

func TestPreferenceFieldsMatchJSON(t *testing.T) {
	prefs := NotificationPreferences{}
	for _, field := range PreferenceFields {
		require.True(t, prefs.Set(field, true), field)
	}
	assert.False(t, prefs.Set("unknown", true))

	raw, err := json.Marshal(prefs)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	for _, field := range PreferenceFields {
		assert.Equal(t, true, decoded[field], field)
	}
	assert.Len(t, decoded, len(PreferenceFields)+1)
}
