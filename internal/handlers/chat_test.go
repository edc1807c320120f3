package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"messaging-service/internal/middleware"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
	"messaging-service/internal/repositories/memory"
	"messaging-service/internal/service"
)

var (
	testUser  = models.Identity{UserID: 1, Role: models.RoleUser}
	otherUser = models.Identity{UserID: 2, Role: models.RoleUser}
	testAdmin = models.Identity{UserID: 100, Role: models.RoleAdmin}
)

func setupChatRouter(handler *ChatHandler, who models.Identity) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		middleware.SetIdentity(c, who)
		c.Next()
	})
	handler.RegisterRoutes(r, middleware.RequireAdmin())
	return r
}

func memoryChatHandler() *ChatHandler {
	store := memory.NewStore()
	users := memory.NewUserDirectory(
		models.User{ID: 1, Name: "Ann", Role: models.RoleUser},
		models.User{ID: 2, Name: "Bo", Role: models.RoleUser},
	)
	svc := service.NewChatService(service.ChatDeps{
		Conversations: memory.NewConversationRepo(store),
		Messages:      memory.NewMessageRepo(store),
		Users:         users,
		Log:           zap.NewNop(),
	})
	return NewChatHandler(svc, DeliveryInfo{PushMode: "local", AdminPollInterval: 3 * time.Second, UserPollInterval: 5 * time.Second})
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestSupportFlowOverHTTP(t *testing.T) {
	handler := memoryChatHandler()
	user := setupChatRouter(handler, testUser)
	admin := setupChatRouter(handler, testAdmin)

	rec := do(t, user, http.MethodPost, "/send-message", `{"body":"Hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	hello := decode[models.Message](t, rec)
	assert.Equal(t, models.RoleUser, hello.SenderRole)

	rec = do(t, admin, http.MethodGet, "/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	inbox := decode[struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}](t, rec)
	require.Len(t, inbox.Conversations, 1)
	assert.Equal(t, 1, inbox.Conversations[0].UnreadForAdmin)
	assert.Equal(t, "Ann", inbox.Conversations[0].UserName)

	rec = do(t, admin, http.MethodPost, "/send-message",
		`{"conversationId":`+jsonInt(hello.ConversationID)+`,"body":"Hi, how can I help?"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, user, http.MethodGet, "/unread-count", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[map[string]int](t, rec)["unread_count"])

	rec = do(t, user, http.MethodPost, "/mark-read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]int64](t, rec)["updated"])

	rec = do(t, user, http.MethodGet, "/unread-count", "")
	assert.Equal(t, 0, decode[map[string]int](t, rec)["unread_count"])

	rec = do(t, admin, http.MethodGet, "/unread-count?conversation_id="+jsonInt(hello.ConversationID), "")
	assert.Equal(t, 1, decode[map[string]int](t, rec)["unread_count"])

	rec = do(t, user, http.MethodGet, "/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[struct {
		Messages []models.Message `json:"messages"`
	}](t, rec)
	require.Len(t, page.Messages, 2)
	assert.Less(t, page.Messages[0].ID, page.Messages[1].ID)
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsonBody(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestConversationsRequiresAdmin(t *testing.T) {
	router := setupChatRouter(memoryChatHandler(), testUser)

	rec := do(t, router, http.MethodGet, "/conversations", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodPost, "/conversations/1/archive", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSendMessageValidation(t *testing.T) {
	router := setupChatRouter(memoryChatHandler(), testUser)

	rec := do(t, router, http.MethodPost, "/send-message", `{"body":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, map[string]any{"body": "required"}, body["fields"])

	rec = do(t, router, http.MethodPost, "/send-message", `{"body":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/send-message", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminSendWithoutConversation(t *testing.T) {
	router := setupChatRouter(memoryChatHandler(), testAdmin)

	rec := do(t, router, http.MethodPost, "/send-message", `{"body":"hi"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Contains(t, body["fields"], "conversation_id")
}

func TestForeignConversationOverHTTP(t *testing.T) {
	handler := memoryChatHandler()
	owner := setupChatRouter(handler, testUser)
	stranger := setupChatRouter(handler, otherUser)

	rec := do(t, owner, http.MethodPost, "/send-message", `{"body":"mine"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	convID := jsonInt(decode[models.Message](t, rec).ConversationID)

	rec = do(t, stranger, http.MethodGet, "/messages?conversation_id="+convID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, stranger, http.MethodPost, "/send-message", `{"conversation_id":`+convID+`,"body":"x"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, stranger, http.MethodPost, "/mark-read", `{"conversation_id":`+convID+`}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestArchiveThenSendOpensNewConversation(t *testing.T) {
	handler := memoryChatHandler()
	user := setupChatRouter(handler, testUser)
	admin := setupChatRouter(handler, testAdmin)

	rec := do(t, user, http.MethodGet, "/support-conversation", "")
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[models.Conversation](t, rec)

	rec = do(t, admin, http.MethodPost, "/conversations/"+jsonInt(first.ID)+"/archive", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[models.Conversation](t, rec).Archived())

	rec = do(t, admin, http.MethodPost, "/send-message", `{"conversation_id":`+jsonInt(first.ID)+`,"body":"late"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, user, http.MethodPost, "/send-message", `{"body":"again"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEqual(t, first.ID, decode[models.Message](t, rec).ConversationID)
}

func TestListMessagesQueryValidation(t *testing.T) {
	router := setupChatRouter(memoryChatHandler(), testUser)

	for _, path := range []string{
		"/messages?conversation_id=abc",
		"/messages?limit=-1",
		"/messages?before_id=3&after_id=1",
	} {
		rec := do(t, router, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestUserWithoutConversationGetsEmptyList(t *testing.T) {
	router := setupChatRouter(memoryChatHandler(), testUser)

	rec := do(t, router, http.MethodGet, "/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"messages":[]}`, rec.Body.String())
}

func TestDeliveryConfig(t *testing.T) {
	router := setupChatRouter(memoryChatHandler(), testUser)

	rec := do(t, router, http.MethodGet, "/config/delivery", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"push_mode":"local","admin_poll_interval":3000,"user_poll_interval":5000}`, rec.Body.String())
}

func TestListConversationsRepoError(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	svc := service.NewChatService(service.ChatDeps{
		Conversations: convRepo,
		Messages:      new(mocks.MessageRepositoryMock),
		Users:         new(mocks.UserDirectoryMock),
	})
	router := setupChatRouter(NewChatHandler(svc, DeliveryInfo{}), testAdmin)

	convRepo.On("ListSummaries", mock.Anything).Return(([]models.ConversationSummary)(nil), assert.AnError).Once()

	rec := do(t, router, http.MethodGet, "/conversations", "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
	convRepo.AssertExpectations(t)
}

func TestSendMessagePublishesAfterStore(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	users := new(mocks.UserDirectoryMock)
	bc := new(mocks.BroadcasterMock)
	svc := service.NewChatService(service.ChatDeps{
		Conversations: convRepo,
		Messages:      msgRepo,
		Users:         users,
		Broadcaster:   bc,
		Transport:     "local",
	})
	router := setupChatRouter(NewChatHandler(svc, DeliveryInfo{}), testUser)

	conv := models.Conversation{ID: 5, UserID: 1}
	stored := models.Message{ID: 7, ConversationID: 5, SenderID: 1, SenderRole: models.RoleUser, Body: "hi"}
	users.On("GetUser", mock.Anything, int64(1)).Return(models.User{ID: 1}, nil).Once()
	convRepo.On("CreateOrGetActive", mock.Anything, int64(1)).Return(conv, repositories.OutcomeExisting, nil).Once()
	msgRepo.On("Append", mock.Anything, int64(5), models.UserSender{UserID: 1}, "hi").Return(stored, nil).Once()
	bc.On("Publish", mock.Anything, int64(5), mock.MatchedBy(func(ev models.ConversationEvent) bool {
		return ev.Type == models.EventMessage && ev.Message != nil && ev.Message.ID == 7
	})).Return(assert.AnError).Once()

	rec := do(t, router, http.MethodPost, "/send-message", `{"body":"  hi  "}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	convRepo.AssertExpectations(t)
	msgRepo.AssertExpectations(t)
	bc.AssertExpectations(t)
}

func TestArchiveInvalidID(t *testing.T) {
	router := setupChatRouter(memoryChatHandler(), testAdmin)

	rec := do(t, router, http.MethodPost, "/conversations/abc/archive", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
