package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"messaging-service/internal/middleware"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/telemetry"
)

func setupDebugRouter(emitter *telemetry.AuditEmitter, issuer *middleware.JWTVerifier, enabled bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterDebugRoutes(r, emitter, issuer, enabled)
	return r
}

func TestDebugRoutesDisabled(t *testing.T) {
	r := setupDebugRouter(nil, middleware.NewJWTVerifier("test-secret", "lms"), false)

	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/debug/audit-test", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/debug/token", `{"user_id":1,"role":"user"}`).Code)
}

func TestDebugTokenVerifies(t *testing.T) {
	issuer := middleware.NewJWTVerifier("test-secret", "lms")
	r := setupDebugRouter(nil, issuer, true)

	rec := do(t, r, http.MethodPost, "/debug/token", `{"user_id":7,"role":"admin"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)

	who, err := issuer.Verify(body["token"])
	require.NoError(t, err)
	assert.Equal(t, models.Identity{UserID: 7, Role: models.RoleAdmin}, who)
}

func TestDebugTokenValidation(t *testing.T) {
	r := setupDebugRouter(nil, middleware.NewJWTVerifier("test-secret", "lms"), true)

	tests := []struct {
		name string
		body string
	}{
		{name: "missing user", body: `{"role":"user"}`},
		{name: "unknown role", body: `{"user_id":1,"role":"instructor"}`},
		{name: "malformed", body: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/debug/token", tt.body).Code)
		})
	}
}

func TestDebugAuditTest(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	publisher.On("Publish", mock.Anything, "audit.messaging", mock.MatchedBy(func(ev any) bool {
		envelope, ok := ev.(telemetry.AuditEnvelope)
		return ok && envelope.Payload.Action == "debug.audit_test"
	})).Return(nil).Once()
	emitter := telemetry.NewAuditEmitter(publisher, "audit.messaging", "messaging-service", "test", zap.NewNop())
	r := setupDebugRouter(emitter, middleware.NewJWTVerifier("test-secret", "lms"), true)

	rec := do(t, r, http.MethodGet, "/debug/audit-test", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	publisher.AssertExpectations(t)
}

func TestDebugAuditTestWithoutEmitter(t *testing.T) {
	r := setupDebugRouter(nil, middleware.NewJWTVerifier("test-secret", "lms"), true)

	rec := do(t, r, http.MethodGet, "/debug/audit-test", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
