package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/apperr"
	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
	"messaging-service/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, issuer *middleware.JWTVerifier, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", "debug.audit_test", "audit test", 0, map[string]any{
			"request_id": requestIDFromContext(c),
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Issues a short-lived token so the service can be exercised without the LMS.
	router.POST("/debug/token", func(c *gin.Context) {
		var req struct {
			UserID int64  `json:"user_id" binding:"required,gt=0"`
			Role   string `json:"role" binding:"required,oneof=user admin"`
		}
		if !bindJSON(c, &req) {
			return
		}
		role, err := models.ParseRole(req.Role)
		if err != nil {
			respondError(c, apperr.Validation("role", err.Error()))
			return
		}
		token, err := issuer.Issue(models.Identity{UserID: req.UserID, Role: role}, time.Hour)
		if err != nil {
			respondError(c, apperr.Internal("failed to issue token", err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	})
}
