package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"messaging-service/internal/apperr"
	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

// identity returns the caller set by the auth middleware, answering 401 when absent.
func identity(c *gin.Context) (models.Identity, bool) {
	who, ok := middleware.IdentityFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return models.Identity{}, false
	}
	return who, true
}

func respondError(c *gin.Context, err error) {
	body := gin.H{"error": apperr.PublicMessage(err)}
	var appErr *apperr.Error
	if errors.As(err, &appErr) && len(appErr.Fields) > 0 {
		body["fields"] = appErr.Fields
	}
	c.JSON(apperr.HTTPStatus(err), body)
}

// bindJSON decodes the request body, answering 400 with field detail on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, bindingError(err))
		return false
	}
	return true
}

func bindingError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[jsonName(fe.Field())] = fe.Tag()
		}
		return apperr.ValidationFields(fields)
	}
	return apperr.Validation("body", "malformed JSON")
}

// jsonName turns a Go field name into its snake_case wire name.
func jsonName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(field[i-1] >= 'A' && field[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// queryID reads an optional positive id from the query string, accepting the
// camelCase alias older clients send.
func queryID(c *gin.Context, name, alias string) (int64, bool) {
	raw := c.Query(name)
	if raw == "" && alias != "" {
		raw = c.Query(alias)
	}
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondError(c, apperr.Validation(name, "must be a positive integer"))
		return 0, false
	}
	return id, true
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		respondError(c, apperr.Validation("limit", "must be a non-negative integer"))
		return 0, false
	}
	return limit, true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, apperr.Validation(name, "must be a positive integer"))
		return 0, false
	}
	return id, true
}
