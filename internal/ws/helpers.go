package ws

import (
	"strings"

	"github.com/google/uuid"

	"messaging-service/internal/middleware"
)

func newConnID() string {
	return uuid.NewString()
}

// tokenFrom reads the bearer token from the Authorization header, falling back to the
// token query parameter for browser clients that cannot set headers.
func tokenFrom(header, query string) (string, bool) {
	if header != "" {
		return middleware.BearerToken(header)
	}
	query = strings.TrimSpace(query)
	return query, query != ""
}
