package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("body", "required"), http.StatusBadRequest},
		{NotFound("conversation"), http.StatusNotFound},
		{Forbidden("not yours"), http.StatusForbidden},
		{Conflict("archived"), http.StatusConflict},
		{Internal("boom", errors.New("db down")), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), tc.err.Error())
	}
}

func TestCodeOfWrapped(t *testing.T) {
	err := fmt.Errorf("send: %w", NotFound("conversation"))
	assert.True(t, Is(err, CodeNotFound))
	assert.False(t, Is(nil, CodeNotFound))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("x")))
}

func TestInternalHidesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Internal("failed to store message", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to store message", err.Message)
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "conversation not found", PublicMessage(fmt.Errorf("wrap: %w", NotFound("conversation"))))
	assert.Equal(t, "internal error", PublicMessage(Internal("failed to store message", errors.New("db"))))
	assert.Equal(t, "internal error", PublicMessage(errors.New("raw")))
}
