package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors_StatusMapping(t *testing.T) {
	cause := fmt.Errorf("boom")
	tests := []struct {
		name   string
		err    *Error
		typ    ErrorType
		status int
	}{
		{"validation", ValidationError("bad score"), TypeValidation, http.StatusBadRequest},
		{"not found", NotFoundError("no image"), TypeNotFound, http.StatusNotFound},
		{"conflict", ConflictError("already rated"), TypeConflict, http.StatusConflict},
		{"rate limited", RateLimitedError("slow down"), TypeRateLimited, http.StatusTooManyRequests},
		{"internal", InternalError("failed", cause), TypeInternal, http.StatusInternalServerError},
		{"external", ExternalError("store failed", cause), TypeExternal, http.StatusBadGateway},
		{"unavailable", UnavailableError("store down", cause), TypeUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.err.Type)
			assert.Equal(t, tt.status, tt.err.HTTPStatus())
			assert.NotNil(t, tt.err.Context)
			assert.Contains(t, tt.err.Error(), string(tt.typ))
		})
	}
}

func TestInternalErrorWithoutCause(t *testing.T) {
	err := InternalError("something went wrong", nil)

	assert.Nil(t, err.Cause)
	assert.NotContains(t, err.Error(), "<nil>")
}

func TestUnknownTypeIs500(t *testing.T) {
	err := &Error{Type: "weird", Message: "x"}
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
}

func TestWithField(t *testing.T) {
	err := ValidationError("invalid score").
		WithField("field", "score").
		WithField("value", 7.5)

	assert.Equal(t, "score", err.Context["field"])
	assert.Equal(t, 7.5, err.Context["value"])
}

func TestWithField_NilContext(t *testing.T) {
	err := &Error{Type: TypeConflict, Message: "x"}
	err.WithField("filename", "a.jpg")
	assert.Equal(t, "a.jpg", err.Context["filename"])
}

func TestUnwrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := UnavailableError("store down", fmt.Errorf("wrapped: %w", sentinel))

	assert.True(t, errors.Is(err, sentinel))
}

func TestToResponse(t *testing.T) {
	err := NotFoundError("image not found").WithField("filename", "a.jpg")
	resp := err.ToResponse()

	assert.Equal(t, "image not found", resp.Error)
	assert.Equal(t, TypeNotFound, resp.Type)
	assert.Equal(t, "a.jpg", resp.Context["filename"])
}

func TestAsStructuredError(t *testing.T) {
	assert.Nil(t, AsStructuredError(nil))

	original := ConflictError("taken")
	wrapped := fmt.Errorf("submit: %w", original)
	assert.Same(t, original, AsStructuredError(wrapped))

	plain := errors.New("disk full")
	converted := AsStructuredError(plain)
	require.NotNil(t, converted)
	assert.Equal(t, TypeInternal, converted.Type)
	assert.Equal(t, plain, converted.Cause)
}
