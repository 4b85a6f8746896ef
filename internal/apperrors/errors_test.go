package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeNotFound, CodeOf(NotFound("order", "po-1")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", New(CodeConcurrency, "conflict"))
	assert.Equal(t, CodeConcurrency, CodeOf(wrapped))
}

func TestHasCode(t *testing.T) {
	err := Wrap(errors.New("db down"), CodeIntegration, "query failed")
	assert.True(t, HasCode(err, CodeIntegration))
	assert.False(t, HasCode(err, CodeNotFound))
	assert.False(t, HasCode(errors.New("plain"), CodeIntegration))
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("root")
	err := Wrap(cause, CodeInternal, "wrapped")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "INTERNAL")
	assert.Contains(t, err.Error(), "root")
}

func TestInvalidInput(t *testing.T) {
	err := InvalidInput("approver", "approver is required")
	assert.Equal(t, CodeValidation, CodeOf(err))
	assert.Contains(t, err.Error(), "approver")
}
