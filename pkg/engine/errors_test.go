package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	err := NewValidationError("shoe_size", "favorite_color")

	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "shoe_size")
	assert.Contains(t, err.Error(), "favorite_color")

	var validationErr *ValidationError
	assert.True(t, errors.As(err, &validationErr))
	assert.Len(t, validationErr.Fields, 2)
}

func TestValidationErrorDetail(t *testing.T) {
	err := &ValidationError{Detail: "duplicate submission"}

	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "duplicate submission")
	assert.NotErrorIs(t, err, ErrForbidden)
}
