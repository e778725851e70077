package refstack

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuntimeError(t *testing.T) {
	base := errors.New("conf file not found")
	err := NewRuntimeError(base)

	assert.True(t, IsRuntimeError(err))
	assert.True(t, IsRuntimeError(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsRuntimeError(base))
	assert.False(t, IsRuntimeError(nil))
	assert.ErrorIs(t, err, base)
}

func TestTestFailureError(t *testing.T) {
	err := NewTestFailureError("3 of 10 tests failed")

	assert.True(t, IsTestFailureError(err))
	assert.True(t, IsTestFailureError(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsTestFailureError(errors.New("other")))
	assert.Contains(t, err.Error(), "3 of 10")
}

func TestPhaseErrorsUnwrap(t *testing.T) {
	base := errors.New("boom")

	assert.ErrorIs(t, &FetchError{Ref: "guideline.json", Err: base}, base)
	assert.ErrorIs(t, &CatalogError{Err: base}, base)
	assert.ErrorIs(t, &RunError{Err: base}, base)
	assert.ErrorIs(t, &UploadError{Kind: UploadNetwork, Err: base}, base)

	uploadErr := &UploadError{Kind: UploadAuth, Err: base}
	assert.Contains(t, uploadErr.Error(), "auth")
}
