package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	err := Errf(CodeInsufficientAvailable, "Insufficient available quantity. requested=%s available=%s", "10.000", "5.000")

	code, ok := CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, CodeInsufficientAvailable, code)

	// Codes survive wrapping.
	wrapped := fmt.Errorf("apply action: %w", err)
	code, ok = CodeOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, CodeInsufficientAvailable, code)

	_, ok = CodeOf(errors.New("driver: bad connection"))
	assert.False(t, ok)
}

func TestIsBusiness(t *testing.T) {
	assert.True(t, IsBusiness(Errf(CodeBadRequest, "quantity_kg must be > 0")))
	assert.False(t, IsBusiness(errors.New("pq: connection refused")))
	assert.False(t, IsBusiness(nil))
}
