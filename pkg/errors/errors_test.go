package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_IsMatchesByCode(t *testing.T) {
	err := Invariant("revision already exists for %s#%d", "posts", 1)
	wrapped := fmt.Errorf("start revision: %w", err)

	assert.True(t, stderrors.Is(wrapped, ErrInvariantViolation))
	assert.False(t, stderrors.Is(wrapped, ErrPersistenceFailure))
	assert.Equal(t, CodeInvariantViolation, CodeOf(wrapped))
}

func TestAppError_WithDetailDoesNotMutateSentinel(t *testing.T) {
	_ = ErrRevisionNotFound.WithDetail("id=4")
	assert.Empty(t, ErrRevisionNotFound.Detail)
}

func TestPersistence(t *testing.T) {
	t.Run("wraps plain errors", func(t *testing.T) {
		base := stderrors.New("connection reset")
		err := Persistence(base, "failed to duplicate row")

		assert.True(t, stderrors.Is(err, ErrPersistenceFailure))
		assert.True(t, stderrors.Is(err, base))
		assert.Contains(t, err.Error(), "connection reset")
	})

	t.Run("keeps app errors", func(t *testing.T) {
		inv := Invariant("cycle")
		assert.Same(t, inv, Persistence(inv, "ignored"))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, Persistence(nil, "noop"))
	})
}

func TestAsAppError(t *testing.T) {
	assert.Equal(t, CodeUnknown, AsAppError(stderrors.New("boom")).Code)
	assert.Equal(t, CodeNotFound, AsAppError(ErrNotFound).Code)
	assert.Equal(t, CodeSuccess, CodeOf(nil))
}
