package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithLockRetryExhaustsThenSurfacesLockTimeout(t *testing.T) {
	old := retryBackoff
	retryBackoff = 0
	defer func() { retryBackoff = old }()

	attempts := 0
	err := withLockRetry(func() error {
		attempts++
		return errors.New("driver: database is locked")
	})
	require.ErrorIs(t, err, ErrLockTimeout)
	assert.Equal(t, lockRetries+1, attempts, "initial attempt plus bounded retries")
}

func TestWithLockRetryPassesBusinessErrorsThrough(t *testing.T) {
	attempts := 0
	err := withLockRetry(func() error {
		attempts++
		return ErrInsufficientBalance
	})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, 1, attempts, "business rejections are never retried")
}

func TestWithLockRetrySucceedsAfterTransientTimeout(t *testing.T) {
	old := retryBackoff
	retryBackoff = 0
	defer func() { retryBackoff = old }()

	attempts := 0
	err := withLockRetry(func() error {
		attempts++
		if attempts == 1 {
			return errors.New("ERROR: canceling statement due to lock timeout (SQLSTATE 55P03)")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestLockTimeoutDetection(t *testing.T) {
	assert.True(t, isLockTimeoutErr(errors.New("ERROR: canceling statement due to lock timeout (SQLSTATE 55P03)")))
	assert.True(t, isLockTimeoutErr(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, isLockTimeoutErr(errors.New("duplicate key value violates unique constraint")))
	assert.False(t, isLockTimeoutErr(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrLockTimeout))
	assert.True(t, IsRetryable(fmt.Errorf("reserve: %w", ErrLockTimeout)))
	assert.False(t, IsRetryable(ErrInsufficientBalance))
	assert.False(t, IsRetryable(ErrAlreadyReserved))
	assert.False(t, IsRetryable(nil))
}
