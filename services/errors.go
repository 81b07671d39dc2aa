package services

import (
	"errors"
	"strings"
)

// Business and infrastructure error kinds returned by the ledger core. Callers
// branch on these with errors.Is; the HTTP layer maps them to status codes.
var (
	// ErrAlreadyReserved — an ACTIVE reservation already exists for the
	// (resource, holder) pair. The terminal state the caller wanted is already
	// reached; this is a deterministic signal, not a failure.
	ErrAlreadyReserved = errors.New("holder already has an active reservation for this resource")

	// ErrCapacityExceeded — the resource is genuinely full.
	ErrCapacityExceeded = errors.New("resource capacity exceeded")

	// ErrInsufficientBalance — the debit would take the account negative.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidState — the operation is not valid for the record's current
	// state (e.g. cancelling an already-cancelled reservation).
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrLockTimeout — a row lock could not be acquired within the statement
	// lock timeout. Safe to retry with backoff; the arbiter retries a bounded
	// number of times before surfacing it.
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrInvariantViolation — internal bug signal. Always aborts the enclosing
	// transaction, is never retried, and is never shown raw to end users.
	ErrInvariantViolation = errors.New("ledger invariant violation")

	ErrAccountNotFound     = errors.New("account not found")
	ErrResourceNotFound    = errors.New("resource not found")
	ErrReservationNotFound = errors.New("reservation not found")
)

// IsRetryable reports whether the caller may safely retry the operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// isLockTimeoutErr detects a database-level lock wait timeout. Postgres raises
// SQLSTATE 55P03 ("lock_not_available") when lock_timeout expires; sqlite
// reports SQLITE_BUSY when busy_timeout expires.
func isLockTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "55P03") ||
		strings.Contains(msg, "lock timeout") ||
		strings.Contains(msg, "canceling statement due to lock timeout") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
