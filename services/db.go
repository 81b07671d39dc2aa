package services

import (
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lockTimeout bounds how long a transaction may wait on a row lock before the
// statement fails with 55P03 and the caller gets ErrLockTimeout.
const lockTimeout = "3s"

// forUpdate applies a FOR UPDATE row lock. SQLite (used by the test suite) has
// a single writer and no FOR UPDATE syntax, so there the clause is skipped and
// BEGIN IMMEDIATE transactions provide the serialization instead.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// setLockTimeout bounds lock waits for the current transaction (Postgres only;
// sqlite bounds waits via busy_timeout in the DSN).
func setLockTimeout(tx *gorm.DB) {
	if tx.Dialector.Name() != "postgres" {
		return
	}
	if err := tx.Exec("SET LOCAL lock_timeout = '" + lockTimeout + "'").Error; err != nil {
		log.Printf("WARN: failed to set lock_timeout: %v", err)
	}
}

// lockRetries / retryBackoff bound local retries of lock-timeout failures
// before ErrLockTimeout surfaces to the caller.
const lockRetries = 3

var retryBackoff = 200 * time.Millisecond

// withLockRetry runs fn, retrying up to lockRetries times with linear backoff
// when the failure is a lock timeout. Business errors pass through untouched.
func withLockRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt <= lockRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * retryBackoff)
		}
		err = fn()
		if err == nil || !isLockTimeoutErr(err) {
			return err
		}
		log.Printf("lock timeout (attempt %d/%d), retrying: %v", attempt+1, lockRetries, err)
	}
	return ErrLockTimeout
}
