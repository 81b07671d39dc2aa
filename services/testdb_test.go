package services

import (
	"path/filepath"
	"testing"

	"arena-ledger-system/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens a file-backed sqlite database for one test. BEGIN IMMEDIATE
// transactions plus a generous busy timeout give the same serialization the
// production Postgres row locks provide, so the concurrency tests exercise
// real parallel transactions.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "ledger.db") +
		"?_txlock=immediate&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Account{},
		&models.LedgerEntry{},
		&models.Resource{},
		&models.Reservation{},
		&models.Tournament{},
		&models.TournamentStanding{},
		&models.FinalizationRun{},
		&models.FinalizationItem{},
	))
	return db
}

func seedAccount(t *testing.T, db *gorm.DB, holderID string, credits int64) *models.Account {
	t.Helper()
	acc := &models.Account{
		ID:       uuid.NewString(),
		HolderID: holderID,
		Credits:  credits,
	}
	require.NoError(t, db.Create(acc).Error)
	return acc
}

func seedResource(t *testing.T, db *gorm.DB, capacity int, unitCost int64) *models.Resource {
	t.Helper()
	res := &models.Resource{
		ID:       uuid.NewString(),
		Code:     "test-" + uuid.NewString()[:8],
		Name:     "test resource",
		Type:     models.ResourceTypeBookingSlot,
		Capacity: capacity,
		UnitCost: unitCost,
	}
	require.NoError(t, db.Create(res).Error)
	return res
}
