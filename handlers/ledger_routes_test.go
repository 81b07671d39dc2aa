package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"arena-ledger-system/models"
	"arena-ledger-system/services"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "routes.db") +
		"?_txlock=immediate&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
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

	ledger := services.NewLedgerService(db)
	arbiter := services.NewArbiterService(db, ledger)
	distributor := services.NewDistributorService(db, ledger)

	app := fiber.New()
	SetupLedgerRoutes(app, arbiter, distributor, ledger)
	return app, db
}

func seedRouteFixtures(t *testing.T, db *gorm.DB, unitCost int64) *models.Resource {
	t.Helper()
	require.NoError(t, db.Create(&models.Account{
		ID:       uuid.NewString(),
		HolderID: "holder-1",
		Credits:  100,
	}).Error)
	res := &models.Resource{
		ID:       uuid.NewString(),
		Code:     "court-" + uuid.NewString()[:8],
		Name:     "court",
		Type:     models.ResourceTypeBookingSlot,
		Capacity: 3,
		UnitCost: unitCost,
	}
	require.NoError(t, db.Create(res).Error)
	return res
}

func TestReserveRejectsNegativeAmount(t *testing.T) {
	app, db := newTestApp(t)
	res := seedRouteFixtures(t, db, 10)

	req := httptest.NewRequest("POST", "/resources/"+res.ID+"/reserve",
		strings.NewReader(`{"holder_id":"holder-1","amount":-5,"reference":"neg-1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "holder-1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	// Rejected before reaching the arbiter: no reservation, no charge.
	var count int64
	require.NoError(t, db.Model(&models.Reservation{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, db.Model(&models.LedgerEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestReserveDefaultsAbsentAmountToUnitCost(t *testing.T) {
	app, db := newTestApp(t)
	res := seedRouteFixtures(t, db, 25)

	req := httptest.NewRequest("POST", "/resources/"+res.ID+"/reserve",
		strings.NewReader(`{"holder_id":"holder-1","reference":"default-1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "holder-1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var resv models.Reservation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&resv))
	assert.Equal(t, int64(25), resv.AmountCharged)

	var acc models.Account
	require.NoError(t, db.Where("holder_id = ?", "holder-1").First(&acc).Error)
	assert.Equal(t, int64(75), acc.Credits)
}

func TestReserveExplicitZeroAmountIsFree(t *testing.T) {
	app, db := newTestApp(t)
	res := seedRouteFixtures(t, db, 25)

	req := httptest.NewRequest("POST", "/resources/"+res.ID+"/reserve",
		strings.NewReader(`{"holder_id":"holder-1","amount":0,"reference":"free-1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "holder-1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var acc models.Account
	require.NoError(t, db.Where("holder_id = ?", "holder-1").First(&acc).Error)
	assert.Equal(t, int64(100), acc.Credits, "explicit zero never falls back to unit cost")
}

func TestStatusForMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{services.ErrAlreadyReserved, fiber.StatusConflict},
		{services.ErrCapacityExceeded, fiber.StatusConflict},
		{services.ErrInvalidState, fiber.StatusConflict},
		{services.ErrInsufficientBalance, fiber.StatusPaymentRequired},
		{services.ErrLockTimeout, fiber.StatusServiceUnavailable},
		{services.ErrAccountNotFound, fiber.StatusNotFound},
		{services.ErrInvariantViolation, fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := statusFor(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
	}

	// Retryable errors keep their 503 through wrapping; invariant details never leak.
	status, msg := statusFor(services.ErrInvariantViolation)
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "internal error", msg)
}
