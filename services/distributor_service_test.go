package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"arena-ledger-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedTournament(t *testing.T, db *gorm.DB, basePrize, baseXP int64, participants int) *models.Tournament {
	t.Helper()
	tour := models.Tournament{
		ID:        uuid.NewString(),
		Code:      "autumn-open-" + uuid.NewString()[:8],
		Name:      "Autumn Open",
		Status:    models.TournamentFinalizing,
		BasePrize: basePrize,
		BaseXP:    baseXP,
		StartTime: time.Now().Add(-2 * time.Hour),
		EndTime:   time.Now().Add(-time.Hour),
	}
	require.NoError(t, db.Create(&tour).Error)
	for i := 1; i <= participants; i++ {
		require.NoError(t, db.Create(&models.TournamentStanding{
			ID:            uuid.NewString(),
			TournamentID:  tour.ID,
			ParticipantID: fmt.Sprintf("player-%d", i),
			FinalRank:     i,
			Score:         int64(1000 - i),
		}).Error)
	}
	return &tour
}

func TestDistributeRewardsByRank(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)
	dist := NewDistributorService(db, ledger)

	tour := seedTournament(t, db, 100, 50, 5)
	for i := 1; i <= 5; i++ {
		seedAccount(t, db, fmt.Sprintf("player-%d", i), 0)
	}

	report, err := dist.DistributeRewards(tour.ID)
	require.NoError(t, err)
	assert.True(t, report.Done)
	assert.Equal(t, 5, report.Participants)
	assert.Equal(t, 5, report.NewCredits)
	assert.Zero(t, report.Failed)
	// 300 + 200 + 200 + 100 + 100
	assert.Equal(t, int64(900), report.CreditsTotal)

	want := map[string][2]int64{
		"player-1": {300, 150}, // winner: 3x
		"player-2": {200, 100}, // podium: 2x
		"player-3": {200, 100},
		"player-4": {100, 50},
		"player-5": {100, 50},
	}
	for holder, amounts := range want {
		balance, err := ledger.GetBalance(holder)
		require.NoError(t, err)
		assert.Equal(t, amounts[0], balance.Credits, holder)
		assert.Equal(t, amounts[1], balance.XP, holder)
	}

	var tu models.Tournament
	require.NoError(t, db.First(&tu, "id = ?", tour.ID).Error)
	assert.Equal(t, models.TournamentCompleted, tu.Status)
}

func TestDistributeRewardsIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)
	dist := NewDistributorService(db, ledger)

	tour := seedTournament(t, db, 100, 0, 3)
	for i := 1; i <= 3; i++ {
		seedAccount(t, db, fmt.Sprintf("player-%d", i), 0)
	}

	first, err := dist.DistributeRewards(tour.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, first.NewCredits)

	second, err := dist.DistributeRewards(tour.ID)
	require.NoError(t, err)
	assert.True(t, second.Done)
	assert.Zero(t, second.NewCredits, "second run applies nothing")
	assert.Equal(t, 3, second.AlreadyApplied)

	for i := 1; i <= 3; i++ {
		balance, err := ledger.GetBalance(fmt.Sprintf("player-%d", i))
		require.NoError(t, err)
		expected := 100 * rankMultiplier(i)
		assert.Equal(t, expected, balance.Credits)

		var entries int64
		require.NoError(t, db.Model(&models.LedgerEntry{}).
			Where("account_id IN (SELECT id FROM accounts WHERE holder_id = ?)", fmt.Sprintf("player-%d", i)).
			Count(&entries).Error)
		assert.Equal(t, int64(1), entries, "one reward entry per participant")
	}
}

func TestDistributeRewardsResumesAfterPartialFailure(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)
	dist := NewDistributorService(db, ledger)

	tour := seedTournament(t, db, 100, 0, 3)
	// player-2 has no account yet, its credit will fail.
	seedAccount(t, db, "player-1", 0)
	seedAccount(t, db, "player-3", 0)

	first, err := dist.DistributeRewards(tour.ID)
	require.NoError(t, err)
	assert.False(t, first.Done)
	assert.Equal(t, 2, first.NewCredits)
	assert.Equal(t, 1, first.Failed)

	var failed models.FinalizationItem
	require.NoError(t, db.Where("participant_id = ?", "player-2").First(&failed).Error)
	assert.Equal(t, models.FinalizationItemFailed, failed.Status)
	assert.NotEmpty(t, failed.LastError)

	// The tournament stays finalizing until the run finishes.
	var tu models.Tournament
	require.NoError(t, db.First(&tu, "id = ?", tour.ID).Error)
	assert.Equal(t, models.TournamentFinalizing, tu.Status)

	// Fix the cause and rerun. Only the failed participant is touched.
	seedAccount(t, db, "player-2", 0)
	second, err := dist.DistributeRewards(tour.ID)
	require.NoError(t, err)
	assert.True(t, second.Done)
	assert.Equal(t, 1, second.NewCredits)
	assert.Equal(t, 2, second.AlreadyApplied)
	assert.Zero(t, second.Failed)

	for holder, want := range map[string]int64{"player-1": 300, "player-2": 200, "player-3": 200} {
		balance, err := ledger.GetBalance(holder)
		require.NoError(t, err)
		assert.Equal(t, want, balance.Credits, holder)
	}

	// Same run resumed, not a new one.
	assert.Equal(t, first.RunID, second.RunID)
	var runs int64
	require.NoError(t, db.Model(&models.FinalizationRun{}).
		Where("tournament_id = ?", tour.ID).Count(&runs).Error)
	assert.Equal(t, int64(1), runs)
}

func TestDistributeRewardsConcurrentTriggers(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)
	dist := NewDistributorService(db, ledger)

	tour := seedTournament(t, db, 100, 10, 4)
	for i := 1; i <= 4; i++ {
		seedAccount(t, db, fmt.Sprintf("player-%d", i), 0)
	}

	var wg sync.WaitGroup
	reports := make([]*DistributionReport, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i], errs[i] = dist.DistributeRewards(tour.ID)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	// Both callers may split the work, but the committed totals are exact.
	assert.Equal(t, 4, reports[0].NewCredits+reports[1].NewCredits)
	assert.Equal(t, reports[0].RunID, reports[1].RunID, "both triggers claim the same run")

	balance, err := ledger.GetBalance("player-1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), balance.Credits)
	assert.Equal(t, int64(30), balance.XP)

	var runs int64
	require.NoError(t, db.Model(&models.FinalizationRun{}).
		Where("tournament_id = ?", tour.ID).Count(&runs).Error)
	assert.Equal(t, int64(1), runs)
}

func TestDistributeRewardsZeroBudget(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)
	dist := NewDistributorService(db, ledger)

	tour := seedTournament(t, db, 0, 0, 2)
	seedAccount(t, db, "player-1", 0)
	seedAccount(t, db, "player-2", 0)

	// Zero awards write no entries, so nothing counts as newly credited.
	report, err := dist.DistributeRewards(tour.ID)
	require.NoError(t, err)
	assert.True(t, report.Done)
	assert.Zero(t, report.NewCredits)
	assert.Zero(t, report.CreditsTotal)

	var entries int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Count(&entries).Error)
	assert.Zero(t, entries)
}

func TestDistributeRewardsRejectsDraft(t *testing.T) {
	db := newTestDB(t)
	dist := NewDistributorService(db, NewLedgerService(db))

	tour := seedTournament(t, db, 100, 0, 1)
	require.NoError(t, db.Model(&models.Tournament{}).
		Where("id = ?", tour.ID).Update("status", models.TournamentDraft).Error)

	_, err := dist.DistributeRewards(tour.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestDistributeRewardsUnknownTournament(t *testing.T) {
	db := newTestDB(t)
	dist := NewDistributorService(db, NewLedgerService(db))

	_, err := dist.DistributeRewards("missing")
	require.ErrorIs(t, err, ErrResourceNotFound)
}

func TestRankMultipliers(t *testing.T) {
	assert.Equal(t, int64(3), rankMultiplier(1))
	assert.Equal(t, int64(2), rankMultiplier(2))
	assert.Equal(t, int64(2), rankMultiplier(3))
	assert.Equal(t, int64(1), rankMultiplier(4))
	assert.Equal(t, int64(1), rankMultiplier(40))
}
