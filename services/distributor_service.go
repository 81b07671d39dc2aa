package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"arena-ledger-system/models"
	"arena-ledger-system/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DistributorService fans out per-participant rewards at tournament
// finalization. The whole batch is resumable: each participant's credit is its
// own independently committed transaction, tracked by a FinalizationItem
// marker, so a crash mid-batch leaves completed credits intact and a rerun
// only touches participants not yet marked done. Because every credit carries
// a per-participant idempotency reference, running the distribution twice —
// retried request or two admins clicking finalize at once — yields identical
// final balances.
type DistributorService struct {
	DB     *gorm.DB
	Ledger *LedgerService
}

func NewDistributorService(db *gorm.DB, ledger *LedgerService) *DistributorService {
	return &DistributorService{DB: db, Ledger: ledger}
}

// DistributionReport summarizes one DistributeRewards invocation.
type DistributionReport struct {
	TournamentID   string `json:"tournament_id"`
	RunID          string `json:"run_id"`
	Participants   int    `json:"participants"`
	NewCredits     int    `json:"new_credits"`     // credits actually applied by this call
	AlreadyApplied int    `json:"already_applied"` // satisfied by an earlier call or run
	Failed         int    `json:"failed"`
	CreditsTotal   int64  `json:"credits_total"` // sum of credits applied by this call
	Done           bool   `json:"done"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// Reward multipliers by final rank: winner triples the base, podium doubles.
func rankMultiplier(rank int) int64 {
	switch {
	case rank == 1:
		return 3
	case rank <= 3:
		return 2
	default:
		return 1
	}
}

func rewardFor(t *models.Tournament, rank int) (credits, xp int64) {
	m := rankMultiplier(rank)
	return t.BasePrize * m, t.BaseXP * m
}

// DistributeRewards runs (or resumes) the reward fan-out for a tournament.
func (s *DistributorService) DistributeRewards(tournamentID string) (*DistributionReport, error) {
	var t models.Tournament
	if err := s.DB.Where("id = ?", tournamentID).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: tournament %s", ErrResourceNotFound, tournamentID)
		}
		return nil, err
	}
	if t.Status == models.TournamentDraft || t.Status == models.TournamentCancelled {
		return nil, fmt.Errorf("%w: tournament %s is %s, rewards are only distributed at finalization", ErrInvalidState, t.ID, t.Status)
	}

	run, err := s.claimRun(&t)
	if err != nil {
		return nil, err
	}

	report := &DistributionReport{
		TournamentID: tournamentID,
		RunID:        run.ID,
		Participants: run.ParticipantCount,
		GeneratedAt:  time.Now().UTC(),
	}

	if run.Status == models.FinalizationDone {
		report.AlreadyApplied = run.ParticipantCount
		report.Done = true
		return report, nil
	}

	// Pending items in final-standing order. Each iteration commits on its
	// own: cancelling the batch mid-flight leaves finished credits intact —
	// compensation, not rollback, is the only way to undo a committed credit.
	var items []models.FinalizationItem
	if err := s.DB.
		Joins("JOIN tournament_standings ON tournament_standings.participant_id = finalization_items.participant_id AND tournament_standings.tournament_id = ?", tournamentID).
		Where("finalization_items.run_id = ? AND finalization_items.status <> ?", run.ID, models.FinalizationItemDone).
		Order("tournament_standings.final_rank ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	report.AlreadyApplied = run.ParticipantCount - len(items)

	for i := range items {
		item := &items[i]
		wasNew, err := s.processItem(&t, run, item)
		if err != nil {
			log.Printf("finalization %s: participant %s failed: %v", run.ID, item.ParticipantID, err)
			s.markItemFailed(item, err)
			report.Failed++
			continue
		}
		if wasNew {
			report.NewCredits++
			report.CreditsTotal += item.CreditsAward
		} else {
			report.AlreadyApplied++
		}
	}

	done, err := s.closeRunIfComplete(run, &t)
	if err != nil {
		return nil, err
	}
	report.Done = done

	if done {
		s.archiveReport(report)
	}
	return report, nil
}

// claimRun finds or creates the FinalizationRun for the tournament under a row
// lock. The unique index on tournament_id collapses concurrent creates; the
// loser of that race re-reads the winner's row.
func (s *DistributorService) claimRun(t *models.Tournament) (*models.FinalizationRun, error) {
	var run models.FinalizationRun
	err := withLockRetry(func() error {
		return s.DB.Transaction(func(tx *gorm.DB) error {
			setLockTimeout(tx)

			err := forUpdate(tx).Where("tournament_id = ?", t.ID).First(&run).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				var standings []models.TournamentStanding
				if err := tx.Where("tournament_id = ?", t.ID).
					Order("final_rank ASC").Find(&standings).Error; err != nil {
					return err
				}
				run = models.FinalizationRun{
					ID:               uuid.NewString(),
					TournamentID:     t.ID,
					Status:           models.FinalizationPending,
					ParticipantCount: len(standings),
				}
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&run).Error; err != nil {
					return err
				}
				// Re-read: either our row or the one a concurrent trigger won with.
				if err := forUpdate(tx).Where("tournament_id = ?", t.ID).First(&run).Error; err != nil {
					return err
				}
				items := make([]models.FinalizationItem, 0, len(standings))
				for _, st := range standings {
					credits, xp := rewardFor(t, st.FinalRank)
					items = append(items, models.FinalizationItem{
						ID:            uuid.NewString(),
						RunID:         run.ID,
						ParticipantID: st.ParticipantID,
						Status:        models.FinalizationItemPending,
						CreditsAward:  credits,
						XPAward:       xp,
					})
				}
				if len(items) > 0 {
					if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&items).Error; err != nil {
						return err
					}
				}
			} else if err != nil {
				return err
			}

			if run.Status == models.FinalizationPending {
				now := time.Now()
				if err := tx.Model(&models.FinalizationRun{}).Where("id = ?", run.ID).
					Updates(map[string]interface{}{"status": models.FinalizationInProgress, "started_at": &now}).Error; err != nil {
					return err
				}
				run.Status = models.FinalizationInProgress
				run.StartedAt = &now
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// processItem credits one participant in its own transaction. Returns whether
// the credit was newly applied (false when the ledger reference was already
// satisfied by an earlier attempt).
func (s *DistributorService) processItem(t *models.Tournament, run *models.FinalizationRun, item *models.FinalizationItem) (bool, error) {
	creditRef := fmt.Sprintf("tournament:%s:%s", t.ID, item.ParticipantID)
	xpRef := fmt.Sprintf("tournament-xp:%s:%s", t.ID, item.ParticipantID)

	wasNew := false
	err := withLockRetry(func() error {
		return s.DB.Transaction(func(tx *gorm.DB) error {
			setLockTimeout(tx)

			var existed int64
			if err := tx.Model(&models.LedgerEntry{}).Where("reference = ?", creditRef).Count(&existed).Error; err != nil {
				return err
			}
			// A zero-credit award writes no entry, so it never counts as new.
			wasNew = existed == 0 && item.CreditsAward > 0

			var entryID string
			if item.CreditsAward > 0 {
				entry, err := s.Ledger.apply(tx, item.ParticipantID, models.BalanceCredits, item.CreditsAward,
					models.EntryTypeTournamentReward, creditRef, models.ActorSystem,
					fmt.Sprintf("prize for tournament %s (%s)", t.Name, t.Code))
				if err != nil {
					return err
				}
				entryID = entry.ID
			}
			if item.XPAward > 0 {
				if _, err := s.Ledger.apply(tx, item.ParticipantID, models.BalanceXP, item.XPAward,
					models.EntryTypeXPAward, xpRef, models.ActorSystem,
					fmt.Sprintf("xp for tournament %s (%s)", t.Name, t.Code)); err != nil {
					return err
				}
			}

			result := tx.Model(&models.FinalizationItem{}).
				Where("id = ? AND status <> ?", item.ID, models.FinalizationItemDone).
				Updates(map[string]interface{}{
					"status":          models.FinalizationItemDone,
					"credit_entry_id": entryID,
					"last_error":      "",
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 1 {
				if err := tx.Model(&models.FinalizationRun{}).Where("id = ?", run.ID).
					Update("completed_count", gorm.Expr("completed_count + 1")).Error; err != nil {
					return err
				}
			} else {
				// A concurrent trigger finished this participant first.
				wasNew = false
			}
			return nil
		})
	})
	return wasNew, err
}

// markItemFailed records the failure for the resume pass; best effort, the
// batch keeps going.
func (s *DistributorService) markItemFailed(item *models.FinalizationItem, cause error) {
	msg := cause.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	if err := s.DB.Model(&models.FinalizationItem{}).
		Where("id = ? AND status <> ?", item.ID, models.FinalizationItemDone).
		Updates(map[string]interface{}{"status": models.FinalizationItemFailed, "last_error": msg}).Error; err != nil {
		log.Printf("failed to mark finalization item %s failed: %v", item.ID, err)
	}
}

// closeRunIfComplete flips the run to DONE (and the tournament to completed)
// once every participant is marked done. Idempotent.
func (s *DistributorService) closeRunIfComplete(run *models.FinalizationRun, t *models.Tournament) (bool, error) {
	done := false
	err := withLockRetry(func() error {
		return s.DB.Transaction(func(tx *gorm.DB) error {
			setLockTimeout(tx)
			var r models.FinalizationRun
			if err := forUpdate(tx).Where("id = ?", run.ID).First(&r).Error; err != nil {
				return err
			}
			if r.Status == models.FinalizationDone {
				done = true
				return nil
			}
			var remaining int64
			if err := tx.Model(&models.FinalizationItem{}).
				Where("run_id = ? AND status <> ?", r.ID, models.FinalizationItemDone).
				Count(&remaining).Error; err != nil {
				return err
			}
			if remaining > 0 {
				return nil
			}
			now := time.Now()
			if err := tx.Model(&models.FinalizationRun{}).Where("id = ?", r.ID).
				Updates(map[string]interface{}{"status": models.FinalizationDone, "completed_at": &now}).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.Tournament{}).Where("id = ?", t.ID).
				Update("status", models.TournamentCompleted).Error; err != nil {
				return err
			}
			done = true
			return nil
		})
	})
	return done, err
}

// archiveReport uploads the final report JSON to R2 for audit retention.
// Archival failure never fails the run.
func (s *DistributorService) archiveReport(report *DistributionReport) {
	if !utils.R2Enabled() {
		return
	}
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Printf("failed to marshal finalization report for %s: %v", report.TournamentID, err)
		return
	}
	key := fmt.Sprintf("finalizations/%s/%s.json", report.TournamentID, report.RunID)
	url, err := utils.UploadReportToR2(key, payload)
	if err != nil {
		log.Printf("failed to archive finalization report for %s: %v", report.TournamentID, err)
		return
	}
	log.Printf("archived finalization report for %s at %s", report.TournamentID, url)
}
