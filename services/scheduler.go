// services/scheduler.go
package services

import (
	"log"
	"time"

	"arena-ledger-system/models"

	"github.com/go-co-op/gocron/v2"
)

// StartFinalizationScheduler polls for tournaments whose end time has passed
// and triggers reward distribution for them. The distributor is idempotent and
// resumable, so a tick that overlaps a manual finalize or a previous partial
// run is harmless.
func (s *DistributorService) StartFinalizationScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every minute: finalize ended tournaments
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			var tournaments []models.Tournament
			now := time.Now()
			err := s.DB.Where("status IN ? AND end_time <= ?",
				[]models.TournamentStatus{models.TournamentActive, models.TournamentFinalizing}, now).
				Find(&tournaments).Error
			if err != nil {
				log.Printf("[Finalizer] DB error: %v", err)
				return
			}

			for _, t := range tournaments {
				if t.Status == models.TournamentActive {
					if err := s.DB.Model(&models.Tournament{}).
						Where("id = ? AND status = ?", t.ID, models.TournamentActive).
						Update("status", models.TournamentFinalizing).Error; err != nil {
						log.Printf("[Finalizer] Failed to mark %s finalizing: %v", t.ID, err)
						continue
					}
				}
				report, err := s.DistributeRewards(t.ID)
				if err != nil {
					log.Printf("[Finalizer] Distribution failed for %s: %v", t.ID, err)
					continue
				}
				log.Printf("[Finalizer] Tournament %s: %d new credits, %d already applied, %d failed, done=%t",
					t.Name, report.NewCredits, report.AlreadyApplied, report.Failed, report.Done)
			}
		}),
	)
}
