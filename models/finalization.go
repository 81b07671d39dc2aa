package models

import "time"

// FinalizationStatus — lifecycle of one tournament's reward distribution run
type FinalizationStatus string

const (
	FinalizationPending    FinalizationStatus = "PENDING"
	FinalizationInProgress FinalizationStatus = "IN_PROGRESS"
	FinalizationDone       FinalizationStatus = "DONE"
)

// FinalizationRun tracks the one-shot, resumable reward fan-out for a finalized
// tournament. The unique index on TournamentID makes the run itself idempotent:
// a second finalize trigger finds the existing run and resumes it instead of
// starting a parallel one.
type FinalizationRun struct {
	ID           string             `gorm:"primaryKey;type:uuid" json:"id"`
	TournamentID string             `gorm:"uniqueIndex;not null" json:"tournament_id"`
	Status       FinalizationStatus `gorm:"type:varchar(16);not null;default:'PENDING'" json:"status"`

	ParticipantCount int `gorm:"not null;default:0" json:"participant_count"`
	CompletedCount   int `gorm:"not null;default:0" json:"completed_count"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`

	Items []FinalizationItem `json:"items,omitempty" gorm:"foreignKey:RunID"`
}

// FinalizationItemStatus — per-participant completion marker
type FinalizationItemStatus string

const (
	FinalizationItemPending FinalizationItemStatus = "pending"
	FinalizationItemDone    FinalizationItemStatus = "done"
	FinalizationItemFailed  FinalizationItemStatus = "failed"
)

// FinalizationItem marks one participant's progress inside a run. Each item is
// committed in its own transaction, so a crash mid-batch leaves earlier credits
// intact and a retry only re-processes items not yet marked done.
type FinalizationItem struct {
	ID            string `gorm:"primaryKey;type:uuid" json:"id"`
	RunID         string `gorm:"not null;uniqueIndex:idx_final_run_participant,priority:1" json:"run_id"`
	ParticipantID string `gorm:"not null;uniqueIndex:idx_final_run_participant,priority:2" json:"participant_id"`

	Status        FinalizationItemStatus `gorm:"type:varchar(16);not null;default:'pending'" json:"status"`
	CreditsAward  int64                  `gorm:"not null;default:0" json:"credits_award"`
	XPAward       int64                  `gorm:"not null;default:0" json:"xp_award"`
	CreditEntryID string                 `json:"credit_entry_id,omitempty"` // ledger entry of the credits award
	LastError     string                 `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
