package models

import "time"

// TournamentStatus — publish/finalize lifecycle of a tournament
type TournamentStatus string

const (
	TournamentDraft      TournamentStatus = "draft"
	TournamentActive     TournamentStatus = "active"
	TournamentFinalizing TournamentStatus = "finalizing"
	TournamentCompleted  TournamentStatus = "completed"
	TournamentCancelled  TournamentStatus = "cancelled"
)

// Tournament is the finalization input for the reward distributor. This service
// owns the enrollment resource and the reward run for a tournament; standings
// arrive already computed from the match service.
type Tournament struct {
	ID   string `gorm:"primaryKey;type:uuid" json:"id"`
	Code string `gorm:"uniqueIndex;not null" json:"code"` // slug of Name
	Name string `gorm:"not null" json:"name"`

	Status   TournamentStatus `gorm:"type:varchar(16);not null;default:'draft'" json:"status"`
	EntryFee int64            `gorm:"not null;default:0" json:"entry_fee"` // credits

	// Reward budget: winner gets 3x BasePrize, podium 2x, everyone else 1x.
	BasePrize int64 `gorm:"not null;default:0" json:"base_prize"` // credits
	BaseXP    int64 `gorm:"not null;default:0" json:"base_xp"`

	StartTime time.Time `json:"start_time" gorm:"not null"`
	EndTime   time.Time `json:"end_time"`

	Timestamps

	Standings []TournamentStanding `json:"standings,omitempty" gorm:"foreignKey:TournamentID"`
}

// TournamentStanding — one participant's finalized placement. Written by the
// match service before finalization; read-only here.
type TournamentStanding struct {
	ID            string `gorm:"primaryKey;type:uuid" json:"id"`
	TournamentID  string `gorm:"not null;uniqueIndex:idx_standing_tournament_user,priority:1" json:"tournament_id"`
	ParticipantID string `gorm:"not null;uniqueIndex:idx_standing_tournament_user,priority:2" json:"participant_id"`

	FinalRank int   `gorm:"not null" json:"final_rank"` // 1 = winner
	Score     int64 `gorm:"not null;default:0" json:"score"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
