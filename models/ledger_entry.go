package models

import "time"

// EntryType tags what kind of balance change a ledger entry records
type EntryType string

const (
	EntryTypeReservationCharge EntryType = "reservation_charge"
	EntryTypeReservationRefund EntryType = "reservation_refund"
	EntryTypeTournamentReward  EntryType = "tournament_reward"
	EntryTypeAdjustment        EntryType = "adjustment"
	EntryTypeXPAward           EntryType = "xp_award"
)

// BalanceKind selects which Account column an entry moves
type BalanceKind string

const (
	BalanceCredits BalanceKind = "credits"
	BalanceXP      BalanceKind = "xp"
)

// ActorSystem is the Actor value for machine-initiated entries; admin-initiated
// entries carry the admin's user ID instead.
const ActorSystem = "system"

// LedgerEntry is one immutable record of one balance change. Rows are appended
// inside the same transaction that moves the Account balance and are never
// updated or deleted afterwards — corrections are new compensating entries.
//
// Reference is the caller-supplied idempotency key: the unique index means a
// retried debit/credit finds the existing row instead of writing a second one.
type LedgerEntry struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	AccountID string `gorm:"not null;index:idx_ledger_account_time,priority:1" json:"account_id"`

	Kind         BalanceKind `gorm:"type:varchar(16);not null;default:'credits'" json:"kind"`
	Delta        int64       `gorm:"not null" json:"delta"` // signed
	BalanceAfter int64       `gorm:"not null" json:"balance_after"`

	Type      EntryType `gorm:"type:varchar(32);not null" json:"type"`
	Reference string    `gorm:"uniqueIndex;not null" json:"reference"`
	Actor     string    `gorm:"not null;default:'system'" json:"actor"`
	Reason    string    `gorm:"not null" json:"reason"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index:idx_ledger_account_time,priority:2"`
	// No UpdatedAt and no DeletedAt: this table is append-only.
}
