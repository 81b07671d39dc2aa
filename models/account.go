package models

import (
	"time"

	"gorm.io/gorm"
)

// Account holds the credits and XP balances for one holder (external user).
// Balances are never written directly — every change goes through the ledger
// service so that each mutation leaves exactly one LedgerEntry behind.
type Account struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	HolderID string `gorm:"uniqueIndex;not null" json:"holder_id"` // external user ID from profile service

	Credits int64 `json:"credits" gorm:"not null;default:0"`
	XP      int64 `json:"xp" gorm:"not null;default:0"`

	// Version increments on every ledger mutation of this account.
	Version int64 `json:"version" gorm:"not null;default:0"`

	// Denormalized from profile service (safe copy at onboarding/sync time)
	HolderName string `json:"holder_name"`

	Timestamps
}

// Balance is the read view returned to callers — never the raw Account row.
type Balance struct {
	HolderID string `json:"holder_id"`
	Credits  int64  `json:"credits"`
	XP       int64  `json:"xp"`
}

// Timestamps adds GORM auto-times. Accounts are soft-deleted only.
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
