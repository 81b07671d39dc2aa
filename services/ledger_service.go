package services

import (
	"errors"
	"fmt"
	"log"

	"arena-ledger-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LedgerService is the only write path to Account balances. Every mutation
// locks the account row, appends exactly one immutable LedgerEntry and updates
// the balance in the same transaction. Entries are idempotent per Reference:
// a repeated call returns the existing entry instead of writing a second one.
type LedgerService struct {
	DB *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{DB: db}
}

// EnsureAccount creates the Account row for a holder if it does not exist yet
// (idempotent, called on onboarding and by the sync worker).
func (s *LedgerService) EnsureAccount(holderID, holderName string) (*models.Account, error) {
	var acc models.Account
	err := s.DB.Where("holder_id = ?", holderID).First(&acc).Error
	if err == nil {
		return &acc, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	acc = models.Account{
		ID:         uuid.NewString(),
		HolderID:   holderID,
		HolderName: holderName,
	}
	if err := s.DB.Create(&acc).Error; err != nil {
		return nil, err
	}
	return &acc, nil
}

// Credit adds amount to a holder's credits balance. No-op returning the
// existing entry when reference was already applied.
func (s *LedgerService) Credit(holderID string, amount int64, typ models.EntryType, reference, actor, reason string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: credit amount must be positive, got %d", ErrInvariantViolation, amount)
	}
	var entry *models.LedgerEntry
	err := withLockRetry(func() error {
		return s.DB.Transaction(func(tx *gorm.DB) error {
			var err error
			entry, err = s.apply(tx, holderID, models.BalanceCredits, amount, typ, reference, actor, reason)
			return err
		})
	})
	return entry, err
}

// Debit subtracts amount from a holder's credits balance. Rejects with
// ErrInsufficientBalance when the result would be negative.
func (s *LedgerService) Debit(holderID string, amount int64, typ models.EntryType, reference, actor, reason string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: debit amount must be positive, got %d", ErrInvariantViolation, amount)
	}
	var entry *models.LedgerEntry
	err := withLockRetry(func() error {
		return s.DB.Transaction(func(tx *gorm.DB) error {
			var err error
			entry, err = s.apply(tx, holderID, models.BalanceCredits, -amount, typ, reference, actor, reason)
			return err
		})
	})
	return entry, err
}

// AwardXP appends an xp_award entry against the XP balance. XP never goes
// negative either, but in practice only positive awards exist.
func (s *LedgerService) AwardXP(holderID string, amount int64, reference, reason string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: xp award must be positive, got %d", ErrInvariantViolation, amount)
	}
	var entry *models.LedgerEntry
	err := withLockRetry(func() error {
		return s.DB.Transaction(func(tx *gorm.DB) error {
			var err error
			entry, err = s.apply(tx, holderID, models.BalanceXP, amount, models.EntryTypeXPAward, reference, models.ActorSystem, reason)
			return err
		})
	})
	return entry, err
}

// apply is the single code path for every balance change. Must run inside a
// transaction; the arbiter calls it from its own savepoint so a failed debit
// rolls back without disturbing the outer lock bookkeeping.
//
// Lock order note: apply locks only the Account row. Callers that also lock a
// Resource row (the arbiter) must do so before calling apply — resource row
// first, account row second, always.
func (s *LedgerService) apply(tx *gorm.DB, holderID string, kind models.BalanceKind, delta int64, typ models.EntryType, reference, actor, reason string) (*models.LedgerEntry, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: ledger entry requires a reason", ErrInvariantViolation)
	}
	if reference == "" {
		return nil, fmt.Errorf("%w: ledger entry requires an idempotency reference", ErrInvariantViolation)
	}
	if actor == "" {
		actor = models.ActorSystem
	}

	var acc models.Account
	if err := forUpdate(tx).Where("holder_id = ?", holderID).First(&acc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: holder %s", ErrAccountNotFound, holderID)
		}
		return nil, err
	}

	// Idempotency check happens under the account lock: two concurrent calls
	// with the same reference serialize here and the loser sees the winner's
	// entry on its locked re-read.
	var existing models.LedgerEntry
	if err := tx.Where("reference = ?", reference).First(&existing).Error; err == nil {
		log.Printf("ledger: reference %s already applied (entry %s), returning existing", reference, existing.ID)
		return &existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var before int64
	switch kind {
	case models.BalanceCredits:
		before = acc.Credits
	case models.BalanceXP:
		before = acc.XP
	default:
		return nil, fmt.Errorf("%w: unknown balance kind %q", ErrInvariantViolation, kind)
	}

	after := before + delta
	if after < 0 {
		return nil, fmt.Errorf("%w: holder %s has %d, needs %d", ErrInsufficientBalance, holderID, before, -delta)
	}

	entry := models.LedgerEntry{
		ID:           uuid.NewString(),
		AccountID:    acc.ID,
		Kind:         kind,
		Delta:        delta,
		BalanceAfter: after,
		Type:         typ,
		Reference:    reference,
		Actor:        actor,
		Reason:       reason,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}

	updates := map[string]interface{}{"version": acc.Version + 1}
	switch kind {
	case models.BalanceCredits:
		updates["credits"] = after
	case models.BalanceXP:
		updates["xp"] = after
	}
	if err := tx.Model(&models.Account{}).Where("id = ?", acc.ID).Updates(updates).Error; err != nil {
		return nil, err
	}

	return &entry, nil
}

// GetBalance returns the current credits and XP for a holder.
func (s *LedgerService) GetBalance(holderID string) (*models.Balance, error) {
	var acc models.Account
	if err := s.DB.Where("holder_id = ?", holderID).First(&acc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: holder %s", ErrAccountNotFound, holderID)
		}
		return nil, err
	}
	return &models.Balance{HolderID: acc.HolderID, Credits: acc.Credits, XP: acc.XP}, nil
}

// GetHistory returns a holder's ledger entries, newest first.
func (s *LedgerService) GetHistory(holderID string, limit int) ([]models.LedgerEntry, error) {
	if limit < 1 || limit > 500 {
		limit = 50
	}
	var acc models.Account
	if err := s.DB.Where("holder_id = ?", holderID).First(&acc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: holder %s", ErrAccountNotFound, holderID)
		}
		return nil, err
	}
	var entries []models.LedgerEntry
	err := s.DB.Where("account_id = ?", acc.ID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
