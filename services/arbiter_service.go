package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"arena-ledger-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ArbiterService coordinates every capacity allocation. It owns the lock
// ordering rule for the whole service: the Resource row is locked first, the
// Account row second, at every call site, so two operations touching the same
// two rows can never deadlock each other.
type ArbiterService struct {
	DB     *gorm.DB
	Ledger *LedgerService
}

func NewArbiterService(db *gorm.DB, ledger *LedgerService) *ArbiterService {
	return &ArbiterService{DB: db, Ledger: ledger}
}

// RefundResult is returned by Cancel.
type RefundResult struct {
	Reservation *models.Reservation `json:"reservation"`
	RefundEntry *models.LedgerEntry `json:"refund_entry,omitempty"`
}

// Reserve claims one unit of the resource's capacity for the holder and, when
// amount > 0, debits the holder's credits — all three side effects (consumed
// increment, ACTIVE reservation, ledger debit) commit atomically or not at all.
//
// State is always re-read after the lock is acquired; a request that lost the
// race to the lock re-evaluates against the winner's committed state and gets
// a deterministic terminal result: ErrAlreadyReserved when the pair already
// holds an ACTIVE reservation, ErrCapacityExceeded when the winner took the
// last slot, ErrInsufficientBalance when the debit would go negative.
func (s *ArbiterService) Reserve(resourceID, holderID string, amount int64, reference string) (*models.Reservation, error) {
	if amount < 0 {
		return nil, fmt.Errorf("%w: negative reserve amount %d", ErrInvariantViolation, amount)
	}
	var resv *models.Reservation
	err := withLockRetry(func() error {
		resv = nil
		return s.DB.Transaction(func(tx *gorm.DB) error {
			setLockTimeout(tx)

			// Lock the resource row first — fixed global order.
			var res models.Resource
			if err := forUpdate(tx).Where("id = ?", resourceID).First(&res).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: %s", ErrResourceNotFound, resourceID)
				}
				return err
			}
			if !capacityInvariantHolds(&res) {
				return fmt.Errorf("%w: resource %s has consumed=%d capacity=%d", ErrInvariantViolation, res.ID, res.Consumed, res.Capacity)
			}

			// Duplicate concurrent attempt: the pair already reached the state
			// the caller wants. Deterministic signal, nothing is mutated.
			var existing models.Reservation
			err := tx.Where("resource_id = ? AND holder_id = ? AND status = ?",
				resourceID, holderID, models.ReservationActive).First(&existing).Error
			if err == nil {
				return ErrAlreadyReserved
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			if !CheckCapacity(&res) {
				return ErrCapacityExceeded
			}

			// Guard-check-and-write runs in a savepoint nested inside the
			// lock-holding transaction: a debit failure discovered here rolls
			// back only the inner writes.
			return tx.Transaction(func(inner *gorm.DB) error {
				r := models.Reservation{
					ID:            uuid.NewString(),
					ResourceID:    resourceID,
					HolderID:      holderID,
					Status:        models.ReservationPending,
					AmountCharged: amount,
				}
				if err := inner.Create(&r).Error; err != nil {
					return err
				}

				if amount > 0 {
					// Account row lock happens inside apply — second in order.
					entry, err := s.Ledger.apply(inner, holderID, models.BalanceCredits, -amount,
						models.EntryTypeReservationCharge, reference, models.ActorSystem,
						fmt.Sprintf("reservation charge for %s (%s)", res.Name, res.Code))
					if err != nil {
						return err
					}
					r.ChargeEntryID = entry.ID
				}

				result := inner.Model(&models.Resource{}).
					Where("id = ? AND consumed < capacity", res.ID).
					Update("consumed", gorm.Expr("consumed + 1"))
				if result.Error != nil {
					return result.Error
				}
				if result.RowsAffected != 1 {
					// Guard accepted but the conditional increment missed:
					// something wrote past the lock. Abort, never commit.
					return fmt.Errorf("%w: guarded increment failed for resource %s", ErrInvariantViolation, res.ID)
				}

				// PENDING is visible only inside this transaction; the commit
				// is what makes the reservation ACTIVE to everyone else.
				r.Status = models.ReservationActive
				if err := inner.Model(&models.Reservation{}).Where("id = ?", r.ID).
					Updates(map[string]interface{}{"status": r.Status, "charge_entry_id": r.ChargeEntryID}).Error; err != nil {
					return err
				}
				resv = &r
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	log.Printf("reserved %s on %s for holder %s (charged %d)", resv.ID, resourceID, holderID, amount)
	return resv, nil
}

// Cancel transitions an ACTIVE reservation to CANCELLED exactly once, frees
// its capacity unit and refunds the original charge. The refund credit
// references the original charge entry, so a duplicate cancel that somehow
// raced past the status check is still a ledger no-op rather than a double
// refund. Cancelling an already-CANCELLED or CONSUMED reservation returns
// ErrInvalidState.
func (s *ArbiterService) Cancel(reservationID, reference string) (*RefundResult, error) {
	var out *RefundResult
	err := withLockRetry(func() error {
		out = nil
		return s.DB.Transaction(func(tx *gorm.DB) error {
			setLockTimeout(tx)

			// Read the reservation once to learn its resource, then take the
			// locks in the fixed order: resource row before anything else.
			var peek models.Reservation
			if err := tx.Where("id = ?", reservationID).First(&peek).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: %s", ErrReservationNotFound, reservationID)
				}
				return err
			}

			var res models.Resource
			if err := forUpdate(tx).Where("id = ?", peek.ResourceID).First(&res).Error; err != nil {
				return err
			}

			// Re-read the reservation under the lock — never trust the peek.
			var resv models.Reservation
			if err := forUpdate(tx).Where("id = ?", reservationID).First(&resv).Error; err != nil {
				return err
			}
			if resv.Status != models.ReservationActive {
				return fmt.Errorf("%w: reservation %s is %s", ErrInvalidState, resv.ID, resv.Status)
			}

			return tx.Transaction(func(inner *gorm.DB) error {
				now := time.Now()
				result := inner.Model(&models.Reservation{}).
					Where("id = ? AND status = ?", resv.ID, models.ReservationActive).
					Updates(map[string]interface{}{"status": models.ReservationCancelled, "cancelled_at": &now})
				if result.Error != nil {
					return result.Error
				}
				if result.RowsAffected != 1 {
					return fmt.Errorf("%w: reservation %s left ACTIVE under lock", ErrInvariantViolation, resv.ID)
				}

				dec := inner.Model(&models.Resource{}).
					Where("id = ? AND consumed > 0", res.ID).
					Update("consumed", gorm.Expr("consumed - 1"))
				if dec.Error != nil {
					return dec.Error
				}
				if dec.RowsAffected != 1 {
					return fmt.Errorf("%w: consumed underflow on resource %s", ErrInvariantViolation, res.ID)
				}

				resv.Status = models.ReservationCancelled
				resv.CancelledAt = &now
				out = &RefundResult{Reservation: &resv}

				if resv.AmountCharged > 0 {
					refundRef := reference
					if refundRef == "" {
						refundRef = "refund:" + resv.ChargeEntryID
					}
					entry, err := s.Ledger.apply(inner, resv.HolderID, models.BalanceCredits, resv.AmountCharged,
						models.EntryTypeReservationRefund, refundRef, models.ActorSystem,
						fmt.Sprintf("refund of charge %s for reservation %s", resv.ChargeEntryID, resv.ID))
					if err != nil {
						return err
					}
					out.RefundEntry = entry
				}
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	log.Printf("cancelled reservation %s (refunded %d)", reservationID, out.Reservation.AmountCharged)
	return out, nil
}

// Consume marks an ACTIVE reservation as used (holder showed up / enrolled).
// Terminal like CANCELLED, but the capacity unit stays consumed and nothing is
// refunded.
func (s *ArbiterService) Consume(reservationID string) (*models.Reservation, error) {
	var resv models.Reservation
	err := withLockRetry(func() error {
		return s.DB.Transaction(func(tx *gorm.DB) error {
			setLockTimeout(tx)
			if err := forUpdate(tx).Where("id = ?", reservationID).First(&resv).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: %s", ErrReservationNotFound, reservationID)
				}
				return err
			}
			if resv.Status != models.ReservationActive {
				return fmt.Errorf("%w: reservation %s is %s", ErrInvalidState, resv.ID, resv.Status)
			}
			now := time.Now()
			result := tx.Model(&models.Reservation{}).
				Where("id = ? AND status = ?", resv.ID, models.ReservationActive).
				Updates(map[string]interface{}{"status": models.ReservationConsumed, "consumed_at": &now})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected != 1 {
				return fmt.Errorf("%w: reservation %s left ACTIVE under lock", ErrInvariantViolation, resv.ID)
			}
			resv.Status = models.ReservationConsumed
			resv.ConsumedAt = &now
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &resv, nil
}
