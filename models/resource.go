package models

import "time"

// ResourceType tags what the capacity units of a resource are
type ResourceType string

const (
	ResourceTypeEnrollmentSlot ResourceType = "enrollment_slot" // tournament/semester enrollment
	ResourceTypeBookingSlot    ResourceType = "booking_slot"    // session booking
)

// Resource is a finite pool of identical capacity units (enrollment slots for a
// tournament, booking slots for a session). Consumed moves only inside the
// arbiter's locked transaction and always satisfies 0 <= consumed <= capacity.
type Resource struct {
	ID   string       `gorm:"primaryKey;type:uuid" json:"id"`
	Code string       `gorm:"uniqueIndex;not null" json:"code"` // slug, e.g. "spring-cup-enrollment"
	Name string       `gorm:"not null" json:"name"`
	Type ResourceType `gorm:"type:varchar(32);not null" json:"type"`

	Capacity int `gorm:"not null;default:0" json:"capacity"`
	Consumed int `gorm:"not null;default:0" json:"consumed"`

	// UnitCost is the credits charged per reservation (0 = free resource)
	UnitCost int64 `gorm:"not null;default:0" json:"unit_cost"`

	// Optional link back to the tournament whose enrollment this resource gates
	TournamentID *string `gorm:"index" json:"tournament_id,omitempty"`

	Timestamps

	// Calculated (not stored)
	AvailableSlots int `json:"available_slots,omitempty" gorm:"-"`
}

// ReservationStatus — PENDING exists only inside the arbiter's transaction; a
// committed reservation is ACTIVE and terminates to CANCELLED or CONSUMED.
// Terminal states are never left.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationCancelled ReservationStatus = "CANCELLED"
	ReservationConsumed  ReservationStatus = "CONSUMED"
)

// Reservation is one holder's claim on one unit of a resource's capacity.
// At most one ACTIVE reservation may exist per (resource, holder) pair — the
// arbiter checks this under the resource row lock before writing.
type Reservation struct {
	ID         string `gorm:"primaryKey;type:uuid" json:"id"`
	ResourceID string `gorm:"not null;index:idx_resv_resource_holder,priority:1" json:"resource_id"`
	HolderID   string `gorm:"not null;index:idx_resv_resource_holder,priority:2" json:"holder_id"`

	Status        ReservationStatus `gorm:"type:varchar(16);not null" json:"status"`
	AmountCharged int64             `gorm:"not null;default:0" json:"amount_charged"`

	// ChargeEntryID links to the ledger entry of the original debit; the refund
	// on cancel references it to stay idempotent.
	ChargeEntryID string `json:"charge_entry_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
}
