package services

import "arena-ledger-system/models"

// CheckCapacity is the capacity guard: a pure predicate over the locked read
// of a resource. Accepted iff consumed < capacity. There is no queueing and no
// priority — whichever request holds the resource row lock is evaluated first,
// so simultaneous requests are serialized by the lock, not by the application.
func CheckCapacity(r *models.Resource) bool {
	return r.Consumed < r.Capacity
}

// capacityInvariantHolds guards the stored counters themselves; a violation
// here means a write bypassed the arbiter and must abort the transaction.
func capacityInvariantHolds(r *models.Resource) bool {
	return r.Consumed >= 0 && r.Consumed <= r.Capacity
}
