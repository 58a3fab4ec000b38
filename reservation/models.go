// Package reservation defines the append-only ledger of coin
// reservations. One reservation exists per attempted paid action, keyed
// by the transaction ID that doubles as the client's idempotency key.
package reservation

import (
	"time"

	"github.com/xraph/coins/action"
	"github.com/xraph/coins/id"
	"github.com/xraph/coins/types"
)

// Status is the lifecycle state of a reservation. Transitions are
// monotonic and one-shot: pending moves to committed or compensated
// exactly once, never backward, never both.
type Status string

const (
	StatusPending     Status = "pending"
	StatusCommitted   Status = "committed"
	StatusCompensated Status = "compensated"
)

// Reservation is one ledger row: coins tentatively withheld for one
// attempted paid action. The amount has already been subtracted from the
// visible balance while the reservation is pending; compensation
// restores it, commitment leaves the debit permanent.
type Reservation struct {
	types.Entity
	TransactionID id.TransactionID  `json:"transaction_id"`
	UserID        string            `json:"user_id"`
	Kind          action.Kind       `json:"kind"`
	Amount        types.Coins       `json:"amount"`
	Status        Status            `json:"status"`
	ResolvedAt    *time.Time        `json:"resolved_at,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// IsResolved reports whether the reservation has left the pending state.
func (r *Reservation) IsResolved() bool {
	return r.Status != StatusPending
}

// ListOpts filters reservation listings.
type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
