package reservation

import (
	"context"
	"time"

	"github.com/xraph/coins/id"
)

// Store is the per-entity contract for the reservation ledger. Status
// transitions must be enforced with conditional writes, never
// read-modify-write: a reservation row has one writer per transaction ID
// by design, but the sweep and a late-arriving resolution may race.
type Store interface {
	// CreatePending appends a new pending reservation. Fails with
	// ErrDuplicateTransaction when the transaction ID already exists, in
	// which case the caller polls the existing row instead of re-reserving.
	CreatePending(ctx context.Context, r *Reservation) error

	// Get returns the reservation for a transaction ID.
	Get(ctx context.Context, txnID id.TransactionID) (*Reservation, error)

	// Commit transitions pending to committed. Fails with ErrNotPending
	// when the reservation is missing or already resolved; safe to ignore
	// on retry.
	Commit(ctx context.Context, txnID id.TransactionID, resultMeta map[string]string) error

	// Compensate transitions pending to compensated, recording the
	// reason. Same idempotency contract as Commit.
	Compensate(ctx context.Context, txnID id.TransactionID, reason string) error

	// ListStalePending returns pending reservations created before the
	// given cutoff, for the reconciliation sweep.
	ListStalePending(ctx context.Context, olderThan time.Time) ([]*Reservation, error)

	// ListByUser returns a user's reservations, newest first.
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]*Reservation, error)
}
