package store

import (
	"context"
	"time"

	"github.com/xraph/coins/balance"
	"github.com/xraph/coins/id"
	"github.com/xraph/coins/reservation"
	"github.com/xraph/coins/types"
)

// Store is the unified storage interface for the coin ledger. Instead of
// embedding the per-entity sub-interfaces, all methods are declared
// explicitly to avoid naming conflicts.
//
// Balance writes and reservation status transitions must be atomic
// within a driver: TryDebit is a compare-and-swap, Commit/Compensate are
// conditional one-shot transitions.
type Store interface {
	// Balance methods
	GetBalance(ctx context.Context, userID string) (*balance.Balance, error)
	CreateBalance(ctx context.Context, userID string, initial types.Coins) (*balance.Balance, error)
	TryDebit(ctx context.Context, userID string, amount types.Coins, expectedVersion int64) (int64, error)
	Credit(ctx context.Context, userID string, amount types.Coins) (int64, error)

	// Reservation methods
	CreatePending(ctx context.Context, r *reservation.Reservation) error
	GetReservation(ctx context.Context, txnID id.TransactionID) (*reservation.Reservation, error)
	CommitReservation(ctx context.Context, txnID id.TransactionID, resultMeta map[string]string) error
	CompensateReservation(ctx context.Context, txnID id.TransactionID, reason string) error
	ListStalePending(ctx context.Context, olderThan time.Time) ([]*reservation.Reservation, error)
	ListReservations(ctx context.Context, userID string, opts reservation.ListOpts) ([]*reservation.Reservation, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
