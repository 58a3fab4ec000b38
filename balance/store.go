package balance

import (
	"context"

	"github.com/xraph/coins/types"
)

// Store is the per-entity contract for balance storage. Mutations are
// visible to all subsequent reads immediately; there is no stale-read
// window.
type Store interface {
	// Get returns the current balance for a user.
	Get(ctx context.Context, userID string) (*Balance, error)

	// Create provisions a balance with an initial amount. Fails if the
	// user already has one.
	Create(ctx context.Context, userID string, initial types.Coins) (*Balance, error)

	// TryDebit atomically subtracts amount via compare-and-swap against
	// expectedVersion. It fails with ErrInsufficientFunds when the amount
	// exceeds the current balance, or ErrVersionConflict when the version
	// is stale; the caller re-reads and retries with bounded attempts.
	TryDebit(ctx context.Context, userID string, amount types.Coins, expectedVersion int64) (newVersion int64, err error)

	// Credit unconditionally adds amount, used for compensation and
	// top-ups. Always succeeds barring storage failure.
	Credit(ctx context.Context, userID string, amount types.Coins) (newVersion int64, err error)
}
