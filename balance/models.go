// Package balance defines the durable per-user coin balance and its
// store contract. Balances are mutated only under optimistic
// concurrency: every successful write increments Version, and a write
// carrying a stale version is rejected so the caller can re-read and
// retry.
package balance

import (
	"github.com/xraph/coins/types"
)

// Balance is the durable coin balance of one user.
type Balance struct {
	types.Entity
	UserID  string      `json:"user_id"`
	Amount  types.Coins `json:"amount"`
	Version int64       `json:"version"`
}

// CanAfford reports whether the balance covers the given amount.
func (b *Balance) CanAfford(amount types.Coins) bool {
	return b.Amount >= amount
}
