// Package types provides common types used across the coin ledger.
package types

import (
	"encoding/json"
	"fmt"
)

// Coins represents an amount of virtual coins. All arithmetic is
// integer-only: no floating point, no fractional coins.
type Coins int64

// Arithmetic operations

// Add adds two Coins values.
func (c Coins) Add(other Coins) Coins { return c + other }

// Subtract subtracts another Coins value.
func (c Coins) Subtract(other Coins) Coins { return c - other }

// Multiply multiplies the Coins by a quantity.
func (c Coins) Multiply(qty int64) Coins { return c * Coins(qty) }

// Comparison helpers

// IsZero reports whether the amount is zero.
func (c Coins) IsZero() bool { return c == 0 }

// IsPositive reports whether the amount is greater than zero.
func (c Coins) IsPositive() bool { return c > 0 }

// IsNegative reports whether the amount is less than zero.
func (c Coins) IsNegative() bool { return c < 0 }

// Int64 returns the amount as a plain int64.
func (c Coins) Int64() int64 { return int64(c) }

// String formats the amount for display, e.g. "20 coins" or "1 coin".
func (c Coins) String() string {
	if c == 1 || c == -1 {
		return fmt.Sprintf("%d coin", int64(c))
	}
	return fmt.Sprintf("%d coins", int64(c))
}

// Sum returns the total of the given amounts.
func Sum(amounts ...Coins) Coins {
	var total Coins
	for _, a := range amounts {
		total += a
	}
	return total
}

// MarshalJSON implements json.Marshaler, encoding the amount as a bare integer.
func (c Coins) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(c))
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Coins) UnmarshalJSON(data []byte) error {
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("coins: unmarshal amount: %w", err)
	}
	*c = Coins(v)
	return nil
}
