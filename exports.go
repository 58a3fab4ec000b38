package coins

import "github.com/xraph/coins/types"

// Re-export common types for convenience so users don't have to import types package.

// Coins is re-exported from types package.
type Coins = types.Coins

// Entity is re-exported from types package.
type Entity = types.Entity

// Sum is re-exported from types package.
var Sum = types.Sum

// Re-export Entity constructor
var NewEntity = types.NewEntity
