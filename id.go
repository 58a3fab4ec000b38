package coins

import "github.com/xraph/coins/id"

// ID is the primary identifier type for coin ledger entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
