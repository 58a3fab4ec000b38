package audithook

// Action constants for audit events.
const (
	// Transaction actions
	ActionReservationCreated = "txn.reserved"
	ActionCommitted          = "txn.committed"
	ActionCompensated        = "txn.compensated"
	ActionExternalFailure    = "txn.external_failure"

	// Rejection actions
	ActionInsufficientFunds = "txn.insufficient_funds"
	ActionDebitConflict     = "txn.debit_conflict"

	// Sweep actions
	ActionSweepCompensated = "sweep.compensated"
	ActionSweepCompleted   = "sweep.completed"

	// Balance actions
	ActionBalanceCredited = "balance.credited"
)

// Resource constants for audit events.
const (
	ResourceTransaction = "transaction"
	ResourceBalance     = "balance"
	ResourceSweep       = "sweep"
)

// Category constants for audit events.
const (
	CategoryLedger         = "ledger"
	CategoryReconciliation = "reconciliation"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
