// Package plugin provides an extensible plugin system for the coin
// ledger. Plugins can hook into transaction lifecycle events to extend
// functionality.
package plugin

import (
	"context"
	"time"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Reservation lifecycle hooks
// ──────────────────────────────────────────────────

// OnReservationCreated is called when coins are debited and a pending
// reservation is recorded.
type OnReservationCreated interface {
	Plugin
	OnReservationCreated(ctx context.Context, res interface{}) error
}

// OnCommitted is called when a reservation transitions to committed
// after the external operation succeeded.
type OnCommitted interface {
	Plugin
	OnCommitted(ctx context.Context, res interface{}) error
}

// OnCompensated is called when a reservation transitions to compensated
// and its coins are credited back.
type OnCompensated interface {
	Plugin
	OnCompensated(ctx context.Context, res interface{}, reason string) error
}

// ──────────────────────────────────────────────────
// Rejection hooks
// ──────────────────────────────────────────────────

// OnInsufficientFunds is called when an execute attempt is rejected
// before any reservation is created.
type OnInsufficientFunds interface {
	Plugin
	OnInsufficientFunds(ctx context.Context, userID, kind string, cost, balance int64) error
}

// OnDebitConflict is called when the bounded debit retries are exhausted
// by concurrent balance writes.
type OnDebitConflict interface {
	Plugin
	OnDebitConflict(ctx context.Context, userID string, attempts int) error
}

// OnExternalFailure is called when an external operation fails and the
// reservation is about to be compensated.
type OnExternalFailure interface {
	Plugin
	OnExternalFailure(ctx context.Context, kind string, err error) error
}

// ──────────────────────────────────────────────────
// Sweep hooks
// ──────────────────────────────────────────────────

// OnSweepCompensated is called for every stale pending reservation the
// reconciliation sweep compensates.
type OnSweepCompensated interface {
	Plugin
	OnSweepCompensated(ctx context.Context, res interface{}, age time.Duration) error
}

// OnSweepCompleted is called after each reconciliation pass.
type OnSweepCompleted interface {
	Plugin
	OnSweepCompleted(ctx context.Context, compensated int, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Balance hooks
// ──────────────────────────────────────────────────

// OnBalanceCredited is called when coins are added to a balance, whether
// by compensation or top-up.
type OnBalanceCredited interface {
	Plugin
	OnBalanceCredited(ctx context.Context, userID string, amount int64) error
}
