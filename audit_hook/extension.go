// Package audithook bridges coin transaction lifecycle events to an
// audit trail backend.
//
// It defines a local Recorder interface so the package does not import
// any concrete audit backend. Callers inject a RecorderFunc adapter that
// bridges to their backend at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/coins/plugin"
	"github.com/xraph/coins/reservation"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin               = (*Extension)(nil)
	_ plugin.OnReservationCreated = (*Extension)(nil)
	_ plugin.OnCommitted          = (*Extension)(nil)
	_ plugin.OnCompensated        = (*Extension)(nil)
	_ plugin.OnInsufficientFunds  = (*Extension)(nil)
	_ plugin.OnDebitConflict      = (*Extension)(nil)
	_ plugin.OnExternalFailure    = (*Extension)(nil)
	_ plugin.OnSweepCompensated   = (*Extension)(nil)
	_ plugin.OnSweepCompleted     = (*Extension)(nil)
	_ plugin.OnBalanceCredited    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// It is defined locally so that the audit_hook package carries no
// backend dependency — callers inject the concrete recorder at wiring
// time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges coin transaction lifecycle events to an audit trail
// backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Reservation lifecycle hooks
// ──────────────────────────────────────────────────

// OnReservationCreated implements plugin.OnReservationCreated.
func (e *Extension) OnReservationCreated(ctx context.Context, res interface{}) error {
	txnID, kvs := reservationFields(res)
	return e.record(ctx, ActionReservationCreated, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, txnID, CategoryLedger, nil, kvs...)
}

// OnCommitted implements plugin.OnCommitted.
func (e *Extension) OnCommitted(ctx context.Context, res interface{}) error {
	txnID, kvs := reservationFields(res)
	return e.record(ctx, ActionCommitted, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, txnID, CategoryLedger, nil, kvs...)
}

// OnCompensated implements plugin.OnCompensated.
func (e *Extension) OnCompensated(ctx context.Context, res interface{}, reason string) error {
	txnID, kvs := reservationFields(res)
	kvs = append(kvs, "compensation_reason", reason)
	return e.record(ctx, ActionCompensated, SeverityWarning, OutcomeFailure,
		ResourceTransaction, txnID, CategoryLedger, nil, kvs...)
}

// ──────────────────────────────────────────────────
// Rejection hooks
// ──────────────────────────────────────────────────

// OnInsufficientFunds implements plugin.OnInsufficientFunds.
func (e *Extension) OnInsufficientFunds(ctx context.Context, userID, kind string, cost, balance int64) error {
	return e.record(ctx, ActionInsufficientFunds, SeverityWarning, OutcomeFailure,
		ResourceBalance, userID, CategoryLedger, nil,
		"user_id", userID,
		"kind", kind,
		"cost", cost,
		"balance", balance,
	)
}

// OnDebitConflict implements plugin.OnDebitConflict.
func (e *Extension) OnDebitConflict(ctx context.Context, userID string, attempts int) error {
	return e.record(ctx, ActionDebitConflict, SeverityWarning, OutcomeFailure,
		ResourceBalance, userID, CategoryLedger, nil,
		"user_id", userID,
		"attempts", attempts,
	)
}

// OnExternalFailure implements plugin.OnExternalFailure.
func (e *Extension) OnExternalFailure(ctx context.Context, kind string, err error) error {
	return e.record(ctx, ActionExternalFailure, SeverityError, OutcomeFailure,
		ResourceTransaction, "", CategoryLedger, err,
		"kind", kind,
	)
}

// ──────────────────────────────────────────────────
// Sweep hooks
// ──────────────────────────────────────────────────

// OnSweepCompensated implements plugin.OnSweepCompensated.
func (e *Extension) OnSweepCompensated(ctx context.Context, res interface{}, age time.Duration) error {
	txnID, kvs := reservationFields(res)
	kvs = append(kvs, "age", age.String())
	return e.record(ctx, ActionSweepCompensated, SeverityWarning, OutcomeFailure,
		ResourceSweep, txnID, CategoryReconciliation, nil, kvs...)
}

// OnSweepCompleted implements plugin.OnSweepCompleted.
func (e *Extension) OnSweepCompleted(ctx context.Context, compensated int, elapsed time.Duration) error {
	// Quiet sweeps are the steady state; only audit actual work.
	if compensated == 0 {
		return nil
	}
	return e.record(ctx, ActionSweepCompleted, SeverityInfo, OutcomeSuccess,
		ResourceSweep, "", CategoryReconciliation, nil,
		"compensated", compensated,
		"elapsed", elapsed.String(),
	)
}

// ──────────────────────────────────────────────────
// Balance hooks
// ──────────────────────────────────────────────────

// OnBalanceCredited implements plugin.OnBalanceCredited.
func (e *Extension) OnBalanceCredited(ctx context.Context, userID string, amount int64) error {
	return e.record(ctx, ActionBalanceCredited, SeverityInfo, OutcomeSuccess,
		ResourceBalance, userID, CategoryLedger, nil,
		"user_id", userID,
		"amount", amount,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// reservationFields extracts the transaction id and common metadata
// pairs from the hook payload.
func reservationFields(res interface{}) (string, []any) {
	r, ok := res.(*reservation.Reservation)
	if !ok {
		return "", nil
	}
	return r.TransactionID.String(), []any{
		"transaction_id", r.TransactionID.String(),
		"user_id", r.UserID,
		"kind", string(r.Kind),
		"amount", r.Amount.Int64(),
	}
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
