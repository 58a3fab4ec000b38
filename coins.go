package coins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/coins/action"
	"github.com/xraph/coins/cost"
	"github.com/xraph/coins/id"
	"github.com/xraph/coins/plugin"
	"github.com/xraph/coins/reservation"
	"github.com/xraph/coins/store"
	"github.com/xraph/coins/types"
)

// Wallet is the coin transaction engine. It coordinates
// reserve → invoke → commit-or-compensate for every paid action and runs
// the background reconciliation sweep that refunds abandoned
// reservations.
type Wallet struct {
	store     store.Store
	plugins   *plugin.Registry
	logger    *slog.Logger
	executors map[action.Kind]action.Executor

	// Configuration
	opTimeout     time.Duration
	gracePeriod   time.Duration
	sweepInterval time.Duration
	debitAttempts int
	autoMigrate   bool
	now           func() time.Time

	// Background workers
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a new Wallet instance.
func New(s store.Store, opts ...Option) *Wallet {
	w := &Wallet{
		store:         s,
		plugins:       plugin.NewRegistry(),
		logger:        slog.Default(),
		executors:     make(map[action.Kind]action.Executor),
		opTimeout:     60 * time.Second,
		gracePeriod:   5 * time.Minute,
		sweepInterval: time.Minute,
		debitAttempts: 3,
		autoMigrate:   true,
		now:           func() time.Time { return time.Now().UTC() },
		stopChan:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Option configures a Wallet instance.
type Option func(*Wallet)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Wallet) {
		w.logger = logger
		w.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(w *Wallet) {
		_ = w.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithExecutor registers the executor for an action kind.
func WithExecutor(kind action.Kind, exec action.Executor) Option {
	return func(w *Wallet) {
		w.executors[kind] = exec
	}
}

// WithOperationTimeout bounds how long an external operation may run.
func WithOperationTimeout(d time.Duration) Option {
	return func(w *Wallet) {
		w.opTimeout = d
	}
}

// WithGracePeriod sets how long a reservation may stay pending before
// the sweep compensates it. Must exceed the operation timeout.
func WithGracePeriod(d time.Duration) Option {
	return func(w *Wallet) {
		w.gracePeriod = d
	}
}

// WithSweepInterval sets how frequently the reconciliation sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(w *Wallet) {
		w.sweepInterval = d
	}
}

// WithDebitAttempts bounds the reread-and-retry loop on balance version
// conflicts before Execute surfaces ErrConflict.
func WithDebitAttempts(n int) Option {
	return func(w *Wallet) {
		if n > 0 {
			w.debitAttempts = n
		}
	}
}

// WithoutAutoMigrate skips store migration on Start. Use when the
// schema is managed externally.
func WithoutAutoMigrate() Option {
	return func(w *Wallet) {
		w.autoMigrate = false
	}
}

// WithClock overrides the wallet's time source. Used by tests to
// fast-forward the reconciliation sweep.
func WithClock(now func() time.Time) Option {
	return func(w *Wallet) {
		w.now = now
	}
}

// Start migrates the store and begins the background sweep worker.
func (w *Wallet) Start(ctx context.Context) error {
	if w.gracePeriod < w.opTimeout {
		return fmt.Errorf("%w: grace period %s is below operation timeout %s",
			ErrInvalidInput, w.gracePeriod, w.opTimeout)
	}

	if w.autoMigrate {
		if err := w.store.Migrate(ctx); err != nil {
			return err
		}
	}

	w.plugins.EmitInit(ctx, w)

	w.wg.Add(1)
	go w.sweepWorker(ctx)

	w.logger.Info("wallet started",
		"operation_timeout", w.opTimeout,
		"grace_period", w.gracePeriod,
		"sweep_interval", w.sweepInterval,
	)

	return nil
}

// Stop shuts down the Wallet.
func (w *Wallet) Stop() error {
	close(w.stopChan)
	w.wg.Wait()

	ctx := context.Background()
	w.plugins.EmitShutdown(ctx)

	return w.store.Close()
}

// ──────────────────────────────────────────────────
// Client facade
// ──────────────────────────────────────────────────

// ExecuteRequest describes one paid action attempt.
type ExecuteRequest struct {
	UserID   string        `json:"user_id"`
	ResumeID string        `json:"resume_id"`
	Kind     action.Kind   `json:"kind"`
	Params   action.Params `json:"params"`

	// TransactionID is the optional client-generated idempotency key.
	// When empty, the wallet generates one.
	TransactionID id.TransactionID `json:"transaction_id,omitempty"`
}

// ExecuteResult is the outcome of a successful paid action.
type ExecuteResult struct {
	TransactionID id.TransactionID `json:"transaction_id"`
	Cost          types.Coins      `json:"cost"`
	NewBalance    types.Coins      `json:"new_balance"`
	Result        *action.Result   `json:"result"`
}

// Balance returns the user's current coin balance.
func (w *Wallet) Balance(ctx context.Context, userID string) (types.Coins, error) {
	b, err := w.store.GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	return b.Amount, nil
}

// CanAfford prices the action and reports whether the user's balance
// covers it. Safe to call repeatedly for previews; it has no side
// effects.
func (w *Wallet) CanAfford(ctx context.Context, userID string, kind action.Kind, params action.Params) (bool, types.Coins, error) {
	if !kind.Valid() {
		return false, 0, ErrUnknownAction
	}

	c := cost.Cost(kind, params)

	b, err := w.store.GetBalance(ctx, userID)
	if err != nil {
		return false, c, err
	}
	return b.CanAfford(c), c, nil
}

// CreateBalance provisions a balance with an initial amount.
func (w *Wallet) CreateBalance(ctx context.Context, userID string, initial types.Coins) (types.Coins, error) {
	if initial.IsNegative() {
		return 0, ValidationError{Field: "initial", Message: "must not be negative"}
	}

	b, err := w.store.CreateBalance(ctx, userID, initial)
	if err != nil {
		return 0, err
	}
	return b.Amount, nil
}

// TopUp unconditionally credits coins to a balance.
func (w *Wallet) TopUp(ctx context.Context, userID string, amount types.Coins) (types.Coins, error) {
	if !amount.IsPositive() {
		return 0, ValidationError{Field: "amount", Message: "must be positive"}
	}

	if _, err := w.store.Credit(ctx, userID, amount); err != nil {
		return 0, err
	}
	w.plugins.EmitBalanceCredited(ctx, userID, amount.Int64())

	b, err := w.store.GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	return b.Amount, nil
}

// Reservation returns the ledger row for a transaction ID, for callers
// polling the outcome of a duplicate submission.
func (w *Wallet) Reservation(ctx context.Context, txnID id.TransactionID) (*reservation.Reservation, error) {
	return w.store.GetReservation(ctx, txnID)
}

// History lists a user's reservations, newest first.
func (w *Wallet) History(ctx context.Context, userID string, opts reservation.ListOpts) ([]*reservation.Reservation, error) {
	if userID == "" {
		return nil, ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	return w.store.ListReservations(ctx, userID, opts)
}

// Execute runs one paid action end to end: price it, reserve the coins,
// invoke the external operation, then commit the debit or compensate it.
// It is the only entry point for paid actions; reservation and
// resolution are never exposed as separately callable steps.
func (w *Wallet) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	if req.UserID == "" {
		return nil, ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Kind)
	}

	exec, ok := w.executors[req.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoExecutor, req.Kind)
	}

	c := cost.Cost(req.Kind, req.Params)

	txnID := req.TransactionID
	if txnID.IsNil() {
		txnID = id.NewTransactionID()
	} else if _, err := w.store.GetReservation(ctx, txnID); err == nil {
		// Client retry while the original is in flight or already
		// resolved: poll, don't re-reserve.
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTransaction, txnID)
	}

	res, err := w.reserve(ctx, txnID, req, c)
	if err != nil {
		return nil, err
	}
	w.plugins.EmitReservationCreated(ctx, res)

	w.logger.Debug("reservation created",
		"transaction_id", txnID.String(),
		"user_id", req.UserID,
		"kind", string(req.Kind),
		"amount", c.Int64(),
	)

	result, opErr := w.invoke(ctx, exec, req, c)
	if opErr != nil {
		return nil, w.compensate(ctx, res, opErr)
	}

	return w.commit(ctx, res, result)
}

// reserve debits the balance under optimistic concurrency and records
// the pending reservation. Debit-then-record: a ledger row is only ever
// created after its amount has been subtracted, so a row without a debit
// cannot exist.
func (w *Wallet) reserve(ctx context.Context, txnID id.TransactionID, req ExecuteRequest, c types.Coins) (*reservation.Reservation, error) {
	debited := false

	for attempt := 0; attempt < w.debitAttempts; attempt++ {
		b, err := w.store.GetBalance(ctx, req.UserID)
		if err != nil {
			return nil, err
		}

		if !b.CanAfford(c) {
			w.plugins.EmitInsufficientFunds(ctx, req.UserID, string(req.Kind), c.Int64(), b.Amount.Int64())
			return nil, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, c, b.Amount)
		}

		if _, err = w.store.TryDebit(ctx, req.UserID, c, b.Version); err == nil {
			debited = true
			break
		}
		if errors.Is(err, ErrInsufficientFunds) {
			w.plugins.EmitInsufficientFunds(ctx, req.UserID, string(req.Kind), c.Int64(), b.Amount.Int64())
			return nil, err
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		// Stale version: reread and retry.
	}

	if !debited {
		w.plugins.EmitDebitConflict(ctx, req.UserID, w.debitAttempts)
		return nil, fmt.Errorf("%w: user %s after %d attempts", ErrConflict, req.UserID, w.debitAttempts)
	}

	now := w.now()
	res := &reservation.Reservation{
		Entity:        types.Entity{CreatedAt: now, UpdatedAt: now},
		TransactionID: txnID,
		UserID:        req.UserID,
		Kind:          req.Kind,
		Amount:        c,
		Status:        reservation.StatusPending,
		Metadata: map[string]string{
			"resume_id": req.ResumeID,
		},
	}

	if err := w.store.CreatePending(ctx, res); err != nil {
		// The attempt is treated as not-started: hand the coins back
		// before surfacing the error.
		if _, creditErr := w.store.Credit(ctx, req.UserID, c); creditErr != nil {
			w.logger.Error("failed to return debit after reservation failure",
				"transaction_id", txnID.String(),
				"user_id", req.UserID,
				"amount", c.Int64(),
				"error", creditErr,
			)
		}
		return nil, err
	}

	return res, nil
}

// invoke runs the external operation outside any lock. The context is
// detached from the caller's cancellation: if the user gives up, the
// operation still runs to completion or timeout so the reservation can
// be resolved rather than abandoned.
func (w *Wallet) invoke(ctx context.Context, exec action.Executor, req ExecuteRequest, c types.Coins) (*action.Result, error) {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.opTimeout)
	defer cancel()

	return exec.Execute(opCtx, action.Request{
		UserID:   req.UserID,
		ResumeID: req.ResumeID,
		Kind:     req.Kind,
		Params:   req.Params,
		Cost:     c,
	})
}

// commit finalizes a successful paid action. The earlier debit stands
// permanently; the balance is not touched again.
func (w *Wallet) commit(ctx context.Context, res *reservation.Reservation, result *action.Result) (*ExecuteResult, error) {
	var meta map[string]string
	if result != nil {
		meta = result.Metadata
	}

	err := w.store.CommitReservation(ctx, res.TransactionID, meta)
	switch {
	case err == nil:
		res.Status = reservation.StatusCommitted
		w.plugins.EmitCommitted(ctx, res)

	case errors.Is(err, ErrNotPending):
		// The sweep resolved this reservation first and refunded the
		// coins. The artifact still exists; the user gets it for free
		// rather than risking a silent unrefunded charge.
		w.logger.Warn("reservation already resolved by sweep, debit refunded",
			"transaction_id", res.TransactionID.String(),
			"user_id", res.UserID,
		)

	default:
		return nil, err
	}

	newBalance, balErr := w.Balance(ctx, res.UserID)
	if balErr != nil {
		w.logger.Warn("failed to read balance after commit",
			"user_id", res.UserID,
			"error", balErr,
		)
	}

	return &ExecuteResult{
		TransactionID: res.TransactionID,
		Cost:          res.Amount,
		NewBalance:    newBalance,
		Result:        result,
	}, nil
}

// compensate undoes the reservation for a failed external operation:
// mark the row compensated, then credit the coins back.
func (w *Wallet) compensate(ctx context.Context, res *reservation.Reservation, opErr error) error {
	w.plugins.EmitExternalFailure(ctx, string(res.Kind), opErr)

	err := w.store.CompensateReservation(ctx, res.TransactionID, opErr.Error())
	switch {
	case err == nil:
		if _, creditErr := w.store.Credit(ctx, res.UserID, res.Amount); creditErr != nil {
			w.logger.Error("compensation credit failed, sweep will not retry this row",
				"transaction_id", res.TransactionID.String(),
				"user_id", res.UserID,
				"amount", res.Amount.Int64(),
				"error", creditErr,
			)
			return &ExternalError{Kind: string(res.Kind), Err: opErr, Refunded: false}
		}

		res.Status = reservation.StatusCompensated
		w.plugins.EmitCompensated(ctx, res, opErr.Error())
		w.plugins.EmitBalanceCredited(ctx, res.UserID, res.Amount.Int64())

	case errors.Is(err, ErrNotPending):
		// Already compensated by the sweep; the refund happened there.

	default:
		w.logger.Error("compensation failed, reservation left to the sweep",
			"transaction_id", res.TransactionID.String(),
			"error", err,
		)
		return &ExternalError{Kind: string(res.Kind), Err: opErr, Refunded: false}
	}

	return &ExternalError{Kind: string(res.Kind), Err: opErr, Refunded: true}
}

// ──────────────────────────────────────────────────
// Reconciliation sweep
// ──────────────────────────────────────────────────

// sweepWorker periodically compensates stale pending reservations.
func (w *Wallet) sweepWorker(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return

		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.logger.Error("reconciliation sweep failed", "error", err)
			}
		}
	}
}

// Sweep compensates every reservation left pending past the grace
// period, crediting its amount back. Under ambiguity the bias is always
// refund, never silent commit: an unconfirmed external side effect is
// treated as not having happened. Returns the number of reservations
// compensated.
func (w *Wallet) Sweep(ctx context.Context) (int, error) {
	start := w.now()
	cutoff := start.Add(-w.gracePeriod)

	stale, err := w.store.ListStalePending(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	compensated := 0
	for _, res := range stale {
		err := w.store.CompensateReservation(ctx, res.TransactionID, "reconciliation timeout")
		if errors.Is(err, ErrNotPending) {
			// Resolved between listing and compensation.
			continue
		}
		if err != nil {
			w.logger.Error("sweep compensation failed",
				"transaction_id", res.TransactionID.String(),
				"error", err,
			)
			continue
		}

		if _, err := w.store.Credit(ctx, res.UserID, res.Amount); err != nil {
			w.logger.Error("sweep credit failed",
				"transaction_id", res.TransactionID.String(),
				"user_id", res.UserID,
				"amount", res.Amount.Int64(),
				"error", err,
			)
			continue
		}

		compensated++
		age := start.Sub(res.CreatedAt)
		res.Status = reservation.StatusCompensated
		w.plugins.EmitSweepCompensated(ctx, res, age)
		w.plugins.EmitBalanceCredited(ctx, res.UserID, res.Amount.Int64())

		w.logger.Info("swept stale reservation",
			"transaction_id", res.TransactionID.String(),
			"user_id", res.UserID,
			"amount", res.Amount.Int64(),
			"age", age,
		)
	}

	if len(stale) > 0 {
		w.plugins.EmitSweepCompleted(ctx, compensated, w.now().Sub(start))
	}

	return compensated, nil
}
