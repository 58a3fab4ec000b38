// Package observability provides a metrics extension that records coin
// transaction lifecycle counts and latencies via a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/coins/plugin"
	"github.com/xraph/coins/reservation"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin               = (*MetricsExtension)(nil)
	_ plugin.OnInit               = (*MetricsExtension)(nil)
	_ plugin.OnReservationCreated = (*MetricsExtension)(nil)
	_ plugin.OnCommitted          = (*MetricsExtension)(nil)
	_ plugin.OnCompensated        = (*MetricsExtension)(nil)
	_ plugin.OnInsufficientFunds  = (*MetricsExtension)(nil)
	_ plugin.OnDebitConflict      = (*MetricsExtension)(nil)
	_ plugin.OnExternalFailure    = (*MetricsExtension)(nil)
	_ plugin.OnSweepCompensated   = (*MetricsExtension)(nil)
	_ plugin.OnSweepCompleted     = (*MetricsExtension)(nil)
	_ plugin.OnBalanceCredited    = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a wallet plugin to automatically track ledger metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Reservation metrics
	ReservationsCreated Counter
	Committed           Counter
	Compensated         Counter
	CoinsDebited        Counter
	CoinsCredited       Counter

	// Rejection metrics
	InsufficientFunds Counter
	DebitConflicts    Counter
	ExternalFailures  Counter

	// Sweep metrics
	SweepCompensated    Counter
	SweepPasses         Counter
	SweepLatency        Histogram
	SweepReservationAge Histogram

	// Error metrics
	StoreErrors  Counter
	PluginErrors Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Reservation metrics
		ReservationsCreated: factory.Counter("coins.reservation.created"),
		Committed:           factory.Counter("coins.reservation.committed"),
		Compensated:         factory.Counter("coins.reservation.compensated"),
		CoinsDebited:        factory.Counter("coins.balance.debited"),
		CoinsCredited:       factory.Counter("coins.balance.credited"),

		// Rejection metrics
		InsufficientFunds: factory.Counter("coins.reject.insufficient_funds"),
		DebitConflicts:    factory.Counter("coins.reject.debit_conflict"),
		ExternalFailures:  factory.Counter("coins.external.failures"),

		// Sweep metrics
		SweepCompensated:    factory.Counter("coins.sweep.compensated"),
		SweepPasses:         factory.Counter("coins.sweep.passes"),
		SweepLatency:        factory.Histogram("coins.sweep.latency_ms"),
		SweepReservationAge: factory.Histogram("coins.sweep.reservation_age_s"),

		// Error metrics
		StoreErrors:  factory.Counter("coins.store.errors"),
		PluginErrors: factory.Counter("coins.plugin.errors"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Reservation lifecycle hooks
// ──────────────────────────────────────────────────

// OnReservationCreated implements plugin.OnReservationCreated.
func (m *MetricsExtension) OnReservationCreated(_ context.Context, res interface{}) error {
	m.ReservationsCreated.Inc()
	if r, ok := res.(*reservation.Reservation); ok {
		m.CoinsDebited.Add(float64(r.Amount.Int64()))
	}
	return nil
}

// OnCommitted implements plugin.OnCommitted.
func (m *MetricsExtension) OnCommitted(_ context.Context, _ interface{}) error {
	m.Committed.Inc()
	return nil
}

// OnCompensated implements plugin.OnCompensated.
func (m *MetricsExtension) OnCompensated(_ context.Context, _ interface{}, _ string) error {
	m.Compensated.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Rejection hooks
// ──────────────────────────────────────────────────

// OnInsufficientFunds implements plugin.OnInsufficientFunds.
func (m *MetricsExtension) OnInsufficientFunds(_ context.Context, _, _ string, _, _ int64) error {
	m.InsufficientFunds.Inc()
	return nil
}

// OnDebitConflict implements plugin.OnDebitConflict.
func (m *MetricsExtension) OnDebitConflict(_ context.Context, _ string, _ int) error {
	m.DebitConflicts.Inc()
	return nil
}

// OnExternalFailure implements plugin.OnExternalFailure.
func (m *MetricsExtension) OnExternalFailure(_ context.Context, _ string, _ error) error {
	m.ExternalFailures.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Sweep hooks
// ──────────────────────────────────────────────────

// OnSweepCompensated implements plugin.OnSweepCompensated.
func (m *MetricsExtension) OnSweepCompensated(_ context.Context, _ interface{}, age time.Duration) error {
	m.SweepCompensated.Inc()
	m.SweepReservationAge.Observe(age.Seconds())
	return nil
}

// OnSweepCompleted implements plugin.OnSweepCompleted.
func (m *MetricsExtension) OnSweepCompleted(_ context.Context, _ int, elapsed time.Duration) error {
	m.SweepPasses.Inc()
	m.SweepLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// ──────────────────────────────────────────────────
// Balance hooks
// ──────────────────────────────────────────────────

// OnBalanceCredited implements plugin.OnBalanceCredited.
func (m *MetricsExtension) OnBalanceCredited(_ context.Context, _ string, amount int64) error {
	m.CoinsCredited.Add(float64(amount))
	return nil
}
