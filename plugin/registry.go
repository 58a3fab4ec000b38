package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit               []OnInit
	onShutdown           []OnShutdown
	onReservationCreated []OnReservationCreated
	onCommitted          []OnCommitted
	onCompensated        []OnCompensated
	onInsufficientFunds  []OnInsufficientFunds
	onDebitConflict      []OnDebitConflict
	onExternalFailure    []OnExternalFailure
	onSweepCompensated   []OnSweepCompensated
	onSweepCompleted     []OnSweepCompleted
	onBalanceCredited    []OnBalanceCredited
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnReservationCreated); ok {
		r.onReservationCreated = append(r.onReservationCreated, v)
	}
	if v, ok := p.(OnCommitted); ok {
		r.onCommitted = append(r.onCommitted, v)
	}
	if v, ok := p.(OnCompensated); ok {
		r.onCompensated = append(r.onCompensated, v)
	}
	if v, ok := p.(OnInsufficientFunds); ok {
		r.onInsufficientFunds = append(r.onInsufficientFunds, v)
	}
	if v, ok := p.(OnDebitConflict); ok {
		r.onDebitConflict = append(r.onDebitConflict, v)
	}
	if v, ok := p.(OnExternalFailure); ok {
		r.onExternalFailure = append(r.onExternalFailure, v)
	}
	if v, ok := p.(OnSweepCompensated); ok {
		r.onSweepCompensated = append(r.onSweepCompensated, v)
	}
	if v, ok := p.(OnSweepCompleted); ok {
		r.onSweepCompleted = append(r.onSweepCompleted, v)
	}
	if v, ok := p.(OnBalanceCredited); ok {
		r.onBalanceCredited = append(r.onBalanceCredited, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnReservationCreated)(nil)).Elem(), "OnReservationCreated")
	checkInterface(reflect.TypeOf((*OnCommitted)(nil)).Elem(), "OnCommitted")
	checkInterface(reflect.TypeOf((*OnCompensated)(nil)).Elem(), "OnCompensated")
	checkInterface(reflect.TypeOf((*OnInsufficientFunds)(nil)).Elem(), "OnInsufficientFunds")
	checkInterface(reflect.TypeOf((*OnDebitConflict)(nil)).Elem(), "OnDebitConflict")
	checkInterface(reflect.TypeOf((*OnExternalFailure)(nil)).Elem(), "OnExternalFailure")
	checkInterface(reflect.TypeOf((*OnSweepCompensated)(nil)).Elem(), "OnSweepCompensated")
	checkInterface(reflect.TypeOf((*OnSweepCompleted)(nil)).Elem(), "OnSweepCompleted")
	checkInterface(reflect.TypeOf((*OnBalanceCredited)(nil)).Elem(), "OnBalanceCredited")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitReservationCreated emits a reservation created event.
func (r *Registry) EmitReservationCreated(ctx context.Context, res interface{}) {
	r.mu.RLock()
	plugins := r.onReservationCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReservationCreated(ctx, res)
		}); err != nil {
			r.logger.Warn("plugin OnReservationCreated failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCommitted emits a reservation committed event.
func (r *Registry) EmitCommitted(ctx context.Context, res interface{}) {
	r.mu.RLock()
	plugins := r.onCommitted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCommitted(ctx, res)
		}); err != nil {
			r.logger.Warn("plugin OnCommitted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCompensated emits a reservation compensated event.
func (r *Registry) EmitCompensated(ctx context.Context, res interface{}, reason string) {
	r.mu.RLock()
	plugins := r.onCompensated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCompensated(ctx, res, reason)
		}); err != nil {
			r.logger.Warn("plugin OnCompensated failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInsufficientFunds emits a pre-reservation rejection event.
func (r *Registry) EmitInsufficientFunds(ctx context.Context, userID, kind string, cost, balance int64) {
	r.mu.RLock()
	plugins := r.onInsufficientFunds
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInsufficientFunds(ctx, userID, kind, cost, balance)
		}); err != nil {
			r.logger.Warn("plugin OnInsufficientFunds failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitDebitConflict emits a debit retry exhaustion event.
func (r *Registry) EmitDebitConflict(ctx context.Context, userID string, attempts int) {
	r.mu.RLock()
	plugins := r.onDebitConflict
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnDebitConflict(ctx, userID, attempts)
		}); err != nil {
			r.logger.Warn("plugin OnDebitConflict failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitExternalFailure emits an external operation failure event.
func (r *Registry) EmitExternalFailure(ctx context.Context, kind string, opErr error) {
	r.mu.RLock()
	plugins := r.onExternalFailure
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnExternalFailure(ctx, kind, opErr)
		}); err != nil {
			r.logger.Warn("plugin OnExternalFailure failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSweepCompensated emits a sweep compensation event.
func (r *Registry) EmitSweepCompensated(ctx context.Context, res interface{}, age time.Duration) {
	r.mu.RLock()
	plugins := r.onSweepCompensated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSweepCompensated(ctx, res, age)
		}); err != nil {
			r.logger.Warn("plugin OnSweepCompensated failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSweepCompleted emits a sweep pass completion event.
func (r *Registry) EmitSweepCompleted(ctx context.Context, compensated int, elapsed time.Duration) {
	r.mu.RLock()
	plugins := r.onSweepCompleted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSweepCompleted(ctx, compensated, elapsed)
		}); err != nil {
			r.logger.Warn("plugin OnSweepCompleted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitBalanceCredited emits a balance credit event.
func (r *Registry) EmitBalanceCredited(ctx context.Context, userID string, amount int64) {
	r.mu.RLock()
	plugins := r.onBalanceCredited
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnBalanceCredited(ctx, userID, amount)
		}); err != nil {
			r.logger.Warn("plugin OnBalanceCredited failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins must never block the transaction pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
