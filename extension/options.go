package extension

import (
	"time"

	coins "github.com/xraph/coins"
	"github.com/xraph/coins/action"
	"github.com/xraph/coins/plugin"
	"github.com/xraph/coins/store"
)

// Option configures the coins Forge extension.
type Option func(*Extension)

// WithStore sets the store for the wallet engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithWalletOption passes a coins.Option through to the underlying engine.
func WithWalletOption(opt coins.Option) Option {
	return func(e *Extension) {
		e.walletOpts = append(e.walletOpts, opt)
	}
}

// WithPlugin registers a wallet plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.walletOpts = append(e.walletOpts, coins.WithPlugin(p))
	}
}

// WithExecutor registers the executor for an action kind.
func WithExecutor(kind action.Kind, exec action.Executor) Option {
	return func(e *Extension) {
		e.walletOpts = append(e.walletOpts, coins.WithExecutor(kind, exec))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents HTTP route registration.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for coin routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithOperationTimeout bounds how long an external operation may run.
func WithOperationTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.OperationTimeout = d }
}

// WithGracePeriod sets how long a reservation may stay pending before
// the reconciliation sweep refunds it.
func WithGracePeriod(d time.Duration) Option {
	return func(e *Extension) { e.config.GracePeriod = d }
}

// WithSweepInterval sets how frequently the reconciliation sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.SweepInterval = d }
}

// WithDebitAttempts bounds the debit retry loop on version conflicts.
func WithDebitAttempts(n int) Option {
	return func(e *Extension) { e.config.DebitAttempts = n }
}
