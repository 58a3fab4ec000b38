// Package extension provides the Forge extension adapter for the coin
// wallet.
//
// It implements the forge.Extension interface to integrate the wallet
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.coins" or "coins" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	coins "github.com/xraph/coins"
	"github.com/xraph/coins/store"
	"github.com/xraph/coins/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "coins"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Coin-based transaction ledger for paid actions"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the coin wallet as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	wallet     *coins.Wallet
	store      store.Store
	walletOpts []coins.Option
}

// New creates a new coins Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Wallet returns the underlying Wallet instance.
// This is nil until Register is called.
func (e *Extension) Wallet() *coins.Wallet { return e.wallet }

// Register implements [forge.Extension]. It loads configuration,
// initializes the wallet engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	// Build wallet options from resolved config.
	opts := e.buildWalletOpts()

	e.wallet = coins.New(e.store, opts...)

	return vessel.Provide(fapp.Container(), func() (*coins.Wallet, error) {
		return e.wallet, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.wallet == nil {
		return errors.New("coins: extension not initialized")
	}

	if err := e.wallet.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.wallet != nil {
		if err := e.wallet.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("coins: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildWalletOpts constructs coins.Option values from the resolved config.
func (e *Extension) buildWalletOpts() []coins.Option {
	opts := make([]coins.Option, 0, len(e.walletOpts)+4)

	if e.config.OperationTimeout > 0 {
		opts = append(opts, coins.WithOperationTimeout(e.config.OperationTimeout))
	}
	if e.config.GracePeriod > 0 {
		opts = append(opts, coins.WithGracePeriod(e.config.GracePeriod))
	}
	if e.config.SweepInterval > 0 {
		opts = append(opts, coins.WithSweepInterval(e.config.SweepInterval))
	}
	if e.config.DebitAttempts > 0 {
		opts = append(opts, coins.WithDebitAttempts(e.config.DebitAttempts))
	}
	if e.config.DisableMigrate {
		opts = append(opts, coins.WithoutAutoMigrate())
	}

	// Append any pass-through wallet options.
	opts = append(opts, e.walletOpts...)

	return opts
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("coins: configuration is required but not found in config files; " +
				"ensure 'extensions.coins' or 'coins' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("coins: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("operation_timeout", e.config.OperationTimeout),
		forge.F("grace_period", e.config.GracePeriod),
		forge.F("sweep_interval", e.config.SweepInterval),
		forge.F("debit_attempts", e.config.DebitAttempts),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.coins" first (namespaced pattern).
	if cm.IsSet("extensions.coins") {
		if err := cm.Bind("extensions.coins", &cfg); err == nil {
			e.Logger().Debug("coins: loaded config from file",
				forge.F("key", "extensions.coins"),
			)
			return cfg, true
		}
		e.Logger().Warn("coins: failed to bind extensions.coins config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "coins" key.
	if cm.IsSet("coins") {
		if err := cm.Bind("coins", &cfg); err == nil {
			e.Logger().Debug("coins: loaded config from file",
				forge.F("key", "coins"),
			)
			return cfg, true
		}
		e.Logger().Warn("coins: failed to bind coins config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = defaults.GracePeriod
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.DebitAttempts == 0 {
		cfg.DebitAttempts = defaults.DebitAttempts
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" && programmaticConfig.BasePath != "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.OperationTimeout == 0 && programmaticConfig.OperationTimeout != 0 {
		yamlConfig.OperationTimeout = programmaticConfig.OperationTimeout
	}
	if yamlConfig.GracePeriod == 0 && programmaticConfig.GracePeriod != 0 {
		yamlConfig.GracePeriod = programmaticConfig.GracePeriod
	}
	if yamlConfig.SweepInterval == 0 && programmaticConfig.SweepInterval != 0 {
		yamlConfig.SweepInterval = programmaticConfig.SweepInterval
	}
	if yamlConfig.DebitAttempts == 0 && programmaticConfig.DebitAttempts != 0 {
		yamlConfig.DebitAttempts = programmaticConfig.DebitAttempts
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
