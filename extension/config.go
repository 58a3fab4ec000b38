package extension

import "time"

// Config holds the coins extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.coins" or "coins" keys).
type Config struct {
	// DisableRoutes prevents HTTP route registration.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for coin routes (default: "/coins").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// OperationTimeout bounds how long an external operation may run
	// before it is treated as failed (default: 60s).
	OperationTimeout time.Duration `json:"operation_timeout" mapstructure:"operation_timeout" yaml:"operation_timeout"`

	// GracePeriod is how long a reservation may stay pending before the
	// reconciliation sweep refunds it. Must exceed OperationTimeout
	// (default: 5m).
	GracePeriod time.Duration `json:"grace_period" mapstructure:"grace_period" yaml:"grace_period"`

	// SweepInterval is how frequently the reconciliation sweep runs
	// (default: 1m).
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// DebitAttempts bounds the debit retry loop on balance version
	// conflicts (default: 3).
	DebitAttempts int `json:"debit_attempts" mapstructure:"debit_attempts" yaml:"debit_attempts"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		OperationTimeout: 60 * time.Second,
		GracePeriod:      5 * time.Minute,
		SweepInterval:    time.Minute,
		DebitAttempts:    3,
	}
}
