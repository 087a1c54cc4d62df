package config

import "time"

// Default values for configuration fields.
const (
	DefaultPort            = "8080"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultRequestTimeout  = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultDriver      = DriverSQLite
	DefaultSQLitePath  = "data/rules.db"
	DefaultBusyTimeout = 5 * time.Second

	DefaultStrategy        = "gather_apply"
	DefaultOnTemplateError = "skip_column"

	DefaultLogLevel   = "INFO"
	DefaultSampleRate = 1
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// ApplyDefaults fills every unset field with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DefaultDriver
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = DefaultSQLitePath
	}
	if cfg.Database.BusyTimeout == 0 {
		cfg.Database.BusyTimeout = DefaultBusyTimeout
	}

	if cfg.Engine.Strategy == "" {
		cfg.Engine.Strategy = DefaultStrategy
	}
	if cfg.Engine.OnTemplateError == "" {
		cfg.Engine.OnTemplateError = DefaultOnTemplateError
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.SampleRate == 0 {
		cfg.Log.SampleRate = DefaultSampleRate
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
