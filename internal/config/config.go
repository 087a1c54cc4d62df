// Package config loads the service configuration from a YAML file with
// environment variable overrides.
package config

import "time"

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Engine   EngineConfig   `yaml:"engine"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Port the HTTP server listens on.
	// Default: "8080"
	Port string `yaml:"port"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects and configures the store.
type DatabaseConfig struct {
	// Driver is one of "postgres", "sqlite" or "memory".
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// URL is the PostgreSQL connection string (driver "postgres").
	URL string `yaml:"url"`

	// Path is the database file (driver "sqlite").
	// Default: "data/rules.db"
	Path string `yaml:"path"`

	// BusyTimeout applies to SQLite only.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// EngineConfig configures transformation runs.
type EngineConfig struct {
	// Strategy is "gather_apply" or "local_match".
	// Default: "gather_apply"
	Strategy string `yaml:"strategy"`

	// OnTemplateError is "skip_column" or "skip_record".
	// Default: "skip_column"
	OnTemplateError string `yaml:"on_template_error"`

	// Filter is an optional CEL expression over the map variable "line".
	Filter string `yaml:"filter"`

	// Schedule is an optional cron spec; the server runs the engine on it.
	Schedule string `yaml:"schedule"`
}

// LogConfig configures the logger.
type LogConfig struct {
	// Level is TRACE, DEBUG, INFO, WARN, ERROR or FATAL.
	// Default: "INFO"
	Level string `yaml:"level"`

	// SampleRate logs one in N warnings and errors.
	// Default: 1
	SampleRate int `yaml:"sample_rate"`
}
