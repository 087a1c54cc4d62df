package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path, applies defaults, then environment
// overrides, then validates. An empty path skips the file, so a deployment
// can be configured from the environment alone.
//
// Environment variables follow RULES_SECTION_FIELD (e.g.
// RULES_ENGINE_STRATEGY). DATABASE_URL and PORT are honoured as well;
// DATABASE_URL switches the driver to postgres unless RULES_DATABASE_DRIVER
// says otherwise. Unparseable duration or number overrides are reported in
// the returned ValidationError alongside any other field errors.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	ApplyDefaults(&cfg)
	errs := applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		var verr ValidationError
		if !errors.As(err, &verr) {
			return nil, err
		}
		errs = append(errs, verr.Errors...)
	}
	if len(errs) > 0 {
		return nil, ValidationError{Errors: errs}
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration and returns the values it could not parse.
func applyEnvOverrides(cfg *Config) []FieldError {
	var errs []FieldError

	// Plain names used by container deployments
	if val := os.Getenv("PORT"); val != "" {
		cfg.Server.Port = val
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		cfg.Database.URL = val
		cfg.Database.Driver = DriverPostgres
	}

	// Server overrides
	if val := os.Getenv("RULES_SERVER_PORT"); val != "" {
		cfg.Server.Port = val
	}
	errs = setDuration(errs, "RULES_SERVER_READ_TIMEOUT", "server.read_timeout", &cfg.Server.ReadTimeout)
	errs = setDuration(errs, "RULES_SERVER_WRITE_TIMEOUT", "server.write_timeout", &cfg.Server.WriteTimeout)
	errs = setDuration(errs, "RULES_SERVER_IDLE_TIMEOUT", "server.idle_timeout", &cfg.Server.IdleTimeout)
	errs = setDuration(errs, "RULES_SERVER_REQUEST_TIMEOUT", "server.request_timeout", &cfg.Server.RequestTimeout)
	errs = setDuration(errs, "RULES_SERVER_SHUTDOWN_TIMEOUT", "server.shutdown_timeout", &cfg.Server.ShutdownTimeout)

	// Database overrides
	if val := os.Getenv("RULES_DATABASE_DRIVER"); val != "" {
		cfg.Database.Driver = val
	}
	if val := os.Getenv("RULES_DATABASE_URL"); val != "" {
		cfg.Database.URL = val
	}
	if val := os.Getenv("RULES_DATABASE_PATH"); val != "" {
		cfg.Database.Path = val
	}
	errs = setDuration(errs, "RULES_DATABASE_BUSY_TIMEOUT", "database.busy_timeout", &cfg.Database.BusyTimeout)

	// Engine overrides
	if val := os.Getenv("RULES_ENGINE_STRATEGY"); val != "" {
		cfg.Engine.Strategy = val
	}
	if val := os.Getenv("RULES_ENGINE_ON_TEMPLATE_ERROR"); val != "" {
		cfg.Engine.OnTemplateError = val
	}
	if val := os.Getenv("RULES_ENGINE_FILTER"); val != "" {
		cfg.Engine.Filter = val
	}
	if val := os.Getenv("RULES_ENGINE_SCHEDULE"); val != "" {
		cfg.Engine.Schedule = val
	}

	// Log overrides
	if val := os.Getenv("RULES_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("RULES_LOG_SAMPLE_RATE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Log.SampleRate = i
		} else {
			errs = append(errs, FieldError{"log.sample_rate",
				fmt.Sprintf("RULES_LOG_SAMPLE_RATE=%q is not an integer", val)})
		}
	}

	return errs
}

// setDuration overrides dst from the environment variable name, recording
// an unparseable value against field.
func setDuration(errs []FieldError, name, field string, dst *time.Duration) []FieldError {
	val := os.Getenv(name)
	if val == "" {
		return errs
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return append(errs, FieldError{field, fmt.Sprintf("%s=%q: %v", name, val, err)})
	}
	*dst = d
	return errs
}
