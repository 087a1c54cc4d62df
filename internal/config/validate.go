package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/dfaulken/rules/internal/logger"
	"github.com/dfaulken/rules/rules"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "engine.strategy").
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every field error found in a configuration.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate checks the whole configuration and returns a ValidationError
// listing all problems, or nil.
func Validate(cfg *Config) error {
	var errs []FieldError

	if cfg.Server.Port == "" {
		errs = append(errs, FieldError{"server.port", "cannot be empty"})
	}

	switch cfg.Database.Driver {
	case DriverPostgres:
		if cfg.Database.URL == "" {
			errs = append(errs, FieldError{"database.url", "required for the postgres driver"})
		}
	case DriverSQLite:
		if cfg.Database.Path == "" {
			errs = append(errs, FieldError{"database.path", "required for the sqlite driver"})
		}
	case DriverMemory:
	default:
		errs = append(errs, FieldError{"database.driver",
			fmt.Sprintf("unknown driver %q (use %s, %s or %s)", cfg.Database.Driver, DriverPostgres, DriverSQLite, DriverMemory)})
	}

	if _, err := rules.StrategyByName(cfg.Engine.Strategy); err != nil {
		errs = append(errs, FieldError{"engine.strategy", err.Error()})
	}
	if _, err := rules.ParseTemplateErrorPolicy(cfg.Engine.OnTemplateError); err != nil {
		errs = append(errs, FieldError{"engine.on_template_error", err.Error()})
	}
	if cfg.Engine.Filter != "" {
		if _, err := rules.NewRecordFilter(cfg.Engine.Filter); err != nil {
			errs = append(errs, FieldError{"engine.filter", err.Error()})
		}
	}
	if cfg.Engine.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Engine.Schedule); err != nil {
			errs = append(errs, FieldError{"engine.schedule", err.Error()})
		}
	}

	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, FieldError{"log.level", err.Error()})
	}
	if cfg.Log.SampleRate < 1 {
		errs = append(errs, FieldError{"log.sample_rate", "must be at least 1"})
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

// EngineConfig builds the rules.EngineConfig described by the engine section.
func (c *Config) EngineConfig() (rules.EngineConfig, error) {
	strategy, err := rules.StrategyByName(c.Engine.Strategy)
	if err != nil {
		return rules.EngineConfig{}, err
	}
	policy, err := rules.ParseTemplateErrorPolicy(c.Engine.OnTemplateError)
	if err != nil {
		return rules.EngineConfig{}, err
	}

	ec := rules.EngineConfig{
		Strategy:        strategy,
		OnTemplateError: policy,
	}
	if c.Engine.Filter != "" {
		filter, err := rules.NewRecordFilter(c.Engine.Filter)
		if err != nil {
			return rules.EngineConfig{}, err
		}
		ec.Filter = filter
	}
	return ec, nil
}
