package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate_Default(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Errorf("Default configuration should be valid, got: %v", err)
	}
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }, "server.port"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"postgres without url", func(c *Config) { c.Database.Driver = DriverPostgres }, "database.url"},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"unknown strategy", func(c *Config) { c.Engine.Strategy = "fastest" }, "engine.strategy"},
		{"unknown policy", func(c *Config) { c.Engine.OnTemplateError = "ignore" }, "engine.on_template_error"},
		{"bad filter", func(c *Config) { c.Engine.Filter = "line.text ==" }, "engine.filter"},
		{"bad schedule", func(c *Config) { c.Engine.Schedule = "every tuesday" }, "engine.schedule"},
		{"bad log level", func(c *Config) { c.Log.Level = "LOUD" }, "log.level"},
		{"zero sample rate", func(c *Config) { c.Log.SampleRate = 0 }, "log.sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if len(verr.Errors) != 1 || verr.Errors[0].Field != tt.wantField {
				t.Errorf("Errors = %v, want one error on %s", verr.Errors, tt.wantField)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = ""
	cfg.Engine.Strategy = "fastest"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected error")
	}
	if !strings.Contains(err.Error(), "2 errors") {
		t.Errorf("Expected both errors reported, got: %v", err)
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := Default()
	ec, err := cfg.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig() failed: %v", err)
	}
	if ec.Strategy.Name() != DefaultStrategy {
		t.Errorf("Strategy = %s, want %s", ec.Strategy.Name(), DefaultStrategy)
	}
	if ec.Filter != nil {
		t.Error("No filter configured, Filter should be nil")
	}

	cfg.Engine.OnTemplateError = "ignore"
	if _, err := cfg.EngineConfig(); err == nil {
		t.Error("Expected error for an unknown policy")
	}
}
