package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dfaulken/rules/internal/config"
	"github.com/dfaulken/rules/internal/database"
	"github.com/dfaulken/rules/internal/logger"
)

var (
	// Global flags
	cfgFile string
	format  string
)

var rootCmd = &cobra.Command{
	Use:   "transform",
	Short: "Row-based regex rule transformation engine",
	Long: `Transform applies ordered regular-expression rules to stored source lines
and writes one output line per line that any rule applies to.

The store is selected by the configuration file (database.driver):
  - postgres  schema managed by the migrate command
  - sqlite    schema created on first use

Environment variables (RULES_DATABASE_PATH, DATABASE_URL, ...) override the file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if format != "text" && format != "json" {
			return fmt.Errorf("unknown format %q (use text or json)", format)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("RULES_CONFIG"), "config file path (defaults and environment when empty)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "text", "output format: text, json")
}

// loadConfig loads the configuration and applies its log settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetLevelFromString(cfg.Log.Level)
	logger.SetSampleRate(cfg.Log.SampleRate)
	return cfg, nil
}

// openStore opens the configured store. The memory driver is refused since
// nothing would outlive the command.
func openStore(ctx context.Context, cfg *config.Config) (*database.Handle, error) {
	if cfg.Database.Driver == config.DriverMemory {
		return nil, fmt.Errorf("the %s driver keeps nothing between commands; use %s or %s",
			config.DriverMemory, config.DriverSQLite, config.DriverPostgres)
	}
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return db, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
