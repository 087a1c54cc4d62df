package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dfaulken/rules/internal/config"
	"github.com/dfaulken/rules/rules"
)

var runFlags struct {
	strategy        string
	onTemplateError string
	filter          string
	strict          bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Transform every unprocessed source line",
	Long: `Run the engine once over all unprocessed source lines.

Each line that at least one active rule applies to gets one output line and
is marked processed. Lines no rule applies to stay unprocessed for a later run.
Rule errors are reported but do not stop the run unless --strict is set.

Examples:
  # Run with the configured strategy
  transform run

  # Fail the whole line on any template error
  transform run --on-template-error skip_record

  # Only consider lines from one source
  transform run --filter 'line["source"] == "ledger"'`,
	RunE: runTransform,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.strategy, "strategy", "", "evaluation strategy: gather_apply, local_match")
	runCmd.Flags().StringVar(&runFlags.onTemplateError, "on-template-error", "", "skip_column or skip_record")
	runCmd.Flags().StringVar(&runFlags.filter, "filter", "", "CEL expression over line restricting the lines considered")
	runCmd.Flags().BoolVar(&runFlags.strict, "strict", false, "exit with an error when any rule fails")
}

func runTransform(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if runFlags.strategy != "" {
		cfg.Engine.Strategy = runFlags.strategy
	}
	if runFlags.onTemplateError != "" {
		cfg.Engine.OnTemplateError = runFlags.onTemplateError
	}
	if runFlags.filter != "" {
		cfg.Engine.Filter = runFlags.filter
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	engineConfig, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	engine, err := rules.NewEngineWithConfig(db.Store, engineConfig)
	if err != nil {
		return err
	}

	report, runErr := engine.Run(ctx)

	var pe *rules.PersistenceError
	if errors.As(runErr, &pe) {
		return fmt.Errorf("run aborted after %d lines: %w", report.Transformed, runErr)
	}

	if err := printReport(cmd.OutOrStdout(), report); err != nil {
		return err
	}

	if runErr != nil && runFlags.strict {
		return fmt.Errorf("%d rule errors", len(report.Errors))
	}
	return nil
}

func printReport(w io.Writer, report *rules.RunReport) error {
	if format == "json" {
		return writeJSON(w, struct {
			*rules.RunReport
			Duration string   `json:"duration"`
			Errors   []string `json:"errors,omitempty"`
		}{report, report.Duration().String(), report.ErrorMessages()})
	}

	fmt.Fprintf(w, "Run (%s) finished in %s\n", report.Strategy, report.Duration())
	fmt.Fprintf(w, "  Considered:  %d\n", report.Considered)
	fmt.Fprintf(w, "  Transformed: %d\n", report.Transformed)
	fmt.Fprintf(w, "  Unmatched:   %d\n", report.Unmatched)
	fmt.Fprintf(w, "  Filtered:    %d\n", report.Filtered)
	fmt.Fprintf(w, "  Failed:      %d\n", report.Failed)
	for _, msg := range report.ErrorMessages() {
		fmt.Fprintf(w, "  error: %s\n", msg)
	}
	return nil
}
