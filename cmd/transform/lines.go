package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dfaulken/rules/rules"
)

var lineFlags struct {
	fields    map[string]string
	processed string
}

var linesCmd = &cobra.Command{
	Use:   "lines",
	Short: "Manage source lines",
}

var linesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an unprocessed source line",
	Long: `Add an unprocessed source line.

Examples:
  transform lines add --field text=banana123
  transform lines add --field text="general case FOO" --field source=ledger`,
	RunE: addLine,
}

var linesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List source lines",
	RunE:  listLines,
}

var outputsCmd = &cobra.Command{
	Use:   "outputs",
	Short: "Inspect output lines",
}

var outputsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List output lines",
	RunE:  listOutputs,
}

func init() {
	rootCmd.AddCommand(linesCmd, outputsCmd)
	linesCmd.AddCommand(linesAddCmd, linesListCmd)
	outputsCmd.AddCommand(outputsListCmd)

	linesAddCmd.Flags().StringToStringVar(&lineFlags.fields, "field", nil, "field as name=value (repeatable)")
	_ = linesAddCmd.MarkFlagRequired("field")

	linesListCmd.Flags().StringVar(&lineFlags.processed, "processed", "all", "all, true or false")
}

func addLine(cmd *cobra.Command, args []string) error {
	if len(lineFlags.fields) == 0 {
		return fmt.Errorf("at least one --field is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	line := &rules.SourceLine{Fields: rules.Fields(lineFlags.fields)}
	if err := db.Store.AddSourceLine(cmd.Context(), line); err != nil {
		return fmt.Errorf("failed to add source line: %w", err)
	}

	if format == "json" {
		return writeJSON(cmd.OutOrStdout(), line)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added source line %s\n", line.ID)
	return nil
}

func listLines(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var lines []*rules.SourceLine
	switch lineFlags.processed {
	case "all":
		lines, err = db.Store.ListSourceLines(cmd.Context())
	case "false":
		lines, err = db.Store.ListUnprocessed(cmd.Context())
	case "true":
		var all []*rules.SourceLine
		all, err = db.Store.ListSourceLines(cmd.Context())
		for _, l := range all {
			if l.Processed {
				lines = append(lines, l)
			}
		}
	default:
		return fmt.Errorf("--processed must be all, true or false")
	}
	if err != nil {
		return fmt.Errorf("failed to list source lines: %w", err)
	}

	if format == "json" {
		if lines == nil {
			lines = []*rules.SourceLine{}
		}
		return writeJSON(cmd.OutOrStdout(), lines)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROCESSED\tFIELDS")
	for _, l := range lines {
		fmt.Fprintf(tw, "%s\t%t\t%s\n", l.ID, l.Processed, formatFields(l.Fields))
	}
	return tw.Flush()
}

func listOutputs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	lines, err := db.Store.ListOutputLines(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list output lines: %w", err)
	}

	if format == "json" {
		return writeJSON(cmd.OutOrStdout(), lines)
	}
	return printOutputs(cmd.OutOrStdout(), lines)
}

func printOutputs(w io.Writer, lines []*rules.OutputLine) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE\tFIELDS")
	for _, l := range lines {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", l.ID, l.SourceLineID, formatFields(l.Fields))
	}
	return tw.Flush()
}

// formatFields renders fields as name=value pairs sorted by name.
func formatFields(f rules.Fields) string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, fmt.Sprintf("%s=%q", name, f[name]))
	}
	return strings.Join(pairs, " ")
}
