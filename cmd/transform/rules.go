package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dfaulken/rules/rules"
)

var ruleFlags struct {
	order         int
	sourceColumn  string
	sourcePattern string
	outputColumn  string
	outputPattern string
	inactive      bool
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage transformation rules",
	Long: `Manage transformation rules.

Subcommands:
  list   - List all rules by application order
  add    - Add a rule
  check  - Report placeholders no active rule captures`,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all rules by application order",
	RunE:  listRules,
}

var rulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a rule",
	Long: `Add a rule. The application order must not be used by another rule;
higher orders take precedence.

Examples:
  transform rules add --order 1 --source-column text \
      --source-pattern 'banana(?P<n>\d+)' \
      --output-column text --output-pattern 'Banana number=$n'`,
	RunE: addRule,
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Report placeholders no active rule captures",
	RunE:  checkRules,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd, rulesAddCmd, rulesCheckCmd)

	rulesAddCmd.Flags().IntVar(&ruleFlags.order, "order", 0, "application order (unique)")
	rulesAddCmd.Flags().StringVar(&ruleFlags.sourceColumn, "source-column", "", "column the pattern is matched against")
	rulesAddCmd.Flags().StringVar(&ruleFlags.sourcePattern, "source-pattern", "", "regular expression with named groups")
	rulesAddCmd.Flags().StringVar(&ruleFlags.outputColumn, "output-column", "", "column the template is written to")
	rulesAddCmd.Flags().StringVar(&ruleFlags.outputPattern, "output-pattern", "", "template using $name or ${name}")
	rulesAddCmd.Flags().BoolVar(&ruleFlags.inactive, "inactive", false, "store the rule deactivated")
	_ = rulesAddCmd.MarkFlagRequired("order")
	_ = rulesAddCmd.MarkFlagRequired("source-column")
	_ = rulesAddCmd.MarkFlagRequired("source-pattern")
	_ = rulesAddCmd.MarkFlagRequired("output-column")
}

func listRules(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	list, err := db.Store.ListRules(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}

	if format == "json" {
		return writeJSON(cmd.OutOrStdout(), list)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tACTIVE\tSOURCE\tPATTERN\tOUTPUT\tTEMPLATE\tID")
	for _, r := range list {
		fmt.Fprintf(tw, "%d\t%t\t%s\t%s\t%s\t%s\t%s\n",
			r.ApplicationOrder, r.Active, r.SourceColumn, r.SourcePattern,
			r.OutputColumn, r.OutputPattern, r.ID)
	}
	return tw.Flush()
}

func addRule(cmd *cobra.Command, args []string) error {
	rule := &rules.Rule{
		ApplicationOrder: ruleFlags.order,
		Active:           !ruleFlags.inactive,
		SourceColumn:     ruleFlags.sourceColumn,
		SourcePattern:    ruleFlags.sourcePattern,
		OutputColumn:     ruleFlags.outputColumn,
		OutputPattern:    ruleFlags.outputPattern,
	}
	if err := rules.ValidateRule(rule); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
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

	if err := db.Store.AddRule(cmd.Context(), rule); err != nil {
		return fmt.Errorf("failed to add rule: %w", err)
	}

	if format == "json" {
		return writeJSON(cmd.OutOrStdout(), rule)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added rule %s (order %d)\n", rule.ID, rule.ApplicationOrder)
	return nil
}

func checkRules(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	list, err := db.Store.ListRules(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}

	if err := rules.CheckRuleSet(list); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "All placeholders are captured by an active rule")
	return nil
}
