package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dfaulken/rules/internal/logger"
)

// TemplateErrorPolicy decides what happens to a line when one of its rules
// fails to render.
type TemplateErrorPolicy string

const (
	// SkipColumn drops only the failing rule's write. The line is still
	// emitted with the columns set by the other rules.
	SkipColumn TemplateErrorPolicy = "skip_column"

	// SkipRecord leaves the whole line unprocessed.
	SkipRecord TemplateErrorPolicy = "skip_record"
)

// ParseTemplateErrorPolicy accepts the policy names used in configuration.
func ParseTemplateErrorPolicy(s string) (TemplateErrorPolicy, error) {
	switch TemplateErrorPolicy(s) {
	case "", SkipColumn:
		return SkipColumn, nil
	case SkipRecord:
		return SkipRecord, nil
	default:
		return "", fmt.Errorf("unknown template error policy %q (use %s or %s)", s, SkipColumn, SkipRecord)
	}
}

// EngineConfig holds configuration for a run.
type EngineConfig struct {
	// Strategy evaluates the rules for one line. Nil selects GatherApply.
	Strategy Strategy

	OnTemplateError TemplateErrorPolicy

	// Filter restricts which unprocessed lines a run considers. Optional.
	Filter *RecordFilter
}

// DefaultEngineConfig returns the two-pass strategy with column-level
// template failures and no filter.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Strategy:        GatherApply{},
		OnTemplateError: SkipColumn,
	}
}

// Engine transforms unprocessed source lines into output lines.
// Runs are serialized: one run owns the unprocessed set it began with.
type Engine struct {
	store  Store
	config EngineConfig
	mu     sync.Mutex
}

// NewEngine creates an engine over store with the default configuration.
func NewEngine(store Store) *Engine {
	en, _ := NewEngineWithConfig(store, DefaultEngineConfig())
	return en
}

// NewEngineWithConfig creates an engine over store with a custom configuration.
func NewEngineWithConfig(store Store, config EngineConfig) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config.Strategy == nil {
		config.Strategy = GatherApply{}
	}
	policy, err := ParseTemplateErrorPolicy(string(config.OnTemplateError))
	if err != nil {
		return nil, err
	}
	config.OnTemplateError = policy

	return &Engine{store: store, config: config}, nil
}

// Strategy returns the active evaluation strategy.
func (en *Engine) Strategy() Strategy {
	return en.config.Strategy
}

// Run evaluates every unprocessed line against the active rules, in order.
//
// A line whose rules produce attributes gets one output line and is marked
// processed; a line without attributes is left untouched for a later run.
// Rule errors do not stop the run: they are collected in the report and
// returned joined once every line was visited. A store failure stops the
// run at once and is returned as a *PersistenceError. The report is always
// non-nil.
func (en *Engine) Run(ctx context.Context) (*RunReport, error) {
	en.mu.Lock()
	defer en.mu.Unlock()

	report := &RunReport{
		Strategy:  en.config.Strategy.Name(),
		StartedAt: time.Now(),
	}

	err := en.run(ctx, report)
	report.FinishedAt = time.Now()

	var pe *PersistenceError
	if errors.As(err, &pe) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		logger.Error("run aborted",
			"error", err,
			"transformed", report.Transformed,
			"duration", report.Duration().String())
		logger.RunFinished(report.Transformed, true)
		return report, err
	}

	logger.Info("run completed",
		"strategy", report.Strategy,
		"considered", report.Considered,
		"transformed", report.Transformed,
		"unmatched", report.Unmatched,
		"filtered", report.Filtered,
		"failed", report.Failed,
		"rule_errors", len(report.Errors),
		"duration", report.Duration().String())
	logger.RunFinished(report.Transformed, false)

	return report, errors.Join(report.Errors...)
}

func (en *Engine) run(ctx context.Context, report *RunReport) error {
	rules, err := en.store.ListActiveRules(ctx)
	if err != nil {
		return persistenceError("list active rules", err)
	}

	lines, err := en.store.ListUnprocessed(ctx)
	if err != nil {
		return persistenceError("list unprocessed lines", err)
	}

	logger.Debug("run started", "rules", len(rules), "lines", len(lines))

	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !en.allows(line) {
			report.Filtered++
			continue
		}
		report.Considered++

		attrs, ruleErr := en.config.Strategy.Evaluate(rules, line)
		if ruleErr != nil {
			report.Errors = append(report.Errors, &RecordError{SourceLineID: line.ID, Err: ruleErr})
			logger.WarnRuleError(line.ID, ruleErr)

			if en.config.OnTemplateError == SkipRecord {
				report.Failed++
				continue
			}
		}

		if len(attrs) == 0 {
			if ruleErr != nil {
				report.Failed++
			} else {
				report.Unmatched++
				logger.Debug("no rule applied", "source_line_id", line.ID)
			}
			continue
		}

		out := &OutputLine{
			SourceLineID: line.ID,
			Fields:       Fields(attrs),
		}
		if err := en.commit(ctx, out); err != nil {
			return err
		}

		report.Transformed++
		report.OutputLineIDs = append(report.OutputLineIDs, out.ID)
		logger.Debug("line transformed", "source_line_id", line.ID, "output_line_id", out.ID)
	}

	return nil
}

func (en *Engine) allows(line *SourceLine) bool {
	if en.config.Filter == nil {
		return true
	}
	ok, err := en.config.Filter.Allows(line.Fields)
	if err != nil {
		logger.Debug("filter rejected line", "source_line_id", line.ID, "error", err)
		return false
	}
	return ok
}

// commit creates the output line and then marks its source processed, so a
// failure in between can only leave an output without a processed source.
func (en *Engine) commit(ctx context.Context, out *OutputLine) error {
	if c, ok := en.store.(OutputCommitter); ok {
		if err := c.CommitOutput(ctx, out); err != nil {
			return persistenceError("commit output line", err)
		}
		return nil
	}

	if err := en.store.CreateOutputLine(ctx, out); err != nil {
		return persistenceError("create output line", err)
	}
	if err := en.store.MarkProcessed(ctx, out.SourceLineID); err != nil {
		return persistenceError("mark source line processed", err)
	}
	return nil
}

// Preview evaluates the active rules against fields without touching the
// store's lines.
func (en *Engine) Preview(ctx context.Context, fields Fields) (Attributes, error) {
	rules, err := en.store.ListActiveRules(ctx)
	if err != nil {
		return nil, persistenceError("list active rules", err)
	}
	return en.config.Strategy.Evaluate(rules, fields)
}
