package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// RecordFilter is a compiled CEL predicate over a line's fields, exposed to
// the expression as the map variable "line":
//
//	line.text.startsWith("banana") && "amount" in line
//
// Lines the filter rejects are skipped by a run and stay unprocessed.
type RecordFilter struct {
	expression string
	program    cel.Program
}

// NewRecordFilter compiles expression. Compilation errors are returned
// with the CEL issue text.
func NewRecordFilter(expression string) (*RecordFilter, error) {
	env, err := cel.NewEnv(
		cel.Variable("line", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	// Cost limit guards against runaway expressions from configuration.
	prog, err := env.Program(ast, cel.CostLimit(1000000))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	return &RecordFilter{expression: expression, program: prog}, nil
}

// Expression returns the source expression.
func (f *RecordFilter) Expression() string {
	return f.expression
}

// Allows evaluates the filter for the given fields. Non-boolean results are
// treated as false; evaluation errors (such as a missing key) are returned.
func (f *RecordFilter) Allows(fields Fields) (bool, error) {
	if fields == nil {
		fields = Fields{}
	}

	out, _, err := f.program.Eval(map[string]any{
		"line": map[string]string(fields),
	})
	if err != nil {
		return false, fmt.Errorf("filter %q: %w", f.expression, err)
	}

	allowed, ok := out.Value().(bool)
	return ok && allowed, nil
}
