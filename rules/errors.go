package rules

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a rule or line does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateOrder is returned when a rule's application order is
	// already taken by another rule, active or not.
	ErrDuplicateOrder = errors.New("application order already in use")
)

// TemplateError reports an output pattern that could not be rendered,
// either because it references a name no rule captured or because it
// contains a malformed placeholder.
type TemplateError struct {
	RuleID      string
	Order       int
	Template    string
	Placeholder string
	Reason      string
}

func (e *TemplateError) Error() string {
	if e.Placeholder != "" {
		return fmt.Sprintf("rule %s (order %d): template %q: %s $%s",
			e.RuleID, e.Order, e.Template, e.Reason, e.Placeholder)
	}
	return fmt.Sprintf("rule %s (order %d): template %q: %s",
		e.RuleID, e.Order, e.Template, e.Reason)
}

// PatternError reports a source pattern that is not a valid regular expression.
type PatternError struct {
	RuleID  string
	Order   int
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("rule %s (order %d): invalid pattern %q: %v",
		e.RuleID, e.Order, e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

// RecordError ties rule errors to the source line they occurred on.
type RecordError struct {
	SourceLineID string
	Err          error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("source line %s: %v", e.SourceLineID, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// PersistenceError wraps a store failure. A run stops at the first one.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
