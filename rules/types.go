package rules

import "time"

// Rule is a single transformation step: a pattern matched against one
// source column and a template rendered into one output column.
type Rule struct {
	ID string `json:"id"`

	// ApplicationOrder is unique across all rules. Rules are applied in
	// ascending order, so a higher value takes precedence, but only if its
	// pattern applies to the line.
	ApplicationOrder int  `json:"applicationOrder"`
	Active           bool `json:"active"`

	SourceColumn  string `json:"sourceColumn"`
	SourcePattern string `json:"sourcePattern"`
	OutputColumn  string `json:"outputColumn"`
	OutputPattern string `json:"outputPattern"`

	CreatedAt time.Time `json:"createdAt"`
}

// Record exposes named fields for rules to read.
type Record interface {
	Field(name string) (string, bool)
}

// Fields is a plain field-value container and the simplest Record.
type Fields map[string]string

// Field implements Record.
func (f Fields) Field(name string) (string, bool) {
	v, ok := f[name]
	return v, ok
}

// SourceLine is an untransformed record.
type SourceLine struct {
	ID        string    `json:"id"`
	Fields    Fields    `json:"fields"`
	Processed bool      `json:"processed"`
	CreatedAt time.Time `json:"createdAt"`
}

// Field implements Record.
func (l *SourceLine) Field(name string) (string, bool) {
	return l.Fields.Field(name)
}

// OutputLine is the record rendered from a SourceLine.
type OutputLine struct {
	ID           string    `json:"id"`
	SourceLineID string    `json:"sourceLineId"`
	Fields       Fields    `json:"fields"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Captures maps capture group names to the text they matched.
type Captures map[string]string

// Attributes maps output columns to rendered values.
type Attributes map[string]string

// RunReport summarizes one Engine.Run.
type RunReport struct {
	Strategy   string    `json:"strategy"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	// Considered counts unprocessed lines that passed the record filter.
	Considered  int `json:"considered"`
	Transformed int `json:"transformed"`
	Unmatched   int `json:"unmatched"`
	Filtered    int `json:"filtered"`
	// Failed counts lines left unprocessed because of rule errors.
	Failed int `json:"failed"`

	OutputLineIDs []string `json:"outputLineIds"`
	Errors        []error  `json:"-"`
}

// Duration returns how long the run took.
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ErrorMessages returns the rule errors as strings, for JSON responses.
func (r *RunReport) ErrorMessages() []string {
	msgs := make([]string, 0, len(r.Errors))
	for _, err := range r.Errors {
		msgs = append(msgs, err.Error())
	}
	return msgs
}
