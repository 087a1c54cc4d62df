package main

import (
	"time"

	"github.com/dfaulken/rules/rules"
)

// API request and response models

// CreateRuleRequest represents the request body for creating a rule
type CreateRuleRequest struct {
	ApplicationOrder *int   `json:"applicationOrder" example:"1"`
	Active           *bool  `json:"active,omitempty" example:"true"`
	SourceColumn     string `json:"sourceColumn" example:"text"`
	SourcePattern    string `json:"sourcePattern" example:"banana(?P<n>\\d+)"`
	OutputColumn     string `json:"outputColumn" example:"text"`
	OutputPattern    string `json:"outputPattern" example:"Banana number=$n"`
}

// UpdateRuleRequest represents the request body for updating a rule.
// Omitted fields keep their stored value.
type UpdateRuleRequest struct {
	ApplicationOrder *int    `json:"applicationOrder,omitempty"`
	Active           *bool   `json:"active,omitempty"`
	SourceColumn     *string `json:"sourceColumn,omitempty"`
	SourcePattern    *string `json:"sourcePattern,omitempty"`
	OutputColumn     *string `json:"outputColumn,omitempty"`
	OutputPattern    *string `json:"outputPattern,omitempty"`
}

// RuleResponse represents a rule in API responses, with the placeholders of
// the active rule set that no pattern captures
type RuleResponse struct {
	*rules.Rule
	Warnings []string `json:"warnings,omitempty"`
}

// RulesListResponse represents the response for listing rules
type RulesListResponse struct {
	Rules []*rules.Rule `json:"rules"`
}

// CreateSourceLineRequest represents the request body for ingesting a line
type CreateSourceLineRequest struct {
	Fields rules.Fields `json:"fields"`
}

// SourceLinesListResponse represents the response for listing source lines
type SourceLinesListResponse struct {
	SourceLines []*rules.SourceLine `json:"sourceLines"`
}

// OutputLinesListResponse represents the response for listing output lines
type OutputLinesListResponse struct {
	OutputLines []*rules.OutputLine `json:"outputLines"`
}

// PreviewRequest represents the request body for a dry-run evaluation
type PreviewRequest struct {
	Fields rules.Fields `json:"fields"`
}

// PreviewResponse represents the attributes the active rules would produce
type PreviewResponse struct {
	Strategy   string           `json:"strategy"`
	Attributes rules.Attributes `json:"attributes"`
	WouldEmit  bool             `json:"wouldEmit"`
	Errors     []string         `json:"errors,omitempty"`
}

// RunResponse represents the outcome of a transformation run
type RunResponse struct {
	*rules.RunReport
	Duration string   `json:"duration"`
	Errors   []string `json:"errors,omitempty"`
	// Aborted is set when a store failure stopped the run early.
	Aborted string `json:"aborted,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string           `json:"status"`
	Driver   string           `json:"driver"`
	Strategy string           `json:"strategy"`
	Counters map[string]int64 `json:"counters"`
	LastRun  *RunSummary      `json:"lastRun,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// RunSummary is the short form of the last run kept for the health endpoint
type RunSummary struct {
	FinishedAt  time.Time `json:"finishedAt"`
	Transformed int       `json:"transformed"`
	RuleErrors  int       `json:"ruleErrors"`
	Aborted     bool      `json:"aborted"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
