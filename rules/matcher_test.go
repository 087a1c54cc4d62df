package rules

import (
	"errors"
	"reflect"
	"testing"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name        string
		pattern     string
		value       string
		wantCaps    Captures
		wantApplies bool
	}{
		{
			name:        "named group captured",
			pattern:     `banana(?P<n>\d+)`,
			value:       "banana123",
			wantCaps:    Captures{"n": "123"},
			wantApplies: true,
		},
		{
			name:        "search, not full match",
			pattern:     `(?P<n>\d+)`,
			value:       "abc 42 def",
			wantCaps:    Captures{"n": "42"},
			wantApplies: true,
		},
		{
			name:    "no match",
			pattern: `(?P<digits>\d+)`,
			value:   "no match",
		},
		{
			name:    "only empty captures does not apply",
			pattern: `(?P<digits>\d*)`,
			value:   "no match",
		},
		{
			name:        "empty capture left out",
			pattern:     `(?P<a>x*)(?P<b>y+)`,
			value:       "yy",
			wantCaps:    Captures{"b": "yy"},
			wantApplies: true,
		},
		{
			name:        "non-participating group left out",
			pattern:     `(?P<a>foo)|(?P<b>bar)`,
			value:       "bar",
			wantCaps:    Captures{"b": "bar"},
			wantApplies: true,
		},
		{
			name:        "no named groups applies on match",
			pattern:     `fixed`,
			value:       "a fixed value",
			wantCaps:    Captures{},
			wantApplies: true,
		},
		{
			name:        "unnamed groups are ignored",
			pattern:     `(\w+)-(?P<id>\d+)`,
			value:       "order-7",
			wantCaps:    Captures{"id": "7"},
			wantApplies: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &Rule{ID: "r", SourceColumn: "text", SourcePattern: tt.pattern}

			caps, applies, err := Match(rule, Fields{"text": tt.value})
			if err != nil {
				t.Fatalf("Match() error: %v", err)
			}
			if applies != tt.wantApplies {
				t.Errorf("applies = %v, want %v", applies, tt.wantApplies)
			}
			if tt.wantApplies && !reflect.DeepEqual(caps, tt.wantCaps) {
				t.Errorf("captures = %v, want %v", caps, tt.wantCaps)
			}
			if !tt.wantApplies && len(caps) != 0 {
				t.Errorf("expected no captures, got %v", caps)
			}
		})
	}
}

// TestMatch_MissingColumn verifies a record without the source column is
// skipped without error
func TestMatch_MissingColumn(t *testing.T) {
	rule := &Rule{SourceColumn: "text", SourcePattern: `(?P<n>\d+)`}

	caps, applies, err := Match(rule, Fields{"other": "123"})
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if applies || len(caps) != 0 {
		t.Errorf("Expected no contribution, got applies=%v caps=%v", applies, caps)
	}
}

func TestMatch_InvalidPattern(t *testing.T) {
	rule := &Rule{ID: "bad", ApplicationOrder: 4, SourceColumn: "text", SourcePattern: `(?P<n>\d+`}

	_, applies, err := Match(rule, Fields{"text": "123"})
	if applies {
		t.Error("Invalid pattern must not apply")
	}

	var pe *PatternError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected *PatternError, got %T: %v", err, err)
	}
	if pe.RuleID != "bad" || pe.Order != 4 {
		t.Errorf("PatternError carries rule %s order %d", pe.RuleID, pe.Order)
	}
}

func TestCapturesMerge_EmptyNeverOverwrites(t *testing.T) {
	c := Captures{"code": "FOO"}
	c.Merge(Captures{"code": "", "other": "x"})

	if c["code"] != "FOO" {
		t.Errorf("Empty value overwrote code: %q", c["code"])
	}
	if c["other"] != "x" {
		t.Errorf("Expected other=x, got %q", c["other"])
	}
}

// TestGatherCaptures_LaterOrderWins verifies name collisions resolve to the
// later rule in the given order
func TestGatherCaptures_LaterOrderWins(t *testing.T) {
	rules := []*Rule{
		{ID: "1", ApplicationOrder: 1, SourceColumn: "text", SourcePattern: `general case (?P<code>\w+)`},
		{ID: "2", ApplicationOrder: 2, SourceColumn: "text", SourcePattern: `special condition (?P<code>\w+)`},
	}

	caps, err := GatherCaptures(rules, Fields{"text": "general case FOO with special condition BAR"})
	if err != nil {
		t.Fatalf("GatherCaptures() error: %v", err)
	}
	if caps["code"] != "BAR" {
		t.Errorf("code = %q, want BAR", caps["code"])
	}

	caps, err = GatherCaptures(rules, Fields{"text": "general case FOO only"})
	if err != nil {
		t.Fatalf("GatherCaptures() error: %v", err)
	}
	if caps["code"] != "FOO" {
		t.Errorf("code = %q, want FOO when the later rule does not match", caps["code"])
	}
}

// TestGatherCaptures_SkipsInvalidPattern verifies a bad rule does not hide
// the captures of the others
func TestGatherCaptures_SkipsInvalidPattern(t *testing.T) {
	rules := []*Rule{
		{ID: "bad", ApplicationOrder: 1, SourceColumn: "text", SourcePattern: `(`},
		{ID: "good", ApplicationOrder: 2, SourceColumn: "text", SourcePattern: `(?P<n>\d+)`},
	}

	caps, err := GatherCaptures(rules, Fields{"text": "77"})
	var pe *PatternError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected *PatternError, got %v", err)
	}
	if caps["n"] != "77" {
		t.Errorf("n = %q, want 77", caps["n"])
	}
}

// TestMatch_SeesEditedPattern verifies an edited pattern takes effect on the
// next call for the same rule
func TestMatch_SeesEditedPattern(t *testing.T) {
	r := testRule("1", 1, `(?P<n>\d+)`, "number", "$n")
	rec := Fields{"text": "abc 42"}

	caps, ok, err := Match(r, rec)
	if err != nil || !ok || caps["n"] != "42" {
		t.Fatalf("Match() = %v, %v, %v", caps, ok, err)
	}

	r.SourcePattern = `(?P<w>[a-z]+)`
	caps, ok, err = Match(r, rec)
	if err != nil || !ok {
		t.Fatalf("Match() after edit = %v, %v, %v", caps, ok, err)
	}
	if caps["w"] != "abc" || caps["n"] != "" {
		t.Errorf("Match() after edit = %v, want only w=abc", caps)
	}
}
