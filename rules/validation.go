package rules

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const maxIdentifierLength = 100

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateRule checks a rule definition before it is stored: both columns
// are identifiers, the source pattern compiles and the output pattern has
// well-formed placeholders. Evaluation never calls it; a rule that slipped
// through fails at run time with a *PatternError or *TemplateError instead.
func ValidateRule(rule *Rule) error {
	if err := validateIdentifier(rule.SourceColumn); err != nil {
		return fmt.Errorf("invalid source column %q: %w", rule.SourceColumn, err)
	}
	if err := validateIdentifier(rule.OutputColumn); err != nil {
		return fmt.Errorf("invalid output column %q: %w", rule.OutputColumn, err)
	}

	if rule.SourcePattern == "" {
		return fmt.Errorf("source pattern cannot be empty")
	}
	if _, err := regexp.Compile(rule.SourcePattern); err != nil {
		return fmt.Errorf("invalid source pattern %q: %w", rule.SourcePattern, err)
	}

	if _, err := Placeholders(rule.OutputPattern); err != nil {
		return fmt.Errorf("invalid output pattern: %w", err)
	}

	return nil
}

// UnresolvedPlaceholders returns, per rule ID, the placeholders of active
// rules that no active rule's pattern declares as a named group. Under
// GatherApply any such placeholder guarantees a TemplateError whenever the
// rule applies. Rules with invalid patterns or templates are skipped.
func UnresolvedPlaceholders(rules []*Rule) map[string][]string {
	active := ActiveInOrder(rules)

	groups := make(map[string]bool)
	for _, r := range active {
		re, err := regexp.Compile(r.SourcePattern)
		if err != nil {
			continue
		}
		for _, name := range re.SubexpNames() {
			if name != "" {
				groups[name] = true
			}
		}
	}

	unresolved := make(map[string][]string)
	for _, r := range active {
		names, err := Placeholders(r.OutputPattern)
		if err != nil {
			continue
		}
		for _, name := range names {
			if !groups[name] {
				unresolved[r.ID] = append(unresolved[r.ID], name)
			}
		}
	}
	return unresolved
}

// CheckRuleSet reports every unresolved placeholder as one error.
func CheckRuleSet(rules []*Rule) error {
	unresolved := UnresolvedPlaceholders(rules)
	if len(unresolved) == 0 {
		return nil
	}

	ids := make([]string, 0, len(unresolved))
	for id := range unresolved {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		errs = append(errs, fmt.Errorf("rule %s references uncaptured names: $%s",
			id, strings.Join(unresolved[id], ", $")))
	}
	return errors.Join(errs...)
}

// validateIdentifier validates a column name.
// Must match ^[a-zA-Z_][a-zA-Z0-9_]*$ and be 1-100 characters.
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > maxIdentifierLength {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(name), maxIdentifierLength)
	}
	if !validIdentifier.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)")
	}
	return nil
}
