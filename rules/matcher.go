package rules

import (
	"errors"
	"regexp"
)

// Match searches the rule's pattern in the record's source column and
// returns the named captures. Groups that did not participate in the match
// or matched the empty string are left out, so they can never erase a value
// captured by another rule.
//
// applies reports whether the rule takes part in building output for this
// record: the pattern matched and, if it declares named groups, at least one
// of them captured something. A missing source column or a failed search is
// not an error.
func Match(rule *Rule, rec Record) (caps Captures, applies bool, err error) {
	value, ok := rec.Field(rule.SourceColumn)
	if !ok {
		return nil, false, nil
	}

	// Compiled on every call; the package keeps no state.
	re, err := regexp.Compile(rule.SourcePattern)
	if err != nil {
		return nil, false, &PatternError{
			RuleID:  rule.ID,
			Order:   rule.ApplicationOrder,
			Pattern: rule.SourcePattern,
			Err:     err,
		}
	}

	loc := re.FindStringSubmatchIndex(value)
	if loc == nil {
		return nil, false, nil
	}

	caps = Captures{}
	named := 0
	for i, name := range re.SubexpNames() {
		if name == "" {
			continue
		}
		named++
		start, end := loc[2*i], loc[2*i+1]
		if start < 0 || start == end {
			continue
		}
		caps[name] = value[start:end]
	}

	if named > 0 && len(caps) == 0 {
		return nil, false, nil
	}
	return caps, true, nil
}

// Merge overlays other onto c. Empty values in other are ignored.
func (c Captures) Merge(other Captures) {
	for name, value := range other {
		if value == "" {
			continue
		}
		c[name] = value
	}
}

// GatherCaptures runs every rule against the record in the given order and
// merges their captures, later rules winning on name collisions. Rules with
// an invalid pattern contribute nothing; their errors are returned joined
// together with the captures of the remaining rules.
func GatherCaptures(rules []*Rule, rec Record) (Captures, error) {
	merged, _, errs := gather(rules, rec)
	return merged, errors.Join(errs...)
}

// gather also reports, per rule index, whether the rule applies.
func gather(rules []*Rule, rec Record) (Captures, []bool, []error) {
	merged := Captures{}
	applies := make([]bool, len(rules))
	var errs []error

	for i, rule := range rules {
		caps, ok, err := Match(rule, rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		applies[i] = ok
		merged.Merge(caps)
	}

	return merged, applies, errs
}
