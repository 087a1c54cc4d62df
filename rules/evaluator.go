package rules

import (
	"errors"
	"fmt"
	"sort"
)

// Strategy names accepted by StrategyByName.
const (
	StrategyGatherApply = "gather_apply"
	StrategyLocalMatch  = "local_match"
)

// Strategy turns an ordered rule list and a record into output attributes.
//
// rules must be active and sorted by ascending ApplicationOrder. A rule
// whose pattern does not apply never writes its output column. Rule-level
// failures (*TemplateError, *PatternError) skip that rule's write only: the
// attributes from the other rules are returned alongside the joined errors.
type Strategy interface {
	Name() string
	Evaluate(rules []*Rule, rec Record) (Attributes, error)
}

// StrategyByName returns the strategy registered under name. The empty
// name selects GatherApply.
func StrategyByName(name string) (Strategy, error) {
	switch name {
	case "", StrategyGatherApply:
		return GatherApply{}, nil
	case StrategyLocalMatch:
		return LocalMatch{}, nil
	default:
		return nil, fmt.Errorf("unknown evaluation strategy %q (use %s or %s)",
			name, StrategyGatherApply, StrategyLocalMatch)
	}
}

// GatherApply is the default strategy. It first merges the captures of
// every rule, then applies the rules in order, rendering each template
// against the merged captures. A template may therefore use a name captured
// by any rule, including one applied after it, and the last applying rule
// that writes a column decides its value.
type GatherApply struct{}

// Name implements Strategy.
func (GatherApply) Name() string { return StrategyGatherApply }

// Evaluate implements Strategy.
func (GatherApply) Evaluate(rules []*Rule, rec Record) (Attributes, error) {
	merged, applies, errs := gather(rules, rec)

	attrs := Attributes{}
	for i, rule := range rules {
		if !applies[i] {
			continue
		}
		if err := applyRule(rule, merged, attrs); err != nil {
			errs = append(errs, err)
		}
	}

	return attrs, errors.Join(errs...)
}

// LocalMatch renders each rule only from its own captures in a single pass.
// Templates cannot see names captured by other rules; column precedence is
// the same as GatherApply.
type LocalMatch struct{}

// Name implements Strategy.
func (LocalMatch) Name() string { return StrategyLocalMatch }

// Evaluate implements Strategy.
func (LocalMatch) Evaluate(rules []*Rule, rec Record) (Attributes, error) {
	attrs := Attributes{}
	var errs []error

	for _, rule := range rules {
		caps, ok, err := Match(rule, rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		if err := applyRule(rule, caps, attrs); err != nil {
			errs = append(errs, err)
		}
	}

	return attrs, errors.Join(errs...)
}

// applyRule renders rule's template against values and overwrites the
// rule's output column in attrs.
func applyRule(rule *Rule, values Captures, attrs Attributes) error {
	value, err := Render(rule.OutputPattern, values)
	if err != nil {
		var te *TemplateError
		if errors.As(err, &te) {
			te.RuleID = rule.ID
			te.Order = rule.ApplicationOrder
		}
		return err
	}

	attrs[rule.OutputColumn] = value
	return nil
}

// ActiveInOrder returns the active rules sorted by ascending application
// order. The input slice is not modified.
func ActiveInOrder(rules []*Rule) []*Rule {
	active := make([]*Rule, 0, len(rules))
	for _, r := range rules {
		if r.Active {
			active = append(active, r)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].ApplicationOrder < active[j].ApplicationOrder
	})
	return active
}
