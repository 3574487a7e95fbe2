// Package rules decides which condition kinds currently hold for a market
// snapshot. Evaluation is pure: no I/O, no state, deterministic.
package rules

import (
	"fmt"

	"github.com/tailwatch/tailwatch/internal/models"
)

// Rule is a named predicate over a snapshot.
type Rule struct {
	Kind  models.ConditionKind
	Holds func(models.MarketSnapshot) bool
}

// Ruleset is an ordered list of rules. Evaluation returns every kind that
// holds, in ruleset order, so a snapshot may hold several kinds at once if
// the rules overlap.
type Ruleset struct {
	rules []Rule
}

// New builds a ruleset from explicit rules.
func New(rules ...Rule) *Ruleset {
	return &Ruleset{rules: rules}
}

// Extremes builds the default ruleset: a market is extreme-low when its YES
// price is at or below low, extreme-high at or above high. Boundaries are
// inclusive, so a market sitting exactly on a threshold holds the condition
// every cycle it stays there.
func Extremes(low, high float64) (*Ruleset, error) {
	if low < 0 || high > 1 || low >= high {
		return nil, fmt.Errorf("invalid extreme thresholds: low=%v high=%v", low, high)
	}
	return New(
		Rule{
			Kind:  models.ExtremeLow,
			Holds: func(s models.MarketSnapshot) bool { return s.YesPrice <= low },
		},
		Rule{
			Kind:  models.ExtremeHigh,
			Holds: func(s models.MarketSnapshot) bool { return s.YesPrice >= high },
		},
	), nil
}

// Evaluate returns the set of kinds that hold for the snapshot.
func (r *Ruleset) Evaluate(s models.MarketSnapshot) []models.ConditionKind {
	var held []models.ConditionKind
	for _, rule := range r.rules {
		if rule.Holds(s) {
			held = append(held, rule.Kind)
		}
	}
	return held
}

// Kinds lists every kind the ruleset knows, in ruleset order.
func (r *Ruleset) Kinds() []models.ConditionKind {
	kinds := make([]models.ConditionKind, 0, len(r.rules))
	for _, rule := range r.rules {
		kinds = append(kinds, rule.Kind)
	}
	return kinds
}
