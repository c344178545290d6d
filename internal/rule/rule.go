// Package rule implements declarative threshold predicates over one or
// two aggregates (spec.md §3/§4.2), grounded on the evaluate/abides
// pseudocode of spec.md §4.2 and the operation/condition shape of
// _examples/original_source/models/rules.py's Rule.
package rule

import (
	"fmt"

	"github.com/gatekeeper/gatekeeper/internal/aggregate"
)

// Operation selects how a rule's value is derived from its aggregates.
type Operation string

const (
	Value  Operation = "VALUE"
	Divide Operation = "DIVIDE"
)

// Condition selects how a rule's value is compared against its threshold.
type Condition string

const (
	LessThan    Condition = "LESS_THAN"
	GreaterThan Condition = "GREATER_THAN"
)

// Config describes one configured rule.
type Config struct {
	Name       string
	Operation  Operation
	Aggregate1 string
	Aggregate2 string // required iff Operation == Divide
	Value      float64
	Condition  Condition
	DenomMin   *float64 // valid only with Divide
}

// Validate enforces the invariants of spec.md §3.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("rule config: name must not be empty")
	}
	if c.Aggregate1 == "" {
		return fmt.Errorf("rule %q: aggregate1 must not be empty", c.Name)
	}
	switch c.Operation {
	case Divide:
		if c.Aggregate2 == "" {
			return fmt.Errorf("rule %q: DIVIDE requires aggregate2", c.Name)
		}
	case Value:
		if c.Aggregate2 != "" {
			return fmt.Errorf("rule %q: VALUE forbids aggregate2", c.Name)
		}
		if c.DenomMin != nil {
			return fmt.Errorf("rule %q: denom_min is valid only with DIVIDE", c.Name)
		}
	default:
		return fmt.Errorf("rule %q: unknown operation %q", c.Name, c.Operation)
	}
	switch c.Condition {
	case LessThan, GreaterThan:
	default:
		return fmt.Errorf("rule %q: unknown condition %q", c.Name, c.Condition)
	}
	return nil
}

// Rule is the runtime instance of a Config, holding non-owning references
// to the aggregates it reads; aggregates outlive rules (spec.md §3
// Ownership).
type Rule struct {
	cfg  Config
	agg1 *aggregate.Aggregate
	agg2 *aggregate.Aggregate // nil unless Operation == Divide
}

// New constructs a Rule from a validated Config and its resolved
// aggregate references.
func New(cfg Config, agg1, agg2 *aggregate.Aggregate) (*Rule, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if agg1 == nil {
		return nil, fmt.Errorf("rule %q: aggregate1 %q not resolved", cfg.Name, cfg.Aggregate1)
	}
	if cfg.Operation == Divide && agg2 == nil {
		return nil, fmt.Errorf("rule %q: aggregate2 %q not resolved", cfg.Name, cfg.Aggregate2)
	}
	return &Rule{cfg: cfg, agg1: agg1, agg2: agg2}, nil
}

func (r *Rule) Name() string { return r.cfg.Name }

// Evaluate computes (value, override) per spec.md §4.2. override forces
// abides to return true regardless of the computed value — the
// denom_min protection against small-sample false positives.
func (r *Rule) Evaluate(userID string) (value float64, override bool) {
	switch r.cfg.Operation {
	case Value:
		return r.agg1.Read(userID), false
	case Divide:
		num := r.agg1.Read(userID)
		denom := r.agg2.Read(userID)
		if r.cfg.DenomMin != nil && denom < *r.cfg.DenomMin {
			return 0, true
		}
		if denom == 0 {
			return 0, false
		}
		return num / denom, false
	}
	return 0, false
}

// Abides reports whether userID's current value satisfies the rule's
// condition, per spec.md §4.2. Equality satisfies neither condition.
func (r *Rule) Abides(userID string) bool {
	v, override := r.Evaluate(userID)
	if override {
		return true
	}
	switch r.cfg.Condition {
	case LessThan:
		return v < r.cfg.Value
	case GreaterThan:
		return v > r.cfg.Value
	}
	return false
}
