package rules

import (
	"github.com/expr-lang/expr/vm"
)

// VelocitySpec declares a rate/volume sub-check attached to a rule. The
// counter key is derived from the listed transaction fields plus the rule
// identity and window.
type VelocitySpec struct {
	KeyFields     []string `yaml:"key_fields" json:"key_fields"`
	Threshold     int64    `yaml:"threshold" json:"threshold"`
	WindowSeconds int      `yaml:"window_seconds" json:"window_seconds"`
	Action        string   `yaml:"action,omitempty" json:"action,omitempty"` // override when exceeded
}

// Rule is one entry of a rule set. Immutable once the set is built.
type Rule struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Priority int    `yaml:"priority" json:"priority"`
	Enabled  bool   `yaml:"enabled" json:"enabled"`

	// Conditions combine with short-circuit AND. Predicate, when present,
	// is the precompiled equivalent and is preferred at evaluation time.
	Conditions []*Condition `yaml:"conditions" json:"conditions"`
	Predicate  string       `yaml:"predicate,omitempty" json:"predicate,omitempty"`

	Action   string        `yaml:"action" json:"action"`
	Velocity *VelocitySpec `yaml:"velocity,omitempty" json:"velocity,omitempty"`

	RuleVersionID string `yaml:"rule_version_id,omitempty" json:"rule_version_id,omitempty"`
	RuleVersion   int64  `yaml:"rule_version,omitempty" json:"rule_version,omitempty"`

	program *vm.Program // compiled Predicate, nil when none
}

// Compiled reports whether the rule carries a precompiled predicate.
func (r *Rule) Compiled() bool { return r.program != nil }

// Set is an immutable, priority-ordered rule collection for one
// (country, key) scope. The registry swaps Set references; a Set is never
// mutated after Build returns it.
type Set struct {
	Key     string
	Country string
	Version int64
	Rules   []*Rule
}
