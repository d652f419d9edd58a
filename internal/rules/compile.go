package rules

import (
	"fmt"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/nkulkarni/authgate/internal/transaction"
)

// Artifact is the serialized rule-set form produced by authoring tooling and
// fetched by the loader. Build turns it into an immutable Set.
type Artifact struct {
	Key     string  `yaml:"key" json:"key"`
	Country string  `yaml:"country" json:"country"`
	Version int64   `yaml:"version" json:"version"`
	Rules   []*Rule `yaml:"rules" json:"rules"`
}

// Build validates and compiles an artifact into a Set. Rules are sorted by
// ascending priority exactly once here; evaluation never re-sorts.
func Build(art *Artifact) (*Set, error) {
	if art.Key == "" {
		return nil, fmt.Errorf("ruleset: key is required")
	}
	if art.Version <= 0 {
		return nil, fmt.Errorf("ruleset %s: version must be positive, got %d", art.Key, art.Version)
	}
	country := art.Country
	if country == "" {
		country = "global"
	}

	compiled := make([]*Rule, 0, len(art.Rules))
	for i, r := range art.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("ruleset %s: rules[%d]: id is required", art.Key, i)
		}
		for _, c := range r.Conditions {
			if err := c.compile(); err != nil {
				return nil, fmt.Errorf("ruleset %s: rule %s: %w", art.Key, r.ID, err)
			}
		}
		if r.Predicate != "" {
			prog, err := compilePredicate(r.Predicate)
			if err != nil {
				return nil, fmt.Errorf("ruleset %s: rule %s: compile predicate: %w", art.Key, r.ID, err)
			}
			r.program = prog
		}
		if r.Velocity != nil {
			if r.Velocity.Threshold <= 0 {
				return nil, fmt.Errorf("ruleset %s: rule %s: velocity threshold must be positive", art.Key, r.ID)
			}
			if r.Velocity.WindowSeconds <= 0 {
				return nil, fmt.Errorf("ruleset %s: rule %s: velocity window must be positive", art.Key, r.ID)
			}
		}
		if r.RuleVersion == 0 {
			r.RuleVersion = art.Version
		}
		compiled = append(compiled, r)
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority < compiled[j].Priority
	})

	return &Set{
		Key:     art.Key,
		Country: country,
		Version: art.Version,
		Rules:   compiled,
	}, nil
}

// compilePredicate compiles an expression against the typed Transaction
// schema so type errors surface at build time, not on the hot path.
func compilePredicate(src string) (*vm.Program, error) {
	return expr.Compile(src,
		expr.Env(transaction.Transaction{}),
		expr.AsBool(),
	)
}

// Match runs the rule's compiled predicate against a transaction. The caller
// guarantees Compiled() is true.
func (r *Rule) Match(tx *transaction.Transaction) (bool, error) {
	out, err := vm.Run(r.program, *tx)
	if err != nil {
		return false, err
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("rule %s: predicate did not return a boolean", r.ID)
	}
	return matched, nil
}
