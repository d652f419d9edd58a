package rules_test

import (
	"testing"

	"github.com/nkulkarni/authgate/internal/rules"
	"github.com/nkulkarni/authgate/internal/transaction"
)

func TestPredicateMatch(t *testing.T) {
	art := &rules.Artifact{
		Key:     "CARD_AUTH",
		Version: 2,
		Rules: []*rules.Rule{
			{
				ID:        "r-pred",
				Priority:  100,
				Enabled:   true,
				Action:    "DECLINE",
				Predicate: `Amount > 1000 && CountryCode == "XX"`,
			},
		},
	}
	set, err := rules.Build(art)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	rule := set.Rules[0]
	if !rule.Compiled() {
		t.Fatal("expected rule to carry a compiled predicate")
	}

	cases := []struct {
		name string
		tx   transaction.Transaction
		want bool
	}{
		{"both hold", transaction.Transaction{Amount: 1500, CountryCode: "XX"}, true},
		{"amount too low", transaction.Transaction{Amount: 500, CountryCode: "XX"}, false},
		{"wrong country", transaction.Transaction{Amount: 1500, CountryCode: "US"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := rule.Match(&tc.tx)
			if err != nil {
				t.Fatalf("Match: %v", err)
			}
			if got != tc.want {
				t.Errorf("Match() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPredicateEquivalentToConditions(t *testing.T) {
	// The compiled predicate and the condition list express the same rule;
	// both paths must agree on every transaction.
	conds := []*rules.Condition{
		{Field: "amount", Op: rules.OpGt, Value: 1000},
		{Field: "country_code", Op: rules.OpEq, Value: "XX"},
	}
	art := &rules.Artifact{
		Key:     "CARD_AUTH",
		Version: 1,
		Rules: []*rules.Rule{
			{ID: "r-cond", Priority: 100, Enabled: true, Action: "DECLINE", Conditions: conds},
			{ID: "r-pred", Priority: 200, Enabled: true, Action: "DECLINE",
				Predicate: `Amount > 1000 && CountryCode == "XX"`},
		},
	}
	set, err := rules.Build(art)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	txs := []transaction.Transaction{
		{Amount: 1500, CountryCode: "XX"},
		{Amount: 500, CountryCode: "XX"},
		{Amount: 1500, CountryCode: "US"},
		{Amount: 1000, CountryCode: "XX"},
	}
	for _, tx := range txs {
		condRule, predRule := set.Rules[0], set.Rules[1]
		ctx := tx.Context()
		condMatch := true
		for _, c := range condRule.Conditions {
			if !c.Eval(ctx) {
				condMatch = false
				break
			}
		}
		predMatch, err := predRule.Match(&tx)
		if err != nil {
			t.Fatalf("Match: %v", err)
		}
		if condMatch != predMatch {
			t.Errorf("tx %+v: conditions=%v predicate=%v, want agreement", tx, condMatch, predMatch)
		}
	}
}
