package decision

// ConditionEvaluation is one debug-trace record: a single condition applied
// to a single transaction attribute.
type ConditionEvaluation struct {
	RuleID      string  `json:"rule_id"`
	RuleName    string  `json:"rule_name"`
	Field       string  `json:"field"`
	Operator    string  `json:"operator"`
	Expected    any     `json:"expected"`
	Observed    any     `json:"observed"`
	Matched     bool    `json:"matched"`
	LatencyNs   int64   `json:"latency_ns"`
	Explanation string  `json:"explanation"`
}

// DebugInfo aggregates optional trace output. It is only allocated when
// debug tracing is enabled for a request.
type DebugInfo struct {
	ConditionEvaluations []ConditionEvaluation `json:"condition_evaluations"`
	FieldValues          map[string]any        `json:"field_values,omitempty"`
	Truncated            bool                  `json:"truncated,omitempty"`
}
