// Package decision holds the outcome model produced by the rule evaluator
// and consumed by the durability dispatcher and the HTTP surface.
package decision

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Canonical decision outcomes. Actions may also carry free-form labels,
// which pass through Normalize uppercased.
const (
	Approve = "APPROVE"
	Decline = "DECLINE"
	Review  = "REVIEW"
)

// Engine modes.
const (
	ModeNormal   = "NORMAL"
	ModeFailOpen = "FAIL_OPEN"
)

// Evaluation types.
const EvalAuth = "AUTH"

// MatchedRule records the single first-matching rule of an evaluation.
type MatchedRule struct {
	RuleID        string `json:"rule_id"`
	RuleName      string `json:"rule_name"`
	Action        string `json:"action"`
	Priority      int    `json:"priority"`
	RuleVersionID string `json:"rule_version_id,omitempty"`
	RuleVersion   int64  `json:"rule_version,omitempty"`
	Matched       bool   `json:"matched"`
	Contributing  bool   `json:"contributing"`
}

// VelocityResult is the outcome of one rule's velocity sub-check.
type VelocityResult struct {
	Exceeded    bool   `json:"exceeded"`
	Count       int64  `json:"count"`
	Threshold   int64  `json:"threshold"`
	Window      string `json:"window"` // e.g. "60s"
	Key         string `json:"key,omitempty"`
	Unavailable bool   `json:"unavailable,omitempty"` // counter store failed; treated as not exceeded
}

// TimingBreakdown carries per-phase latency attached by the pipeline.
type TimingBreakdown struct {
	LookupMs           float64 `json:"ruleset_lookup_ms"`
	EvaluationMs       float64 `json:"rule_evaluation_ms"`
	EnqueueMs          float64 `json:"outbox_enqueue_ms"`
	VelocityCheckCount int     `json:"velocity_check_count"`
}

// Decision is created once per request, mutated only by the evaluator and
// the pipeline that attaches timing, and never touched after it is handed to
// the durability dispatcher.
type Decision struct {
	DecisionID     string                    `json:"decision_id"`
	TransactionID  string                    `json:"transaction_id"`
	EvaluationType string                    `json:"evaluation_type"`
	Decision       string                    `json:"decision"`
	MatchedRules   []MatchedRule             `json:"matched_rules"`
	Velocity       map[string]VelocityResult `json:"velocity_results,omitempty"`
	EngineMode     string                    `json:"engine_mode"`
	ErrorCode      string                    `json:"engine_error_code,omitempty"`
	ErrorMessage   string                    `json:"engine_error_message,omitempty"`
	RulesetKey     string                    `json:"ruleset_key"`
	RulesetVersion int64                     `json:"ruleset_version,omitempty"`
	Timing         *TimingBreakdown          `json:"timing_breakdown,omitempty"`
	ProcessingMs   float64                   `json:"processing_time_ms"`
	Timestamp      time.Time                 `json:"timestamp"`
	DebugInfo      *DebugInfo                `json:"debug_info,omitempty"`
}

// New creates a Decision shell in normal mode with a fresh identity.
func New(transactionID, evaluationType string) *Decision {
	return &Decision{
		DecisionID:     uuid.New().String(),
		TransactionID:  transactionID,
		EvaluationType: evaluationType,
		EngineMode:     ModeNormal,
		MatchedRules:   []MatchedRule{},
		Timestamp:      time.Now().UTC(),
	}
}

// AddVelocityResult records the sub-check outcome for a rule id.
func (d *Decision) AddVelocityResult(ruleID string, res VelocityResult) {
	if d.Velocity == nil {
		d.Velocity = make(map[string]VelocityResult, 2)
	}
	d.Velocity[ruleID] = res
}

// Normalize maps an action label to its canonical outcome. Known synonyms
// collapse to APPROVE/DECLINE/REVIEW; unknown labels pass through uppercased
// so action-defined outcomes survive; empty falls back to def.
func Normalize(action, def string) string {
	a := strings.ToUpper(strings.TrimSpace(action))
	switch a {
	case "":
		return def
	case Approve, "ALLOW", "ACCEPT":
		return Approve
	case Decline, "DENY", "BLOCK", "REJECT":
		return Decline
	case Review, "CHALLENGE", "HOLD":
		return Review
	}
	return a
}
