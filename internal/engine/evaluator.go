// Package engine implements the first-match rule evaluator for the AUTH
// hot path.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nkulkarni/authgate/internal/decision"
	"github.com/nkulkarni/authgate/internal/metrics"
	"github.com/nkulkarni/authgate/internal/rules"
	"github.com/nkulkarni/authgate/internal/transaction"
	"github.com/nkulkarni/authgate/internal/velocity"
)

// DebugConfig bounds the optional condition trace. Swapped atomically on
// config hot-reload.
type DebugConfig struct {
	MaxConditionEvaluations int
	IncludeFieldValues      bool
}

// Options select per-request evaluation behaviour.
type Options struct {
	// ReplayMode re-evaluates a historical transaction: velocity checks are
	// read-only and cached per derived key within this call.
	ReplayMode bool
	// Debug enables per-condition tracing on the Decision.
	Debug bool
}

// Evaluator walks a rule set in priority order and stops at the first fully
// matching enabled rule.
type Evaluator struct {
	velocity *velocity.Evaluator
	evalType string
	debugCfg atomic.Pointer[DebugConfig]
	logger   *slog.Logger
}

// New creates an evaluator for one evaluation type.
func New(vel *velocity.Evaluator, evalType string, dbg DebugConfig, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	if dbg.MaxConditionEvaluations <= 0 {
		dbg.MaxConditionEvaluations = 200
	}
	e := &Evaluator{velocity: vel, evalType: evalType, logger: logger}
	e.debugCfg.Store(&dbg)
	return e
}

// SetDebugConfig swaps the trace bounds without restart.
func (e *Evaluator) SetDebugConfig(dbg DebugConfig) {
	if dbg.MaxConditionEvaluations <= 0 {
		dbg.MaxConditionEvaluations = 200
	}
	e.debugCfg.Store(&dbg)
}

// Evaluate produces a Decision for tx against set. First match wins: once a
// rule fully matches, no later rule is considered. An empty or fully
// non-matching set defaults to APPROVE with no matched rule.
func (e *Evaluator) Evaluate(ctx context.Context, tx *transaction.Transaction, set *rules.Set, opts Options) *decision.Decision {
	dec := decision.New(tx.TransactionID, e.evalType)
	dec.RulesetKey = set.Key
	dec.RulesetVersion = set.Version

	// The attribute map is only materialised when something actually needs
	// it; compiled-predicate rules run against the struct directly.
	var evalCtx map[string]any

	var replayCache map[string]decision.VelocityResult
	if opts.ReplayMode {
		replayCache = make(map[string]decision.VelocityResult)
	}
	if opts.Debug {
		dec.DebugInfo = &decision.DebugInfo{}
	}

	for _, rule := range set.Rules {
		if !rule.Enabled {
			continue
		}

		if evalCtx == nil && (opts.Debug || !rule.Compiled()) {
			evalCtx = tx.Context()
		}

		matched := e.matchRule(rule, tx, evalCtx)
		if opts.Debug {
			e.trace(rule, evalCtx, dec.DebugInfo)
		}
		if !matched {
			continue
		}

		if rule.Velocity != nil {
			var vres decision.VelocityResult
			if opts.ReplayMode {
				vres = e.velocity.CheckReadOnly(ctx, tx, rule, replayCache)
			} else {
				vres = e.velocity.Check(ctx, tx, rule)
			}
			dec.AddVelocityResult(rule.ID, vres)

			if vres.Exceeded && rule.Velocity.Action != "" {
				e.finalize(dec, rule, rule.Velocity.Action)
				return dec
			}
		}

		e.finalize(dec, rule, rule.Action)
		return dec
	}

	dec.Decision = decision.Approve
	return dec
}

// matchRule prefers the precompiled predicate; otherwise the condition set
// is evaluated with short-circuit AND. A predicate runtime error means no
// match, never a caller-visible failure.
func (e *Evaluator) matchRule(rule *rules.Rule, tx *transaction.Transaction, evalCtx map[string]any) bool {
	if rule.Compiled() {
		ok, err := rule.Match(tx)
		if err != nil {
			e.logger.Warn("predicate evaluation failed, rule treated as not matched",
				"rule_id", rule.ID, "err", err)
			return false
		}
		return ok
	}
	for _, cond := range rule.Conditions {
		if !cond.Eval(evalCtx) {
			return false
		}
	}
	return true
}

func (e *Evaluator) finalize(dec *decision.Decision, rule *rules.Rule, action string) {
	dec.MatchedRules = append(dec.MatchedRules, decision.MatchedRule{
		RuleID:        rule.ID,
		RuleName:      rule.Name,
		Action:        decision.Normalize(action, decision.Normalize(rule.Action, decision.Approve)),
		Priority:      rule.Priority,
		RuleVersionID: rule.RuleVersionID,
		RuleVersion:   rule.RuleVersion,
		Matched:       true,
		Contributing:  true,
	})
	dec.Decision = decision.Normalize(action, decision.Approve)
	metrics.RulesMatched.WithLabelValues(rule.ID).Inc()
}

// trace records one debug entry per condition of the rule just evaluated,
// bounded by the configured maximum.
func (e *Evaluator) trace(rule *rules.Rule, evalCtx map[string]any, dbg *decision.DebugInfo) {
	cfg := e.debugCfg.Load()
	if len(rule.Conditions) == 0 || dbg.Truncated {
		return
	}
	for _, cond := range rule.Conditions {
		if len(dbg.ConditionEvaluations) >= cfg.MaxConditionEvaluations {
			dbg.Truncated = true
			return
		}
		start := time.Now()
		observed := evalCtx[cond.Field]
		matched, _ := cond.EvalValue(observed)
		elapsed := time.Since(start).Nanoseconds()

		dbg.ConditionEvaluations = append(dbg.ConditionEvaluations, decision.ConditionEvaluation{
			RuleID:      rule.ID,
			RuleName:    rule.Name,
			Field:       cond.Field,
			Operator:    cond.Op.Symbol(),
			Expected:    cond.Value,
			Observed:    observed,
			Matched:     matched,
			LatencyNs:   elapsed,
			Explanation: fmt.Sprintf("%s(%v) %s %v = %t", cond.Field, observed, cond.Op.Symbol(), cond.Value, matched),
		})
		if cfg.IncludeFieldValues {
			if dbg.FieldValues == nil {
				dbg.FieldValues = make(map[string]any)
			}
			dbg.FieldValues[cond.Field] = observed
		}
	}
}
