// Package velocity evaluates per-rule rate/volume sub-checks against a
// shared counter store.
package velocity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nkulkarni/authgate/internal/decision"
	"github.com/nkulkarni/authgate/internal/metrics"
	"github.com/nkulkarni/authgate/internal/rules"
	"github.com/nkulkarni/authgate/internal/transaction"
)

// Evaluator computes whether a rule's velocity condition is exceeded.
//
// Store failures never fail an evaluation: the result is reported as
// not-exceeded and marked unavailable, which keeps the whole pipeline
// fail-open. FailOpen only controls whether the failure is logged at warn
// (true, expected mode) or error (false, operator wants to notice).
type Evaluator struct {
	store    Store
	failOpen bool
	logger   *slog.Logger
}

// NewEvaluator wires a counter store. failOpen selects the documented
// store-outage policy; both settings degrade to not-exceeded.
func NewEvaluator(store Store, failOpen bool, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{store: store, failOpen: failOpen, logger: logger}
}

// Key derives the counter key from the rule identity, window, and the
// transaction attributes the spec names. Two rules sharing fields and window
// but differing in id count independently.
func Key(tx *transaction.Transaction, rule *rules.Rule) string {
	spec := rule.Velocity
	parts := make([]string, 0, 3+len(spec.KeyFields))
	parts = append(parts, "vel", rule.ID, fmt.Sprintf("%ds", spec.WindowSeconds))
	for _, f := range spec.KeyFields {
		v, _ := tx.Field(f)
		parts = append(parts, fmt.Sprintf("%v", v))
	}
	return strings.Join(parts, ":")
}

// Check increments the counter and compares the post-increment value to the
// rule's threshold. Used in normal (mutating) operation.
func (e *Evaluator) Check(ctx context.Context, tx *transaction.Transaction, rule *rules.Rule) decision.VelocityResult {
	spec := rule.Velocity
	key := Key(tx, rule)
	window := time.Duration(spec.WindowSeconds) * time.Second

	count, err := e.store.IncrementAndGet(ctx, key, window)
	if err != nil {
		return e.degrade(rule, key, err)
	}
	return decision.VelocityResult{
		Exceeded:  count > spec.Threshold,
		Count:     count,
		Threshold: spec.Threshold,
		Window:    fmt.Sprintf("%ds", spec.WindowSeconds),
		Key:       key,
	}
}

// CheckReadOnly never mutates the counter. Results for a derived key already
// seen during this evaluation pass are served from cache, so replaying the
// same transaction is deterministic and hits the store at most once per key.
func (e *Evaluator) CheckReadOnly(ctx context.Context, tx *transaction.Transaction, rule *rules.Rule, cache map[string]decision.VelocityResult) decision.VelocityResult {
	spec := rule.Velocity
	key := Key(tx, rule)

	if cached, ok := cache[key]; ok {
		res := cached
		res.Threshold = spec.Threshold
		res.Exceeded = res.Count > spec.Threshold
		return res
	}

	count, err := e.store.Get(ctx, key)
	if err != nil {
		res := e.degrade(rule, key, err)
		cache[key] = res
		return res
	}
	res := decision.VelocityResult{
		Exceeded:  count > spec.Threshold,
		Count:     count,
		Threshold: spec.Threshold,
		Window:    fmt.Sprintf("%ds", spec.WindowSeconds),
		Key:       key,
	}
	cache[key] = res
	return res
}

func (e *Evaluator) degrade(rule *rules.Rule, key string, err error) decision.VelocityResult {
	metrics.VelocityStoreErrors.Inc()
	if e.failOpen {
		e.logger.Warn("velocity store unavailable, treating as not exceeded",
			"rule_id", rule.ID, "key", key, "err", err)
	} else {
		e.logger.Error("velocity store unavailable",
			"rule_id", rule.ID, "key", key, "err", err)
	}
	return decision.VelocityResult{
		Exceeded:    false,
		Threshold:   rule.Velocity.Threshold,
		Window:      fmt.Sprintf("%ds", rule.Velocity.WindowSeconds),
		Key:         key,
		Unavailable: true,
	}
}
