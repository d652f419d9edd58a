// Package service orchestrates the AUTH decision pipeline: admission gate,
// registry lookup, rule evaluation, timing, and durability enqueue. Every
// internal failure resolves to a fail-open Decision; nothing on this path
// surfaces an error to the caller.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/nkulkarni/authgate/internal/decision"
	"github.com/nkulkarni/authgate/internal/engine"
	"github.com/nkulkarni/authgate/internal/gate"
	"github.com/nkulkarni/authgate/internal/metrics"
	"github.com/nkulkarni/authgate/internal/outbox"
	"github.com/nkulkarni/authgate/internal/registry"
	"github.com/nkulkarni/authgate/internal/transaction"
)

// RulesetKeyAuth is the fixed rule-set key for AUTH: every transaction type
// routes to the same key.
const RulesetKeyAuth = "CARD_AUTH"

// Fail-open error codes.
const (
	codeInternal        = "INTERNAL_ERROR"
	codeRulesetNotFound = "RULESET_NOT_FOUND"
	codeLoadShed        = "LOAD_SHED"
)

// Service is the evaluation entry point used by the HTTP layer.
type Service struct {
	gate       *gate.Gate
	registry   *registry.Registry
	evaluator  *engine.Evaluator
	dispatcher *outbox.Dispatcher
	logger     *slog.Logger
}

// New wires the pipeline.
func New(g *gate.Gate, reg *registry.Registry, eval *engine.Evaluator, disp *outbox.Dispatcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gate: g, registry: reg, evaluator: eval, dispatcher: disp, logger: logger}
}

// EvaluateAuth runs one transaction through the pipeline and always returns
// a valid Decision.
func (s *Service) EvaluateAuth(ctx context.Context, tx *transaction.Transaction, opts engine.Options) *decision.Decision {
	start := time.Now()

	admitted, acquired := s.gate.TryAcquire()
	if !admitted {
		// Shed before any expensive work: default decision, still recorded.
		dec := s.failOpen(tx, codeLoadShed, "admission gate saturated, default approve")
		s.enqueue(tx, dec)
		dec.ProcessingMs = msSince(start)
		return dec
	}
	if acquired {
		defer s.gate.Release()
	}

	dec := s.evaluate(ctx, tx, opts)

	dec.ProcessingMs = msSince(start)
	metrics.EvaluationsTotal.WithLabelValues(dec.Decision).Inc()
	metrics.EvaluationDuration.Observe(dec.ProcessingMs)
	return dec
}

// evaluate performs lookup + rule evaluation behind a panic boundary: an
// unexpected fault converts to the fail-open decision shape.
func (s *Service) evaluate(ctx context.Context, tx *transaction.Transaction, opts engine.Options) (dec *decision.Decision) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("evaluation panicked, failing open",
				"transaction_id", tx.TransactionID, "panic", r)
			dec = s.failOpen(tx, codeInternal, "internal evaluation error")
			s.enqueue(tx, dec)
		}
	}()

	lookupStart := time.Now()
	set := s.registry.Lookup(tx.CountryCode, RulesetKeyAuth)
	lookupMs := msSince(lookupStart)

	if set == nil {
		s.logger.Error("ruleset not found in registry, failing open",
			"ruleset_key", RulesetKeyAuth, "country", tx.CountryCode)
		dec = s.failOpen(tx, codeRulesetNotFound, "ruleset not found in registry")
		dec.Timing = &decision.TimingBreakdown{LookupMs: lookupMs}
		s.enqueue(tx, dec)
		return dec
	}

	evalStart := time.Now()
	dec = s.evaluator.Evaluate(ctx, tx, set, opts)
	evalMs := msSince(evalStart)

	dec.Timing = &decision.TimingBreakdown{
		LookupMs:           lookupMs,
		EvaluationMs:       evalMs,
		VelocityCheckCount: len(dec.Velocity),
	}

	enqStart := time.Now()
	s.enqueue(tx, dec)
	dec.Timing.EnqueueMs = msSince(enqStart)
	return dec
}

func (s *Service) enqueue(tx *transaction.Transaction, dec *decision.Decision) {
	s.dispatcher.Enqueue(tx, dec)
}

func (s *Service) failOpen(tx *transaction.Transaction, code, msg string) *decision.Decision {
	dec := decision.New(tx.TransactionID, decision.EvalAuth)
	dec.Decision = decision.Approve
	dec.EngineMode = decision.ModeFailOpen
	dec.ErrorCode = code
	dec.ErrorMessage = msg
	dec.RulesetKey = RulesetKeyAuth
	metrics.FailOpenTotal.Inc()
	return dec
}

// Gate exposes admission counters to the operational surface.
func (s *Service) Gate() *gate.Gate { return s.gate }

// QueueUtilization reports outbox queue fullness for readiness checks.
func (s *Service) QueueUtilization() float64 { return s.dispatcher.QueueUtilization() }

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Nanoseconds()) / 1e6
}
