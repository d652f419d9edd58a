package service_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nkulkarni/authgate/internal/decision"
	"github.com/nkulkarni/authgate/internal/engine"
	"github.com/nkulkarni/authgate/internal/gate"
	"github.com/nkulkarni/authgate/internal/outbox"
	"github.com/nkulkarni/authgate/internal/registry"
	"github.com/nkulkarni/authgate/internal/rules"
	"github.com/nkulkarni/authgate/internal/service"
	"github.com/nkulkarni/authgate/internal/transaction"
	"github.com/nkulkarni/authgate/internal/velocity"
)

// collectingAppender records every persisted event.
type collectingAppender struct {
	mu     sync.Mutex
	events []*outbox.Event
}

func (a *collectingAppender) Append(ev *outbox.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *collectingAppender) snapshot() []*outbox.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*outbox.Event, len(a.events))
	copy(out, a.events)
	return out
}

type stubLoader struct {
	artifacts map[string]*rules.Artifact
}

func (l *stubLoader) Load(key string, version int64, country string) (*rules.Artifact, error) {
	art, ok := l.artifacts[fmt.Sprintf("%s/%s/%d", country, key, version)]
	if !ok {
		return nil, registry.ErrNotFound
	}
	return art, nil
}

func (l *stubLoader) Accessible() bool { return true }

func loadedRegistry(t *testing.T, arts ...*rules.Artifact) *registry.Registry {
	t.Helper()
	loader := &stubLoader{artifacts: make(map[string]*rules.Artifact)}
	for _, art := range arts {
		country := art.Country
		if country == "" {
			country = "global"
		}
		loader.artifacts[fmt.Sprintf("%s/%s/%d", country, art.Key, art.Version)] = art
	}
	reg := registry.New(loader, false, nil)
	for _, art := range arts {
		if err := reg.LoadAndRegister(art.Country, art.Key, art.Version); err != nil {
			t.Fatalf("LoadAndRegister(%s/%s/%d): %v", art.Country, art.Key, art.Version, err)
		}
	}
	return reg
}

func highAmountArtifact() *rules.Artifact {
	return &rules.Artifact{
		Key:     service.RulesetKeyAuth,
		Version: 1,
		Rules: []*rules.Rule{
			{
				ID:       "r-high-amount",
				Name:     "high amount",
				Priority: 100,
				Enabled:  true,
				Action:   "DECLINE",
				Conditions: []*rules.Condition{
					{Field: "amount", Op: rules.OpGt, Value: 1000},
				},
			},
		},
	}
}

func newService(t *testing.T, g *gate.Gate, reg *registry.Registry, app outbox.Appender) (*service.Service, func()) {
	t.Helper()
	vel := velocity.NewEvaluator(velocity.NewMemoryStore(), true, slog.Default())
	eval := engine.New(vel, decision.EvalAuth, engine.DebugConfig{}, slog.Default())
	disp := outbox.NewDispatcher(app, decision.EvalAuth, outbox.Options{
		Enabled:       true,
		QueueCapacity: 64,
		PollInterval:  time.Millisecond,
		Backoff:       time.Millisecond,
	}, nil)
	return service.New(g, reg, eval, disp, slog.Default()), disp.Shutdown
}

func waitForEvents(t *testing.T, app *collectingAppender, n int) []*outbox.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if evs := app.snapshot(); len(evs) >= n {
			return evs
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected %d persisted events, have %d", n, len(app.snapshot()))
	return nil
}

func TestLoadShedFailOpen(t *testing.T) {
	app := &collectingAppender{}
	// Zero permits: every request sheds before touching the registry.
	svc, stop := newService(t, gate.New(0, true), loadedRegistry(t, highAmountArtifact()), app)
	defer stop()

	tx := &transaction.Transaction{TransactionID: "txn-shed", Amount: 5000, CountryCode: "XX"}
	dec := svc.EvaluateAuth(context.Background(), tx, engine.Options{})

	if dec.Decision != decision.Approve {
		t.Errorf("Decision = %q, want default APPROVE on shed", dec.Decision)
	}
	if dec.EngineMode != decision.ModeFailOpen {
		t.Errorf("EngineMode = %q, want FAIL_OPEN", dec.EngineMode)
	}
	if dec.ErrorCode != "LOAD_SHED" {
		t.Errorf("ErrorCode = %q, want LOAD_SHED", dec.ErrorCode)
	}
	if dec.RulesetKey != service.RulesetKeyAuth {
		t.Errorf("RulesetKey = %q, want %q", dec.RulesetKey, service.RulesetKeyAuth)
	}
	if len(dec.MatchedRules) != 0 {
		t.Errorf("shed decision must not run rules, matched %v", dec.MatchedRules)
	}
	if svc.Gate().ShedCount() != 1 {
		t.Errorf("ShedCount = %d, want 1", svc.Gate().ShedCount())
	}

	// Shed decisions are still recorded.
	evs := waitForEvents(t, app, 1)
	if evs[0].Decision.ErrorCode != "LOAD_SHED" {
		t.Errorf("persisted decision code = %q, want LOAD_SHED", evs[0].Decision.ErrorCode)
	}
}

func TestRulesetNotFoundFailOpen(t *testing.T) {
	app := &collectingAppender{}
	svc, stop := newService(t, gate.New(8, true), loadedRegistry(t), app)
	defer stop()

	tx := &transaction.Transaction{TransactionID: "txn-miss", Amount: 5000, CountryCode: "XX"}
	dec := svc.EvaluateAuth(context.Background(), tx, engine.Options{})

	if dec.Decision != decision.Approve || dec.EngineMode != decision.ModeFailOpen {
		t.Errorf("got %s/%s, want APPROVE/FAIL_OPEN", dec.Decision, dec.EngineMode)
	}
	if dec.ErrorCode != "RULESET_NOT_FOUND" {
		t.Errorf("ErrorCode = %q, want RULESET_NOT_FOUND", dec.ErrorCode)
	}
	if dec.Timing == nil {
		t.Error("lookup timing must be attached even on registry miss")
	}
	waitForEvents(t, app, 1)
}

func TestEvaluateAuthEndToEnd(t *testing.T) {
	app := &collectingAppender{}
	svc, stop := newService(t, gate.New(8, true), loadedRegistry(t, highAmountArtifact()), app)
	defer stop()

	decline := svc.EvaluateAuth(context.Background(),
		&transaction.Transaction{TransactionID: "txn-1", Amount: 1500, CountryCode: "XX"},
		engine.Options{})
	approve := svc.EvaluateAuth(context.Background(),
		&transaction.Transaction{TransactionID: "txn-2", Amount: 500, CountryCode: "XX"},
		engine.Options{})

	if decline.Decision != decision.Decline {
		t.Errorf("amount 1500: Decision = %q, want DECLINE", decline.Decision)
	}
	if len(decline.MatchedRules) != 1 || decline.MatchedRules[0].RuleID != "r-high-amount" {
		t.Errorf("matched rules = %+v, want the high-amount rule", decline.MatchedRules)
	}
	if decline.EngineMode != decision.ModeNormal {
		t.Errorf("EngineMode = %q, want NORMAL", decline.EngineMode)
	}
	if decline.Timing == nil || decline.Timing.EvaluationMs < 0 {
		t.Errorf("timing breakdown missing or invalid: %+v", decline.Timing)
	}
	if decline.RulesetVersion != 1 {
		t.Errorf("RulesetVersion = %d, want 1", decline.RulesetVersion)
	}

	if approve.Decision != decision.Approve {
		t.Errorf("amount 500: Decision = %q, want APPROVE", approve.Decision)
	}
	if len(approve.MatchedRules) != 0 {
		t.Errorf("amount 500 must not match, got %+v", approve.MatchedRules)
	}

	// Permit returned after each evaluation.
	if svc.Gate().Available() != 8 {
		t.Errorf("Available = %d, want 8", svc.Gate().Available())
	}

	evs := waitForEvents(t, app, 2)
	if evs[0].Decision.TransactionID != "txn-1" || evs[1].Decision.TransactionID != "txn-2" {
		t.Errorf("persisted order = [%s %s], want [txn-1 txn-2]",
			evs[0].Decision.TransactionID, evs[1].Decision.TransactionID)
	}
}

func TestPanicConvertsToFailOpen(t *testing.T) {
	app := &collectingAppender{}
	disp := outbox.NewDispatcher(app, decision.EvalAuth, outbox.Options{
		Enabled:       true,
		QueueCapacity: 8,
		PollInterval:  time.Millisecond,
		Backoff:       time.Millisecond,
	}, nil)
	defer disp.Shutdown()

	// A nil evaluator faults on the first dereference once lookup succeeds;
	// the panic boundary must convert that to a fail-open decision.
	svc := service.New(gate.New(8, true), loadedRegistry(t, highAmountArtifact()), nil, disp, slog.Default())

	tx := &transaction.Transaction{TransactionID: "txn-boom", Amount: 1500, CountryCode: "XX"}
	dec := svc.EvaluateAuth(context.Background(), tx, engine.Options{})

	if dec == nil {
		t.Fatal("panic must not escape EvaluateAuth")
	}
	if dec.Decision != decision.Approve || dec.EngineMode != decision.ModeFailOpen {
		t.Errorf("got %s/%s, want APPROVE/FAIL_OPEN", dec.Decision, dec.EngineMode)
	}
	if dec.ErrorCode != "INTERNAL_ERROR" {
		t.Errorf("ErrorCode = %q, want INTERNAL_ERROR", dec.ErrorCode)
	}
	// Permit must be released despite the panic.
	if svc.Gate().Available() != 8 {
		t.Errorf("Available = %d, want 8", svc.Gate().Available())
	}
	waitForEvents(t, app, 1)
}
