package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nkulkarni/authgate/internal/api"
	"github.com/nkulkarni/authgate/internal/config"
	"github.com/nkulkarni/authgate/internal/decision"
	"github.com/nkulkarni/authgate/internal/engine"
	"github.com/nkulkarni/authgate/internal/gate"
	"github.com/nkulkarni/authgate/internal/outbox"
	"github.com/nkulkarni/authgate/internal/registry"
	"github.com/nkulkarni/authgate/internal/service"
	"github.com/nkulkarni/authgate/internal/velocity"
)

func main() {
	cfgPath := flag.String("config", "configs/authgate.yaml", "Path to YAML config")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}

	// ── Velocity store + outbox backend ──────────────────────────────────────
	var store velocity.Store
	var appender outbox.Appender
	if cfg.Velocity.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Velocity.RedisAddr})
		store = velocity.NewRedisStore(rdb, cfg.Velocity.Prefix)
		appender = outbox.NewRedisAppender(rdb, cfg.Velocity.Prefix+":decisions", 0)
		slog.Info("using redis counter store", "addr", cfg.Velocity.RedisAddr)
	} else {
		store = velocity.NewMemoryStore()
		appender = logAppender{}
		slog.Warn("no redis configured, using in-process counter store")
	}

	// ── Registry + preload ───────────────────────────────────────────────────
	reg := registry.New(registry.NewFSLoader(cfg.Registry.ArtifactDir), cfg.Registry.AllowRollback, logger)
	if n := reg.BulkLoad(toSpecs(cfg.Registry.Preload)); n != len(cfg.Registry.Preload) {
		slog.Warn("some rulesets failed to preload", "loaded", n, "requested", len(cfg.Registry.Preload))
	}
	slog.Info("registry ready", "rulesets", reg.Size(), "countries", len(reg.Countries()))

	// ── Pipeline ─────────────────────────────────────────────────────────────
	vel := velocity.NewEvaluator(store, cfg.Velocity.FailOpen, logger)
	eval := engine.New(vel, decision.EvalAuth, engine.DebugConfig{
		MaxConditionEvaluations: cfg.Debug.MaxConditionEvaluations,
		IncludeFieldValues:      cfg.Debug.IncludeFieldValues,
	}, logger)
	g := gate.New(cfg.Gate.MaxConcurrent, cfg.Gate.Enabled)
	disp := outbox.NewDispatcher(appender, decision.EvalAuth, outbox.Options{
		Enabled:       cfg.Outbox.Enabled,
		QueueCapacity: cfg.Outbox.QueueCapacity,
		PollInterval:  time.Duration(cfg.Outbox.PollIntervalMs) * time.Millisecond,
		Backoff:       time.Duration(cfg.Outbox.BackoffMs) * time.Millisecond,
		DrainBurst:    cfg.Outbox.DrainBurst,
	}, logger)
	svc := service.New(g, reg, eval, disp, logger)

	// ── Config hot-reload (debug trace bounds only) ──────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		if err := config.Validate(newCfg); err != nil {
			slog.Warn("hot-reload skipped: config invalid", "err", err)
			return
		}
		eval.SetDebugConfig(engine.DebugConfig{
			MaxConditionEvaluations: newCfg.Debug.MaxConditionEvaluations,
			IncludeFieldValues:      newCfg.Debug.IncludeFieldValues,
		})
		slog.Info("debug trace config reloaded")
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	handler := api.New(svc, reg, cfg.Server.AdminRateRPS, cfg.Server.AdminRateBurst)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutS) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutS) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutS) * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	disp.Shutdown()
	slog.Info("goodbye")
}

func toSpecs(preload []config.RulesetSpec) []registry.Spec {
	specs := make([]registry.Spec, len(preload))
	for i, p := range preload {
		specs[i] = registry.Spec{Key: p.Key, Version: p.Version, Country: p.Country}
	}
	return specs
}

// logAppender is the no-redis fallback durability backend: decisions are
// logged, not persisted. Development only.
type logAppender struct{}

func (logAppender) Append(ev *outbox.Event) error {
	slog.Debug("decision event",
		"decision_id", ev.Decision.DecisionID,
		"transaction_id", ev.Decision.TransactionID,
		"decision", ev.Decision.Decision)
	return nil
}
