package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/freedive-ai/coach/pkg/budget"
	"github.com/freedive-ai/coach/pkg/cache"
	"github.com/freedive-ai/coach/pkg/cache/memory"
	cachesqlite "github.com/freedive-ai/coach/pkg/cache/sqlite"
	"github.com/freedive-ai/coach/pkg/config"
	"github.com/freedive-ai/coach/pkg/divelogs"
	"github.com/freedive-ai/coach/pkg/errorlog"
	"github.com/freedive-ai/coach/pkg/llm"
	"github.com/freedive-ai/coach/pkg/monitor"
	"github.com/freedive-ai/coach/pkg/resilience"
	resiliencesqlite "github.com/freedive-ai/coach/pkg/resilience/sqlite"
	"github.com/freedive-ai/coach/pkg/retrieval"
	"github.com/freedive-ai/coach/pkg/router"
	"github.com/freedive-ai/coach/pkg/server"
	"github.com/freedive-ai/coach/pkg/telemetry"
	"github.com/freedive-ai/coach/pkg/tracker"
)

// app holds every long-lived component built from the config.
type app struct {
	cfg       *config.Config
	usage     *tracker.SQLiteTracker
	errors    *errorlog.Logger
	breakers  *resilience.Registry
	executor  *resilience.Executor
	cache     cache.Store
	budget    *budget.Enforcer
	diveLogs  divelogs.Store
	knowledge retrieval.Retriever
	monitor   *monitor.Service
	openai    *llm.OpenAI

	closers []func() error
}

// openApp wires the stores and services. Call close when done.
func openApp(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.open(ctx, metrics); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context, metrics *telemetry.Metrics) error {
	cfg := a.cfg

	usage, err := tracker.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init tracker: %w", err)
	}
	a.usage = usage
	a.closers = append(a.closers, usage.Close)

	errs, err := errorlog.New(cfg.DBPath, cfg.ErrorLog.RetentionDays)
	if err != nil {
		return fmt.Errorf("init error log: %w", err)
	}
	a.errors = errs
	a.closers = append(a.closers, errs.Close)

	var store resilience.Store = resilience.NewMemoryStore()
	if cfg.Resilience.Store == "sqlite" {
		s, err := resiliencesqlite.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("init circuit store: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		store = s
	}
	a.breakers = resilience.NewRegistry(store, cfg.Resilience.FailureThreshold, cfg.Resilience.Cooldown)
	a.executor = resilience.NewExecutor(resilience.RetryConfig{
		MaxRetries:     cfg.Resilience.MaxRetries,
		BaseDelay:      cfg.Resilience.BaseDelay,
		MaxDelay:       cfg.Resilience.MaxDelay,
		Jitter:         cfg.Resilience.Jitter,
		AttemptTimeout: cfg.Resilience.AttemptTimeout,
	}, a.breakers, errs, metrics)

	if cfg.Cache.Enabled {
		c, err := openCache(cfg)
		if err != nil {
			return err
		}
		a.cache = c
		a.closers = append(a.closers, c.Close)
	}

	if cfg.Budget.Enabled {
		a.budget = budget.New(cfg.Budget.Policies, usage)
	}

	switch cfg.DiveLogs.Backend {
	case "postgres":
		pg, err := divelogs.NewPostgres(ctx, cfg.DiveLogs.PostgresURL)
		if err != nil {
			return fmt.Errorf("init dive logs: %w", err)
		}
		a.diveLogs = pg
	default:
		s, err := divelogs.NewSQLite(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("init dive logs: %w", err)
		}
		a.diveLogs = s
	}
	a.closers = append(a.closers, a.diveLogs.Close)

	a.openai = llm.NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.Retrieval.EmbeddingModel)

	if cfg.Retrieval.Enabled {
		q, err := retrieval.NewQdrant(cfg.Retrieval.QdrantAddr, cfg.Retrieval.Collection)
		if err != nil {
			return fmt.Errorf("init retrieval: %w", err)
		}
		a.closers = append(a.closers, q.Close)
		a.knowledge = retrieval.NewKnowledgeBase(a.openai, q, cfg.Retrieval.TopK, cfg.Retrieval.ScoreThreshold)
	}

	a.monitor = monitor.New(usage, errs, a.breakers, a.cache)
	return nil
}

// standaloneMonitor returns a monitor for commands that run outside the
// server process. Memory-backed caches and circuits belong to the server,
// so they are reported as not shared rather than as a fresh empty copy.
func (a *app) standaloneMonitor() *monitor.Service {
	var opts []monitor.Option
	c := a.cache
	if a.cfg.Cache.Enabled && a.cfg.Cache.Backend != "sqlite" {
		opts = append(opts, monitor.CacheNotShared())
		c = nil
	}
	if a.cfg.Resilience.Store != "sqlite" {
		opts = append(opts, monitor.CircuitsNotShared())
	}
	if len(opts) == 0 {
		return a.monitor
	}
	return monitor.New(a.usage, a.errors, a.breakers, c, opts...)
}

func openCache(cfg *config.Config) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "sqlite":
		c, err := cachesqlite.New(cfg.DBPath, cfg.Cache.TTL, cfg.Cache.MaxEntries)
		if err != nil {
			return nil, fmt.Errorf("init cache: %w", err)
		}
		return c, nil
	default:
		c, err := memory.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)
		if err != nil {
			return nil, fmt.Errorf("init cache: %w", err)
		}
		return c, nil
	}
}

func (a *app) server(metrics *telemetry.Metrics) *server.Server {
	return server.New(server.Deps{
		Config:    a.cfg,
		Executor:  a.executor,
		Chat:      a.openai,
		Router:    router.New(a.cfg),
		Usage:     a.usage,
		Monitor:   a.monitor,
		Cache:     a.cache,
		Budget:    a.budget,
		DiveLogs:  a.diveLogs,
		Knowledge: a.knowledge,
		Metrics:   metrics,
	})
}

func (a *app) close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("close resources")
	}
}
