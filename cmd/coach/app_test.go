package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/freedive-ai/coach/pkg/config"
	"github.com/freedive-ai/coach/pkg/monitor"
	"github.com/freedive-ai/coach/pkg/resilience"
)

func TestStandaloneMonitorHidesServerLocalState(t *testing.T) {
	cfg := &config.Config{}
	cfg.Cache.Enabled = true
	cfg.Cache.Backend = "memory"
	cfg.Resilience.Store = "memory"

	a := &app{cfg: cfg, breakers: resilience.NewRegistry(resilience.NewMemoryStore(), 5, time.Minute)}
	m := a.standaloneMonitor()

	if _, _, err := m.CacheStats(); !errors.Is(err, monitor.ErrNotShared) {
		t.Errorf("memory cache: expected ErrNotShared, got %v", err)
	}
	if _, err := m.Circuits(context.Background()); !errors.Is(err, monitor.ErrNotShared) {
		t.Errorf("memory circuits: expected ErrNotShared, got %v", err)
	}
}

func TestStandaloneMonitorSharedStores(t *testing.T) {
	cfg := &config.Config{}
	cfg.Cache.Enabled = true
	cfg.Cache.Backend = "sqlite"
	cfg.Resilience.Store = "sqlite"

	a := &app{cfg: cfg}
	a.monitor = monitor.New(nil, nil, nil, nil)
	if a.standaloneMonitor() != a.monitor {
		t.Error("sqlite-backed state should use the server monitor as is")
	}
}
