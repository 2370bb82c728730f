package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/freedive-ai/coach/pkg/cache/memory"
	"github.com/freedive-ai/coach/pkg/errorlog"
	"github.com/freedive-ai/coach/pkg/models"
	"github.com/freedive-ai/coach/pkg/resilience"
	"github.com/freedive-ai/coach/pkg/tracker"
)

const (
	chatEndpoint    = "/api/openai/chat"
	generalEndpoint = "/api/chat/general"
)

type fixture struct {
	svc      *Service
	usage    *tracker.SQLiteTracker
	errs     *errorlog.Logger
	breakers *resilience.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	usage, err := tracker.New(filepath.Join(dir, "usage.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { usage.Close() })

	errs, err := errorlog.New(filepath.Join(dir, "errors.db"), 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { errs.Close() })

	c, err := memory.New(10, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	breakers := resilience.NewRegistry(resilience.NewMemoryStore(), 2, time.Minute)
	return &fixture{
		svc:      New(usage, errs, breakers, c),
		usage:    usage,
		errs:     errs,
		breakers: breakers,
	}
}

func (f *fixture) record(t *testing.T, endpoint string, success bool, at time.Time) {
	t.Helper()
	rec := models.UsageRecord{
		Endpoint:       endpoint,
		ModelUsed:      "gpt-4o-mini",
		TokensUsed:     100,
		ResponseTimeMs: 200,
		CostEstimate:   0.001,
		Success:        success,
		CreatedAt:      at,
	}
	if !success {
		rec.ErrorType = "timeout"
	}
	if err := f.usage.Record(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) logError(t *testing.T, endpoint, typ string, sev models.Severity, at time.Time) {
	t.Helper()
	err := f.errs.Log(context.Background(), models.ErrorLogEntry{
		Endpoint: endpoint, ErrorType: typ, ErrorMessage: typ, Severity: sev, CreatedAt: at,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDashboardHealthy(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	for i := 0; i < 20; i++ {
		f.record(t, chatEndpoint, true, now.Add(-time.Minute))
	}
	f.record(t, chatEndpoint, true, now.Add(-48*time.Hour))

	d, err := f.svc.Dashboard(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if d.WindowHours != 24 {
		t.Errorf("expected default 24h window, got %d", d.WindowHours)
	}
	if d.Usage.RequestCount != 20 {
		t.Errorf("records outside the window should be excluded, got %d", d.Usage.RequestCount)
	}
	if d.Health != HealthHealthy {
		t.Errorf("expected healthy, got %s", d.Health)
	}
	if d.Cache == nil {
		t.Error("cache stats should be included")
	}
}

func TestDashboardDegradedAndUnhealthy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	f.record(t, chatEndpoint, true, now)
	f.record(t, chatEndpoint, false, now)
	f.logError(t, chatEndpoint, "timeout", models.SeverityMedium, now)

	d, err := f.svc.Dashboard(ctx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if d.Health != HealthDegraded {
		t.Errorf("50%% success should be degraded, got %s", d.Health)
	}
	if d.Errors.Total != 1 || d.Errors.Unresolved != 1 {
		t.Errorf("unexpected error summary: %+v", d.Errors)
	}

	f.breakers.RecordFailure(ctx, chatEndpoint)
	f.breakers.RecordFailure(ctx, chatEndpoint)
	d, err = f.svc.Dashboard(ctx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if d.Health != HealthUnhealthy {
		t.Errorf("open circuit should be unhealthy, got %s", d.Health)
	}
	if len(d.Circuits) != 1 || d.Circuits[0].State != models.BreakerOpen {
		t.Errorf("unexpected circuits: %+v", d.Circuits)
	}
}

func TestUsageAnalytics(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.record(t, chatEndpoint, true, now)
	f.record(t, generalEndpoint, true, now)
	f.record(t, generalEndpoint, false, now)
	f.record(t, generalEndpoint, true, now.Add(-10*time.Hour))

	ua, err := f.svc.UsageAnalytics(context.Background(), 6*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if ua.TimeRangeHours != 6 {
		t.Errorf("expected 6h, got %d", ua.TimeRangeHours)
	}
	if ua.Totals.RequestCount != 3 {
		t.Errorf("expected 3 requests, got %d", ua.Totals.RequestCount)
	}
	if len(ua.ByEndpoint) != 2 {
		t.Errorf("expected 2 endpoint rows, got %d", len(ua.ByEndpoint))
	}
	var hourlyRequests int
	for _, r := range ua.Hourly {
		hourlyRequests += r.RequestCount
	}
	if hourlyRequests != 3 {
		t.Errorf("expected rollups to sum to 3, got %d", hourlyRequests)
	}
}

func TestErrorTrackingFilters(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.logError(t, chatEndpoint, "rate_limit", models.SeverityMedium, now)
	f.logError(t, chatEndpoint, "rate_limit", models.SeverityMedium, now)
	f.logError(t, chatEndpoint, "auth_failure", models.SeverityCritical, now)
	f.logError(t, generalEndpoint, "timeout", models.SeverityMedium, now)
	f.logError(t, chatEndpoint, "timeout", models.SeverityMedium, now.Add(-30*time.Hour))

	ctx := context.Background()
	all, err := f.svc.ErrorTracking(ctx, 24*time.Hour, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if all.Total != 4 {
		t.Errorf("expected 4 errors in window, got %d", all.Total)
	}
	if all.ByType[0].ErrorType != "rate_limit" || all.ByType[0].Count != 2 {
		t.Errorf("expected rate_limit first, got %+v", all.ByType)
	}
	if all.ByEndpoint[generalEndpoint] != 1 {
		t.Errorf("unexpected endpoint counts: %v", all.ByEndpoint)
	}

	filtered, err := f.svc.ErrorTracking(ctx, 24*time.Hour, models.SeverityMedium, chatEndpoint)
	if err != nil {
		t.Fatal(err)
	}
	if filtered.Total != 2 {
		t.Errorf("expected 2 medium chat errors, got %d", filtered.Total)
	}

	if _, err := f.svc.ErrorTracking(ctx, time.Hour, "urgent", ""); err == nil {
		t.Error("expected error for unknown severity")
	}
}

func TestServerLocalStateNotShared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.breakers.RecordFailure(ctx, chatEndpoint)
	f.breakers.RecordFailure(ctx, chatEndpoint)

	svc := New(f.usage, f.errs, f.breakers, nil, CacheNotShared(), CircuitsNotShared())

	if _, ok, err := svc.CacheStats(); !ok || !errors.Is(err, ErrNotShared) {
		t.Errorf("expected ErrNotShared for cache, got ok=%v err=%v", ok, err)
	}
	if _, err := svc.Circuits(ctx); !errors.Is(err, ErrNotShared) {
		t.Errorf("expected ErrNotShared for circuits, got %v", err)
	}

	d, err := svc.Dashboard(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if d.Cache != nil || len(d.Circuits) != 0 {
		t.Errorf("process-local state leaked into dashboard: %+v", d)
	}
	if len(d.Notes) != 2 {
		t.Errorf("expected two notes, got %v", d.Notes)
	}
	// The open circuit is invisible here, so health falls back to usage.
	if d.Health != HealthHealthy {
		t.Errorf("expected healthy, got %s", d.Health)
	}
}
