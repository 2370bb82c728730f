// Package monitor aggregates usage, error and circuit data for the
// monitoring endpoints and tools.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/freedive-ai/coach/pkg/cache"
	"github.com/freedive-ai/coach/pkg/models"
	"github.com/freedive-ai/coach/pkg/resilience"
	"github.com/freedive-ai/coach/pkg/tracker"
)

// Health is the overall service status shown on the dashboard.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// DefaultWindow is the look-back used when no time range is given.
const DefaultWindow = 24 * time.Hour

const maxErrorRows = 500

// ErrNotShared is returned for state that lives only inside the serving
// process, such as a memory cache or in-memory circuits, when the Service
// runs in a different process.
var ErrNotShared = errors.New("state is held in memory by the running server")

// ErrorSource is the read side of the error log.
type ErrorSource interface {
	Query(ctx context.Context, opts models.ErrorQueryOpts) ([]models.ErrorLogEntry, error)
	Stats(ctx context.Context, since time.Time) ([]models.ErrorStat, error)
	Count(ctx context.Context, since time.Time, unresolvedOnly bool) (int, error)
}

// Dashboard is the combined monitoring snapshot.
type Dashboard struct {
	GeneratedAt time.Time             `json:"generatedAt"`
	WindowHours int                   `json:"windowHours"`
	Health      Health                `json:"health"`
	Usage       models.UsageTotals    `json:"usage"`
	Endpoints   []models.UsageSummary `json:"endpoints"`
	Errors      ErrorSummary          `json:"errors"`
	Circuits    []models.CircuitState `json:"circuits"`
	Cache       *models.CacheStats    `json:"cache,omitempty"`
	Notes       []string              `json:"notes,omitempty"`
}

// ErrorSummary counts errors within the dashboard window.
type ErrorSummary struct {
	Total      int                `json:"total"`
	Unresolved int                `json:"unresolved"`
	ByType     []models.ErrorStat `json:"byType"`
}

// UsageAnalytics is the usage breakdown for a time range.
type UsageAnalytics struct {
	TimeRangeHours int                   `json:"timeRangeHours"`
	Totals         models.UsageTotals    `json:"totals"`
	Hourly         []models.HourlyRollup `json:"hourly"`
	ByEndpoint     []models.UsageSummary `json:"byEndpoint"`
	Costs          []models.CostReport   `json:"costs"`
}

// ErrorTracking is the filtered error view for a time range.
type ErrorTracking struct {
	TimeRangeHours int                    `json:"timeRangeHours"`
	Severity       models.Severity        `json:"severity,omitempty"`
	Endpoint       string                 `json:"endpoint,omitempty"`
	Total          int                    `json:"total"`
	ByType         []models.ErrorStat     `json:"byType"`
	ByEndpoint     map[string]int         `json:"byEndpoint"`
	Recent         []models.ErrorLogEntry `json:"recent"`
}

// Service builds monitoring views from the underlying stores.
type Service struct {
	usage    tracker.Tracker
	errors   ErrorSource
	breakers *resilience.Registry
	cache    cache.Store
	now      func() time.Time

	cacheNotShared    bool
	circuitsNotShared bool
}

// Option configures a Service.
type Option func(*Service)

// CacheNotShared marks the cache as private to another process. CacheStats
// then reports ErrNotShared instead of an empty local cache.
func CacheNotShared() Option {
	return func(s *Service) { s.cacheNotShared = true }
}

// CircuitsNotShared marks circuit state as private to another process.
func CircuitsNotShared() Option {
	return func(s *Service) { s.circuitsNotShared = true }
}

// New creates a Service. The cache may be nil when caching is disabled.
func New(usage tracker.Tracker, errors ErrorSource, breakers *resilience.Registry, c cache.Store, opts ...Option) *Service {
	s := &Service{
		usage:    usage,
		errors:   errors,
		breakers: breakers,
		cache:    c,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dashboard returns the snapshot for the last window.
func (s *Service) Dashboard(ctx context.Context, window time.Duration) (*Dashboard, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	now := s.now()
	since := now.Add(-window)

	totals, err := s.usage.Totals(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("dashboard usage: %w", err)
	}
	endpoints, err := s.usage.Summary(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("dashboard endpoints: %w", err)
	}
	total, err := s.errors.Count(ctx, since, false)
	if err != nil {
		return nil, fmt.Errorf("dashboard errors: %w", err)
	}
	unresolved, err := s.errors.Count(ctx, since, true)
	if err != nil {
		return nil, fmt.Errorf("dashboard errors: %w", err)
	}
	byType, err := s.errors.Stats(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("dashboard errors: %w", err)
	}

	d := &Dashboard{
		GeneratedAt: now.UTC(),
		WindowHours: int(window / time.Hour),
		Usage:       totals,
		Endpoints:   endpoints,
		Errors:      ErrorSummary{Total: total, Unresolved: unresolved, ByType: byType},
	}
	circuits, err := s.Circuits(ctx)
	switch {
	case errors.Is(err, ErrNotShared):
		d.Notes = append(d.Notes, "Circuit states are held in memory by the running server and are not shown here.")
	case err != nil:
		return nil, fmt.Errorf("dashboard circuits: %w", err)
	default:
		d.Circuits = circuits
	}
	if s.cacheNotShared {
		d.Notes = append(d.Notes, "Cache statistics are held in memory by the running server and are not shown here.")
	} else if s.cache != nil {
		cs, err := s.cache.Stats()
		if err != nil {
			return nil, fmt.Errorf("dashboard cache: %w", err)
		}
		d.Cache = &cs
	}
	d.Health = assessHealth(totals, circuits)
	return d, nil
}

// UsageAnalytics returns usage for the last window.
func (s *Service) UsageAnalytics(ctx context.Context, window time.Duration) (*UsageAnalytics, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	since := s.now().Add(-window)

	totals, err := s.usage.Totals(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("usage totals: %w", err)
	}
	hourly, err := s.usage.Rollups(ctx, since, "")
	if err != nil {
		return nil, fmt.Errorf("usage rollups: %w", err)
	}
	byEndpoint, err := s.usage.Summary(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("usage summary: %w", err)
	}
	costs, err := s.usage.CostReport(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("usage costs: %w", err)
	}
	return &UsageAnalytics{
		TimeRangeHours: int(window / time.Hour),
		Totals:         totals,
		Hourly:         hourly,
		ByEndpoint:     byEndpoint,
		Costs:          costs,
	}, nil
}

// ErrorTracking returns errors for the last window, optionally filtered by
// severity and endpoint.
func (s *Service) ErrorTracking(ctx context.Context, window time.Duration, severity models.Severity, endpoint string) (*ErrorTracking, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	if severity != "" && !severity.Valid() {
		return nil, fmt.Errorf("unknown severity %q", severity)
	}
	entries, err := s.errors.Query(ctx, models.ErrorQueryOpts{
		Since:    s.now().Add(-window),
		Severity: severity,
		Endpoint: endpoint,
		Limit:    maxErrorRows,
	})
	if err != nil {
		return nil, fmt.Errorf("error tracking: %w", err)
	}

	et := &ErrorTracking{
		TimeRangeHours: int(window / time.Hour),
		Severity:       severity,
		Endpoint:       endpoint,
		Total:          len(entries),
		ByEndpoint:     map[string]int{},
		Recent:         entries,
	}
	if len(et.Recent) > 50 {
		et.Recent = et.Recent[:50]
	}

	type key struct {
		typ string
		sev models.Severity
	}
	counts := map[key]int{}
	for _, e := range entries {
		counts[key{e.ErrorType, e.Severity}]++
		et.ByEndpoint[e.Endpoint]++
	}
	for k, n := range counts {
		et.ByType = append(et.ByType, models.ErrorStat{ErrorType: k.typ, Severity: k.sev, Count: n})
	}
	sort.Slice(et.ByType, func(i, j int) bool {
		if et.ByType[i].Count != et.ByType[j].Count {
			return et.ByType[i].Count > et.ByType[j].Count
		}
		return et.ByType[i].ErrorType < et.ByType[j].ErrorType
	})
	return et, nil
}

// Circuits lists every known circuit.
func (s *Service) Circuits(ctx context.Context) ([]models.CircuitState, error) {
	if s.circuitsNotShared {
		return nil, ErrNotShared
	}
	return s.breakers.States(ctx)
}

// CacheStats returns cache counters, or false when caching is disabled.
func (s *Service) CacheStats() (models.CacheStats, bool, error) {
	if s.cacheNotShared {
		return models.CacheStats{}, true, ErrNotShared
	}
	if s.cache == nil {
		return models.CacheStats{}, false, nil
	}
	cs, err := s.cache.Stats()
	return cs, true, err
}

func assessHealth(totals models.UsageTotals, circuits []models.CircuitState) Health {
	health := HealthHealthy
	for _, c := range circuits {
		switch c.State {
		case models.BreakerOpen:
			return HealthUnhealthy
		case models.BreakerHalfOpen:
			health = HealthDegraded
		}
	}
	if totals.RequestCount > 0 && totals.SuccessRate < 0.95 {
		health = HealthDegraded
	}
	return health
}
