package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/freedive-ai/coach/pkg/models"
	"github.com/rs/zerolog/log"
)

// Default breaker thresholds.
const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 5 * time.Minute
)

// Registry holds a circuit breaker per endpoint.
// State lives in a Store. A half-open circuit carries a trial lease in
// NextAttemptTime so a trial held by another process is respected; the
// trials map records the ones held by this process.
type Registry struct {
	store     Store
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu     sync.Mutex
	trials map[string]bool
}

// NewRegistry creates a Registry over store. Zero values select the defaults.
func NewRegistry(store Store, threshold int, cooldown time.Duration) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	if threshold < 1 {
		threshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Registry{
		store:     store,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		trials:    make(map[string]bool),
	}
}

// IsOpen reports whether calls to endpoint are currently rejected.
// It does not change state.
func (r *Registry) IsOpen(ctx context.Context, endpoint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.load(ctx, endpoint)
	if !ok {
		return false
	}
	switch st.State {
	case models.BreakerOpen:
		return st.NextAttemptTime != nil && r.now().Before(*st.NextAttemptTime)
	case models.BreakerHalfOpen:
		return r.trials[endpoint] || (st.NextAttemptTime != nil && r.now().Before(*st.NextAttemptTime))
	}
	return false
}

// Allow reports whether a call to endpoint may proceed. An open circuit whose
// cooldown has elapsed moves to half-open and admits a single trial call.
func (r *Registry) Allow(ctx context.Context, endpoint string) bool {
	ok, _ := r.acquire(ctx, endpoint)
	return ok
}

// acquire is Allow that also reports whether the caller holds the half-open trial.
func (r *Registry) acquire(ctx context.Context, endpoint string) (allowed, trial bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.load(ctx, endpoint)
	if !ok {
		return true, false
	}

	switch st.State {
	case models.BreakerOpen, models.BreakerHalfOpen:
		if r.trials[endpoint] {
			return false, false
		}
		now := r.now()
		if st.NextAttemptTime != nil && now.Before(*st.NextAttemptTime) {
			return false, false
		}
		if !r.claim(ctx, st, now) {
			return false, false
		}
		if st.State == models.BreakerOpen {
			log.Info().Str("endpoint", endpoint).Msg("circuit half-open")
		}
		r.trials[endpoint] = true
		return true, true
	}
	return true, false
}

// claim takes the half-open trial for st. The trial lease lasts one cooldown.
func (r *Registry) claim(ctx context.Context, st models.CircuitState, now time.Time) bool {
	if shared, ok := r.store.(SharedStore); ok {
		won, err := shared.ClaimTrial(ctx, st.Endpoint, now, r.cooldown)
		if err != nil {
			log.Error().Err(err).Str("endpoint", st.Endpoint).Msg("claim circuit trial")
			return false
		}
		return won
	}
	lease := now.Add(r.cooldown)
	st.State = models.BreakerHalfOpen
	st.NextAttemptTime = &lease
	r.save(ctx, st)
	return true
}

// RecordSuccess closes the circuit for endpoint and resets its failure count.
func (r *Registry) RecordSuccess(ctx context.Context, endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.trials, endpoint)
	st, ok := r.load(ctx, endpoint)
	if !ok {
		return
	}
	if st.State == models.BreakerClosed && st.FailureCount == 0 {
		return
	}
	if st.State != models.BreakerClosed {
		log.Info().Str("endpoint", endpoint).Msg("circuit closed")
	}
	st.State = models.BreakerClosed
	st.FailureCount = 0
	st.NextAttemptTime = nil
	r.save(ctx, st)
}

// RecordFailure counts a failure for endpoint, creating its state on first use.
// The circuit opens once the threshold is reached or when a half-open trial fails.
func (r *Registry) RecordFailure(ctx context.Context, endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	trial := r.trials[endpoint]
	delete(r.trials, endpoint)
	now := r.now()

	if shared, ok := r.store.(SharedStore); ok {
		st, err := shared.AddFailure(ctx, endpoint, now, r.threshold, r.cooldown)
		if err != nil {
			log.Error().Err(err).Str("endpoint", endpoint).Msg("record circuit failure")
			return
		}
		if st.State == models.BreakerOpen && (trial || st.FailureCount == r.threshold) {
			logOpened(st)
		}
		return
	}

	st, ok := r.load(ctx, endpoint)
	if !ok {
		st = models.CircuitState{Endpoint: endpoint, State: models.BreakerClosed}
	}
	st.FailureCount++
	st.LastFailureTime = &now

	if st.State == models.BreakerHalfOpen || st.FailureCount >= r.threshold {
		next := now.Add(r.cooldown)
		opened := st.State != models.BreakerOpen
		st.State = models.BreakerOpen
		st.NextAttemptTime = &next
		if opened {
			logOpened(st)
		}
	}
	r.save(ctx, st)
}

func logOpened(st models.CircuitState) {
	ev := log.Warn().
		Str("endpoint", st.Endpoint).
		Int("failures", st.FailureCount)
	if st.NextAttemptTime != nil {
		ev = ev.Time("next_attempt", *st.NextAttemptTime)
	}
	ev.Msg("circuit opened")
}

// Reset forces endpoint back to closed.
func (r *Registry) Reset(ctx context.Context, endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.trials, endpoint)
	return r.store.Set(ctx, models.CircuitState{Endpoint: endpoint, State: models.BreakerClosed})
}

// States returns every known circuit.
func (r *Registry) States(ctx context.Context) ([]models.CircuitState, error) {
	return r.store.List(ctx)
}

// load reads state, treating store failures as a closed circuit.
func (r *Registry) load(ctx context.Context, endpoint string) (models.CircuitState, bool) {
	st, ok, err := r.store.Get(ctx, endpoint)
	if err != nil {
		log.Error().Err(err).Str("endpoint", endpoint).Msg("load circuit state")
		return models.CircuitState{}, false
	}
	return st, ok
}

func (r *Registry) save(ctx context.Context, st models.CircuitState) {
	if err := r.store.Set(ctx, st); err != nil {
		log.Error().Err(err).Str("endpoint", st.Endpoint).Msg("save circuit state")
	}
}

// release gives up a half-open trial without recording an outcome and
// expires its lease so the next caller can take the trial.
func (r *Registry) release(ctx context.Context, endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.trials[endpoint] {
		return
	}
	delete(r.trials, endpoint)
	st, ok := r.load(ctx, endpoint)
	if !ok || st.State != models.BreakerHalfOpen {
		return
	}
	st.NextAttemptTime = nil
	r.save(ctx, st)
}
