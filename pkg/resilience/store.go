package resilience

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/freedive-ai/coach/pkg/models"
)

// Store persists circuit state per endpoint.
type Store interface {
	Get(ctx context.Context, endpoint string) (models.CircuitState, bool, error)
	Set(ctx context.Context, state models.CircuitState) error
	List(ctx context.Context) ([]models.CircuitState, error)
}

// SharedStore is a Store used by several processes at once. Its methods
// change a circuit in a single statement so concurrent writers cannot lose
// failure counts or both win a half-open trial.
type SharedStore interface {
	Store
	// AddFailure increments the failure count of endpoint, creating its row
	// on first use. The circuit opens with nextAttemptTime now+cooldown once
	// the count reaches threshold or when a half-open trial fails.
	AddFailure(ctx context.Context, endpoint string, now time.Time, threshold int, cooldown time.Duration) (models.CircuitState, error)
	// ClaimTrial moves an open circuit whose cooldown has elapsed, or a
	// half-open circuit whose trial lease has expired, to half-open with a
	// lease ending at now+lease. It reports whether the caller got the trial.
	ClaimTrial(ctx context.Context, endpoint string, now time.Time, lease time.Duration) (bool, error)
}

// MemoryStore keeps circuit state in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]models.CircuitState
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]models.CircuitState)}
}

// Get returns the state for endpoint and whether it exists.
func (m *MemoryStore) Get(_ context.Context, endpoint string) (models.CircuitState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[endpoint]
	return st, ok, nil
}

// Set stores state, replacing any previous value for its endpoint.
func (m *MemoryStore) Set(_ context.Context, state models.CircuitState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.Endpoint] = state
	return nil
}

// List returns all states ordered by endpoint.
func (m *MemoryStore) List(_ context.Context) ([]models.CircuitState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.CircuitState, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, nil
}
