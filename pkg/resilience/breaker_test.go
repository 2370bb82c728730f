package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/freedive-ai/coach/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(t *testing.T) (*Registry, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	r := NewRegistry(NewMemoryStore(), 5, 5*time.Minute)
	r.now = clock.Now
	return r, clock
}

const chatEndpoint = "/api/openai/chat"

func TestRegistryLazyCreation(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if r.IsOpen(ctx, chatEndpoint) {
		t.Error("unknown endpoint should not be open")
	}
	r.RecordSuccess(ctx, chatEndpoint)
	states, _ := r.States(ctx)
	if len(states) != 0 {
		t.Errorf("success on unknown endpoint should not create state, got %d", len(states))
	}

	r.RecordFailure(ctx, chatEndpoint)
	states, _ = r.States(ctx)
	if len(states) != 1 || states[0].FailureCount != 1 || states[0].State != models.BreakerClosed {
		t.Errorf("expected one closed state with 1 failure, got %+v", states)
	}
}

func TestRegistryOpensAtThreshold(t *testing.T) {
	r, clock := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		r.RecordFailure(ctx, chatEndpoint)
	}
	if r.IsOpen(ctx, chatEndpoint) {
		t.Fatal("circuit should stay closed below threshold")
	}

	r.RecordFailure(ctx, chatEndpoint)
	if !r.IsOpen(ctx, chatEndpoint) {
		t.Fatal("circuit should open at threshold")
	}
	if r.Allow(ctx, chatEndpoint) {
		t.Error("open circuit should reject calls")
	}

	states, _ := r.States(ctx)
	st := states[0]
	if st.NextAttemptTime == nil || !st.NextAttemptTime.Equal(clock.Now().Add(5*time.Minute)) {
		t.Errorf("next attempt should be now+cooldown, got %v", st.NextAttemptTime)
	}

	clock.Advance(5*time.Minute - time.Second)
	if !r.IsOpen(ctx, chatEndpoint) {
		t.Error("circuit should remain open until next attempt time")
	}
}

func TestRegistryHalfOpenSingleTrial(t *testing.T) {
	r, clock := newTestRegistry(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		r.RecordFailure(ctx, chatEndpoint)
	}

	clock.Advance(5 * time.Minute)
	if r.IsOpen(ctx, chatEndpoint) {
		t.Error("cooldown elapsed: IsOpen should report false before the trial starts")
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Allow(ctx, chatEndpoint) {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Fatalf("expected exactly 1 trial admitted, got %d", admitted)
	}
	if !r.IsOpen(ctx, chatEndpoint) {
		t.Error("half-open with a trial in flight should report open")
	}

	states, _ := r.States(ctx)
	if states[0].State != models.BreakerHalfOpen {
		t.Errorf("expected half-open, got %s", states[0].State)
	}
	if states[0].FailureCount != 5 {
		t.Errorf("half-open should keep failure count, got %d", states[0].FailureCount)
	}
}

func TestRegistryHalfOpenFailureReopens(t *testing.T) {
	r, clock := newTestRegistry(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		r.RecordFailure(ctx, chatEndpoint)
	}
	clock.Advance(5 * time.Minute)

	if !r.Allow(ctx, chatEndpoint) {
		t.Fatal("trial should be admitted")
	}
	r.RecordFailure(ctx, chatEndpoint)

	if !r.IsOpen(ctx, chatEndpoint) {
		t.Fatal("failed trial should reopen the circuit")
	}
	states, _ := r.States(ctx)
	if !states[0].NextAttemptTime.Equal(clock.Now().Add(5 * time.Minute)) {
		t.Errorf("reopen should set a fresh cooldown, got %v", states[0].NextAttemptTime)
	}
}

func TestRegistrySuccessResets(t *testing.T) {
	r, clock := newTestRegistry(t)
	ctx := context.Background()

	r.RecordFailure(ctx, chatEndpoint)
	r.RecordFailure(ctx, chatEndpoint)
	r.RecordSuccess(ctx, chatEndpoint)
	states, _ := r.States(ctx)
	if states[0].FailureCount != 0 {
		t.Errorf("success should reset failure count, got %d", states[0].FailureCount)
	}

	for i := 0; i < 5; i++ {
		r.RecordFailure(ctx, chatEndpoint)
	}
	clock.Advance(5 * time.Minute)
	if !r.Allow(ctx, chatEndpoint) {
		t.Fatal("trial should be admitted")
	}
	r.RecordSuccess(ctx, chatEndpoint)

	states, _ = r.States(ctx)
	if states[0].State != models.BreakerClosed || states[0].FailureCount != 0 || states[0].NextAttemptTime != nil {
		t.Errorf("successful trial should close the circuit, got %+v", states[0])
	}
	if !r.Allow(ctx, chatEndpoint) || !r.Allow(ctx, chatEndpoint) {
		t.Error("closed circuit should admit every call")
	}
}

func TestRegistryEndpointsIndependent(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		r.RecordFailure(ctx, chatEndpoint)
	}
	if r.IsOpen(ctx, "/api/chat/general") {
		t.Error("failures on one endpoint must not open another")
	}
}

func TestRegistryReset(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		r.RecordFailure(ctx, chatEndpoint)
	}
	if err := r.Reset(ctx, chatEndpoint); err != nil {
		t.Fatal(err)
	}
	if r.IsOpen(ctx, chatEndpoint) {
		t.Error("reset circuit should be closed")
	}
}

func TestRegistryReleaseFreesTrial(t *testing.T) {
	r, clock := newTestRegistry(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		r.RecordFailure(ctx, chatEndpoint)
	}
	clock.Advance(5 * time.Minute)

	if !r.Allow(ctx, chatEndpoint) {
		t.Fatal("trial should be admitted")
	}
	if r.Allow(ctx, chatEndpoint) {
		t.Fatal("second caller should wait for the trial")
	}

	r.release(ctx, chatEndpoint)
	if r.IsOpen(ctx, chatEndpoint) {
		t.Error("released trial should leave the circuit ready for a new trial")
	}
	if !r.Allow(ctx, chatEndpoint) {
		t.Error("next caller should take the released trial")
	}
	states, _ := r.States(ctx)
	if states[0].State != models.BreakerHalfOpen || states[0].FailureCount != 5 {
		t.Errorf("release should not record an outcome, got %+v", states[0])
	}
}
