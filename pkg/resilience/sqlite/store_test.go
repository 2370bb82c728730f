package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/freedive-ai/coach/pkg/models"
	"github.com/freedive-ai/coach/pkg/resilience"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return openTestStore(t, filepath.Join(t.TempDir(), "circuits_test.db"))
}

func openTestStore(t *testing.T, dbPath string) *Store {
	t.Helper()
	s, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get(context.Background(), "/api/openai/chat")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected no row for unknown endpoint")
	}
}

func TestSetAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	failed := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	next := failed.Add(5 * time.Minute)
	want := models.CircuitState{
		Endpoint:        "/api/openai/chat",
		FailureCount:    5,
		LastFailureTime: &failed,
		State:           models.BreakerOpen,
		NextAttemptTime: &next,
	}
	if err := s.Set(ctx, want); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Get(ctx, want.Endpoint)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected row")
	}
	if got.State != models.BreakerOpen || got.FailureCount != 5 {
		t.Errorf("unexpected state: %+v", got)
	}
	if got.NextAttemptTime == nil || !got.NextAttemptTime.Equal(next) {
		t.Errorf("next attempt time: got %v, want %v", got.NextAttemptTime, next)
	}

	// Overwrite closes the circuit and clears the next attempt time.
	want.State = models.BreakerClosed
	want.FailureCount = 0
	want.NextAttemptTime = nil
	if err := s.Set(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, _, _ = s.Get(ctx, want.Endpoint)
	if got.State != models.BreakerClosed || got.NextAttemptTime != nil {
		t.Errorf("expected closed circuit, got %+v", got)
	}
}

func TestList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, ep := range []string{"qdrant", "/api/openai/chat", "/api/chat/general"} {
		if err := s.Set(ctx, models.CircuitState{Endpoint: ep, State: models.BreakerClosed}); err != nil {
			t.Fatal(err)
		}
	}
	states, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 3 {
		t.Fatalf("expected 3 states, got %d", len(states))
	}
	if states[0].Endpoint != "/api/chat/general" {
		t.Errorf("expected ordered endpoints, got %s first", states[0].Endpoint)
	}
}

func TestSharedAcrossRegistries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := resilience.NewRegistry(s, 2, time.Minute)
	b := resilience.NewRegistry(s, 2, time.Minute)

	a.RecordFailure(ctx, "/api/openai/chat")
	a.RecordFailure(ctx, "/api/openai/chat")

	if !b.IsOpen(ctx, "/api/openai/chat") {
		t.Error("second registry should observe the open circuit through the store")
	}
}

func TestAddFailureOpensAtThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

	for i := 1; i <= 2; i++ {
		st, err := s.AddFailure(ctx, "/api/openai/chat", now, 3, 5*time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if st.FailureCount != i || st.State != models.BreakerClosed || st.NextAttemptTime != nil {
			t.Fatalf("failure %d: unexpected state %+v", i, st)
		}
	}

	st, err := s.AddFailure(ctx, "/api/openai/chat", now, 3, 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != models.BreakerOpen || st.FailureCount != 3 {
		t.Fatalf("expected open circuit after 3 failures, got %+v", st)
	}

	got, _, _ := s.Get(ctx, "/api/openai/chat")
	if got.State != models.BreakerOpen || got.NextAttemptTime == nil || !got.NextAttemptTime.Equal(now.Add(5*time.Minute)) {
		t.Errorf("stored state mismatch: %+v", got)
	}
}

func TestClaimTrialLease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	const ep = "/api/openai/chat"

	if _, err := s.AddFailure(ctx, ep, t0, 1, 5*time.Minute); err != nil {
		t.Fatal(err)
	}

	claims := []struct {
		at   time.Time
		want bool
	}{
		{t0.Add(4 * time.Minute), false},  // cooling down
		{t0.Add(5 * time.Minute), true},   // cooldown elapsed
		{t0.Add(6 * time.Minute), false},  // trial lease held
		{t0.Add(10 * time.Minute), true},  // lease expired
		{t0.Add(10 * time.Minute), false}, // taken again
	}
	for i, c := range claims {
		got, err := s.ClaimTrial(ctx, ep, c.at, 5*time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Errorf("claim %d at %s: got %v, want %v", i, c.at.Format(time.Kitchen), got, c.want)
		}
	}

	st, _, _ := s.Get(ctx, ep)
	if st.State != models.BreakerHalfOpen {
		t.Fatalf("expected half-open, got %s", st.State)
	}

	// A failed trial reopens the circuit with a fresh cooldown.
	failedAt := t0.Add(11 * time.Minute)
	st, err := s.AddFailure(ctx, ep, failedAt, 5, 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != models.BreakerOpen || !st.NextAttemptTime.Equal(failedAt.Add(5*time.Minute)) {
		t.Errorf("failed trial should reopen, got %+v", st)
	}
}

func TestClaimTrialClosedCircuit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Set(ctx, models.CircuitState{Endpoint: "qdrant", State: models.BreakerClosed}); err != nil {
		t.Fatal(err)
	}
	ok, err := s.ClaimTrial(ctx, "qdrant", time.Now(), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("closed circuit has no trial to claim")
	}
}

func TestRecordFailureWaitsForWriteLock(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "shared.db")
	s := openTestStore(t, dbPath)
	ctx := context.Background()

	// Another writer on the same file, such as the usage tracker.
	other, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()
	conn, err := other.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		t.Fatal(err)
	}

	reg := resilience.NewRegistry(s, 5, time.Minute)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			reg.RecordFailure(ctx, "/api/openai/chat")
		}
	}()

	time.Sleep(100 * time.Millisecond)
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("failures were not recorded after the lock was released")
	}
	if !reg.IsOpen(ctx, "/api/openai/chat") {
		t.Error("circuit should open after 5 failures recorded behind a write lock")
	}
}

func TestConcurrentFailuresAcrossRegistries(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "shared.db")
	ctx := context.Background()

	const perRegistry = 25
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		// Separate stores model separate processes.
		reg := resilience.NewRegistry(openTestStore(t, dbPath), 1000, time.Minute)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perRegistry; j++ {
				reg.RecordFailure(ctx, "/api/openai/chat")
			}
		}()
	}
	wg.Wait()

	st, ok, err := openTestStore(t, dbPath).Get(ctx, "/api/openai/chat")
	if err != nil || !ok {
		t.Fatalf("expected state row, ok=%v err=%v", ok, err)
	}
	if st.FailureCount != 2*perRegistry {
		t.Errorf("lost failure increments: got %d, want %d", st.FailureCount, 2*perRegistry)
	}
}

func TestHalfOpenTrialAcrossRegistries(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "shared.db")
	ctx := context.Background()
	a := resilience.NewRegistry(openTestStore(t, dbPath), 1, 200*time.Millisecond)
	b := resilience.NewRegistry(openTestStore(t, dbPath), 1, 200*time.Millisecond)

	a.RecordFailure(ctx, "/api/openai/chat")
	time.Sleep(250 * time.Millisecond)

	if !a.Allow(ctx, "/api/openai/chat") {
		t.Fatal("first registry should get the trial")
	}
	if b.Allow(ctx, "/api/openai/chat") {
		t.Error("second registry must not get a trial while one is in flight")
	}
	if !b.IsOpen(ctx, "/api/openai/chat") {
		t.Error("second registry should report the circuit open during the trial")
	}

	a.RecordSuccess(ctx, "/api/openai/chat")
	if !b.Allow(ctx, "/api/openai/chat") {
		t.Error("closed circuit should admit calls from every registry")
	}
}
