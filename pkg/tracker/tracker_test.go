package tracker

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/freedive-ai/coach/pkg/models"
)

func newTestTracker(t *testing.T) *SQLiteTracker {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	tr, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestRecordAndQuery(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := models.UsageRecord{
		UserID:           "diver-1",
		Endpoint:         "/api/openai/chat",
		ModelUsed:        "gpt-4o-mini",
		PromptTokens:     100,
		CompletionTokens: 50,
		TokensUsed:       150,
		ResponseTimeMs:   820,
		CostEstimate:     0.0003,
		Success:          true,
		Metadata:         map[string]any{"experienceLevel": "beginner"},
		CreatedAt:        now,
	}
	if err := tr.Record(ctx, rec); err != nil {
		t.Fatal(err)
	}

	records, err := tr.Query(ctx, QueryOpts{Since: now.Add(-time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	got := records[0]
	if got.TokensUsed != 150 || !got.Success || got.UserID != "diver-1" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.Metadata["experienceLevel"] != "beginner" {
		t.Errorf("metadata not round-tripped: %v", got.Metadata)
	}
}

func TestQueryFilters(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = tr.Record(ctx, models.UsageRecord{UserID: "a", Endpoint: "/api/openai/chat", Success: true, CreatedAt: now})
	_ = tr.Record(ctx, models.UsageRecord{UserID: "b", Endpoint: "/api/chat/general", Success: true, CreatedAt: now})
	_ = tr.Record(ctx, models.UsageRecord{UserID: "a", Endpoint: "/api/chat/general", Success: false, ErrorType: "timeout", CreatedAt: now.Add(-48 * time.Hour)})

	recs, _ := tr.Query(ctx, QueryOpts{Since: now.Add(-time.Hour), Endpoint: "/api/chat/general"})
	if len(recs) != 1 || recs[0].UserID != "b" {
		t.Errorf("endpoint filter: got %+v", recs)
	}
	recs, _ = tr.Query(ctx, QueryOpts{Since: now.Add(-72 * time.Hour), UserID: "a"})
	if len(recs) != 2 {
		t.Errorf("user filter: expected 2, got %d", len(recs))
	}
	recs, _ = tr.Query(ctx, QueryOpts{Since: now.Add(-72 * time.Hour), Limit: 1})
	if len(recs) != 1 {
		t.Errorf("limit: expected 1, got %d", len(recs))
	}
}

func TestTotals(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, ok := range []bool{true, true, false, true} {
		_ = tr.Record(ctx, models.UsageRecord{
			Endpoint: "/api/openai/chat", TokensUsed: 100, ResponseTimeMs: int64(100 * (i + 1)),
			CostEstimate: 0.01, Success: ok, CreatedAt: now,
		})
	}

	tot, err := tr.Totals(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if tot.RequestCount != 4 || tot.SuccessCount != 3 {
		t.Errorf("unexpected counts: %+v", tot)
	}
	if !approx(tot.SuccessRate, 0.75) {
		t.Errorf("expected 0.75 success rate, got %v", tot.SuccessRate)
	}
	if !approx(tot.AvgResponseMs, 250) {
		t.Errorf("expected 250ms avg, got %v", tot.AvgResponseMs)
	}
	if tot.TotalTokens != 400 || !approx(tot.TotalCost, 0.04) {
		t.Errorf("unexpected sums: %+v", tot)
	}
}

func TestTotalsEmpty(t *testing.T) {
	tr := newTestTracker(t)
	tot, err := tr.Totals(context.Background(), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if tot.RequestCount != 0 || tot.SuccessRate != 0 {
		t.Errorf("expected zero totals, got %+v", tot)
	}
}

func TestRollupsAggregatePerHour(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	hour := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

	_ = tr.Record(ctx, models.UsageRecord{Endpoint: "/api/openai/chat", ResponseTimeMs: 100, TokensUsed: 10, CostEstimate: 0.5, Success: true, CreatedAt: hour.Add(5 * time.Minute)})
	_ = tr.Record(ctx, models.UsageRecord{Endpoint: "/api/openai/chat", ResponseTimeMs: 300, TokensUsed: 30, CostEstimate: 0.25, Success: false, CreatedAt: hour.Add(50 * time.Minute)})
	_ = tr.Record(ctx, models.UsageRecord{Endpoint: "/api/openai/chat", ResponseTimeMs: 200, Success: true, CreatedAt: hour.Add(70 * time.Minute)})
	_ = tr.Record(ctx, models.UsageRecord{Endpoint: "/api/chat/general", ResponseTimeMs: 50, Success: true, CreatedAt: hour.Add(10 * time.Minute)})

	rollups, err := tr.Rollups(ctx, hour, "/api/openai/chat")
	if err != nil {
		t.Fatal(err)
	}
	if len(rollups) != 2 {
		t.Fatalf("expected 2 hourly buckets, got %d", len(rollups))
	}
	first := rollups[0]
	if !first.Hour.Equal(hour) {
		t.Errorf("expected bucket %v, got %v", hour, first.Hour)
	}
	if first.RequestCount != 2 || first.SuccessCount != 1 {
		t.Errorf("unexpected counts: %+v", first)
	}
	if !approx(first.AvgResponseMs, 200) || !approx(first.SuccessRate, 0.5) || !approx(first.TotalCost, 0.75) {
		t.Errorf("unexpected derived values: %+v", first)
	}

	all, _ := tr.Rollups(ctx, hour, "")
	if len(all) != 3 {
		t.Errorf("expected 3 rollups across endpoints, got %d", len(all))
	}
}

func TestRollupsConcurrentWriters(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	hour := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

	const writers = 8
	const perWriter = 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := tr.Record(ctx, models.UsageRecord{
					Endpoint: "/api/openai/chat", ResponseTimeMs: 10, Success: true,
					CreatedAt: hour.Add(time.Duration(i) * time.Second),
				}); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	rollups, err := tr.Rollups(ctx, hour, "/api/openai/chat")
	if err != nil {
		t.Fatal(err)
	}
	if len(rollups) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(rollups))
	}
	if rollups[0].RequestCount != writers*perWriter {
		t.Errorf("lost updates: expected %d, got %d", writers*perWriter, rollups[0].RequestCount)
	}
	if rollups[0].TotalResponseMs != int64(writers*perWriter*10) {
		t.Errorf("expected %d total ms, got %d", writers*perWriter*10, rollups[0].TotalResponseMs)
	}
}

func TestSummaryAndCostReport(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = tr.Record(ctx, models.UsageRecord{Endpoint: "/api/openai/chat", ModelUsed: "gpt-4o", PromptTokens: 100, CompletionTokens: 50, TokensUsed: 150, CostEstimate: 0.002, Success: true, CreatedAt: now})
	_ = tr.Record(ctx, models.UsageRecord{Endpoint: "/api/openai/chat", ModelUsed: "gpt-4o", PromptTokens: 200, CompletionTokens: 100, TokensUsed: 300, CostEstimate: 0.004, Success: true, CreatedAt: now})
	_ = tr.Record(ctx, models.UsageRecord{Endpoint: "/api/chat/general", ModelUsed: "gpt-4o-mini", PromptTokens: 80, CompletionTokens: 20, TokensUsed: 100, CostEstimate: 0.0001, Success: true, CreatedAt: now})

	summaries, err := tr.Summary(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}

	report, err := tr.CostReport(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(report) != 2 {
		t.Fatalf("expected 2 report rows, got %d", len(report))
	}
	if report[0].Model != "gpt-4o" || report[0].PromptTokens != 300 || !approx(report[0].EstimatedCost, 0.006) {
		t.Errorf("most expensive row first: got %+v", report[0])
	}
}

func TestTotalCostByUser(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = tr.Record(ctx, models.UsageRecord{UserID: "diver-1", Endpoint: "/api/openai/chat", CostEstimate: 0.5, Success: true, CreatedAt: now})
	_ = tr.Record(ctx, models.UsageRecord{UserID: "diver-1", Endpoint: "/api/openai/chat", CostEstimate: 0.25, Success: true, CreatedAt: now})
	_ = tr.Record(ctx, models.UsageRecord{UserID: "diver-2", Endpoint: "/api/openai/chat", CostEstimate: 9, Success: true, CreatedAt: now})
	_ = tr.Record(ctx, models.UsageRecord{UserID: "diver-1", Endpoint: "/api/openai/chat", CostEstimate: 5, Success: true, CreatedAt: now.Add(-48 * time.Hour)})

	total, err := tr.TotalCostByUser(ctx, "diver-1", now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !approx(total, 0.75) {
		t.Errorf("expected 0.75, got %v", total)
	}
}
