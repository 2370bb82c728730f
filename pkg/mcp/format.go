package mcp

import (
	"fmt"
	"strings"

	"github.com/freedive-ai/coach/pkg/models"
	"github.com/freedive-ai/coach/pkg/monitor"
)

// formatDashboard renders the monitoring snapshot as text.
func formatDashboard(d *monitor.Dashboard) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s (last %dh)\n", strings.ToUpper(string(d.Health)), d.WindowHours)
	fmt.Fprintf(&b, "  Requests:     %d (%.1f%% success)\n", d.Usage.RequestCount, d.Usage.SuccessRate*100)
	fmt.Fprintf(&b, "  Avg latency:  %.0f ms\n", d.Usage.AvgResponseMs)
	fmt.Fprintf(&b, "  Tokens:       %d\n", d.Usage.TotalTokens)
	fmt.Fprintf(&b, "  Cost:         $%.4f\n", d.Usage.TotalCost)
	fmt.Fprintf(&b, "  Errors:       %d (%d unresolved)\n", d.Errors.Total, d.Errors.Unresolved)
	if d.Cache != nil {
		fmt.Fprintf(&b, "  Cache:        %d entries, %.1f%% hit rate\n", d.Cache.Entries, hitRate(*d.Cache))
	}
	if len(d.Circuits) > 0 {
		b.WriteString("\n")
		b.WriteString(formatCircuits(d.Circuits))
	}
	if len(d.Notes) > 0 {
		b.WriteString("\n")
		for _, n := range d.Notes {
			b.WriteString("Note: " + n + "\n")
		}
	}
	return b.String()
}

// formatUsage formats per-endpoint usage as a text table.
func formatUsage(ua *monitor.UsageAnalytics) string {
	if len(ua.ByEndpoint) == 0 {
		return "No usage data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-22s %-20s %8s %8s %10s %10s %10s\n",
		"Endpoint", "Model", "Requests", "Success", "Tokens", "Avg ms", "Cost")
	b.WriteString(strings.Repeat("-", 94) + "\n")
	for _, r := range ua.ByEndpoint {
		fmt.Fprintf(&b, "%-22s %-20s %8d %8d %10d %10.0f %10.4f\n",
			r.Endpoint, r.Model, r.RequestCount, r.SuccessCount, r.TotalTokens, r.AvgResponseMs, r.TotalCost)
	}
	fmt.Fprintf(&b, "\nTotal: %d requests, %.1f%% success, $%.4f over %dh\n",
		ua.Totals.RequestCount, ua.Totals.SuccessRate*100, ua.Totals.TotalCost, ua.TimeRangeHours)
	return b.String()
}

// formatErrors formats error counts and the most recent entries.
func formatErrors(et *monitor.ErrorTracking) string {
	if et.Total == 0 {
		return "No errors found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d error(s) in the last %dh\n\n", et.Total, et.TimeRangeHours)
	fmt.Fprintf(&b, "%-18s %-10s %6s\n", "Type", "Severity", "Count")
	b.WriteString(strings.Repeat("-", 36) + "\n")
	for _, s := range et.ByType {
		fmt.Fprintf(&b, "%-18s %-10s %6d\n", s.ErrorType, s.Severity, s.Count)
	}
	b.WriteString("\nRecent:\n")
	for i, e := range et.Recent {
		if i == 10 {
			break
		}
		fmt.Fprintf(&b, "  %s  %-18s %-16s attempt %d  %s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.Endpoint, e.ErrorType, e.Attempt, truncate(e.ErrorMessage, 60))
	}
	return b.String()
}

// formatCircuits formats circuit breaker states as a text table.
func formatCircuits(states []models.CircuitState) string {
	if len(states) == 0 {
		return "No circuits recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-22s %-10s %8s %-20s\n", "Endpoint", "State", "Failures", "Next Attempt")
	b.WriteString(strings.Repeat("-", 63) + "\n")
	for _, c := range states {
		next := "-"
		if c.NextAttemptTime != nil {
			next = c.NextAttemptTime.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(&b, "%-22s %-10s %8d %-20s\n", c.Endpoint, c.State, c.FailureCount, next)
	}
	return b.String()
}

// formatBudgetStatus formats budget statuses as a text table.
func formatBudgetStatus(userID string, statuses []models.BudgetStatus) string {
	if len(statuses) == 0 {
		return fmt.Sprintf("No budget policies apply to %s.", userID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-8s %10s %10s %10s %6s\n",
		"User", "Period", "Limit $", "Spent $", "Left $", "Usage%")
	b.WriteString(strings.Repeat("-", 70) + "\n")
	for _, s := range statuses {
		pct := float64(0)
		if s.Policy.MaxCostUSD > 0 {
			pct = s.Spent / s.Policy.MaxCostUSD * 100
		}
		fmt.Fprintf(&b, "%-20s %-8s %10.4f %10.4f %10.4f %5.1f%%\n",
			truncate(userID, 20), s.Policy.Period, s.Policy.MaxCostUSD, s.Spent, s.Remaining, pct)
	}
	return b.String()
}

// formatPolicies lists configured budget policies.
func formatPolicies(policies []models.BudgetPolicy) string {
	if len(policies) == 0 {
		return "No budget policies found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-8s %10s\n", "User", "Period", "Limit $")
	b.WriteString(strings.Repeat("-", 40) + "\n")
	for _, p := range policies {
		fmt.Fprintf(&b, "%-20s %-8s %10.4f\n", p.UserID, p.Period, p.MaxCostUSD)
	}
	return b.String()
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	return fmt.Sprintf("Cache Statistics\n"+
		"  Entries:   %d\n"+
		"  Hits:      %d\n"+
		"  Misses:    %d\n"+
		"  Evictions: %d\n"+
		"  Hit Rate:  %.1f%%\n",
		stats.Entries, stats.Hits, stats.Misses, stats.Evictions, hitRate(stats))
}

func hitRate(stats models.CacheStats) float64 {
	total := stats.Hits + stats.Misses
	if total == 0 {
		return 0
	}
	return float64(stats.Hits) / float64(total) * 100
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
