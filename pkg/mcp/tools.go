package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/freedive-ai/coach/pkg/models"
	"github.com/freedive-ai/coach/pkg/monitor"
)

// Tool argument structs.

type windowArgs struct {
	TimeRangeHours int `json:"time_range_hours"`
}

type errorArgs struct {
	TimeRangeHours int    `json:"time_range_hours"`
	Severity       string `json:"severity"`
	Endpoint       string `json:"endpoint"`
}

type userArgs struct {
	UserID string `json:"user_id"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"coach_dashboard":   handleDashboard,
	"coach_usage":       handleUsage,
	"coach_errors":      handleErrors,
	"coach_circuits":    handleCircuits,
	"coach_cache_stats": handleCacheStats,
	"coach_budget":      handleBudget,
}

var timeRangeProperty = map[string]any{
	"type":        "integer",
	"description": "Look-back window in hours (optional, defaults to 24)",
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "coach_dashboard",
		Description: "Show overall health, request totals, error counts and circuit states.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"time_range_hours": timeRangeProperty},
		},
	},
	{
		Name:        "coach_usage",
		Description: "Show model usage, latency, success rate and estimated cost per endpoint.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"time_range_hours": timeRangeProperty},
		},
	},
	{
		Name:        "coach_errors",
		Description: "List recent model call errors, optionally filtered by severity and endpoint.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"time_range_hours": timeRangeProperty,
				"severity": map[string]any{
					"type":        "string",
					"enum":        []string{"low", "medium", "high", "critical"},
					"description": "Filter by severity (optional)",
				},
				"endpoint": map[string]any{
					"type":        "string",
					"description": "Filter by endpoint, e.g. /api/openai/chat (optional)",
				},
			},
		},
	},
	{
		Name:        "coach_circuits",
		Description: "Show circuit breaker state per endpoint.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "coach_cache_stats",
		Description: "Show response cache statistics (entries, hits, misses, hit rate).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "coach_budget",
		Description: "Show cost budget status for a user, or the configured policies when no user is given.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user_id": map[string]any{
					"type":        "string",
					"description": "User to check (optional)",
				},
			},
		},
	},
}

const (
	notSharedCircuits = "Circuit state is kept in memory by the running server and cannot be read from here. Use /api/monitor/circuits on the server instead."
	notSharedCache    = "The memory cache lives inside the running server and cannot be read from here. Use /api/monitor/dashboard on the server instead."
)

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func hours(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Hour
}

func handleDashboard(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args windowArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	d, err := s.monitor.Dashboard(ctx, hours(args.TimeRangeHours))
	if err != nil {
		return errorResult("Error building dashboard: " + err.Error())
	}
	return textResult(formatDashboard(d))
}

func handleUsage(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args windowArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	ua, err := s.monitor.UsageAnalytics(ctx, hours(args.TimeRangeHours))
	if err != nil {
		return errorResult("Error fetching usage: " + err.Error())
	}
	return textResult(formatUsage(ua))
}

func handleErrors(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args errorArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	et, err := s.monitor.ErrorTracking(ctx, hours(args.TimeRangeHours), models.Severity(args.Severity), args.Endpoint)
	if err != nil {
		return errorResult("Error fetching errors: " + err.Error())
	}
	return textResult(formatErrors(et))
}

func handleCircuits(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	states, err := s.monitor.Circuits(ctx)
	if errors.Is(err, monitor.ErrNotShared) {
		return textResult(notSharedCircuits)
	}
	if err != nil {
		return errorResult("Error fetching circuits: " + err.Error())
	}
	return textResult(formatCircuits(states))
}

func handleCacheStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	stats, ok, err := s.monitor.CacheStats()
	if !ok {
		return textResult("Cache is not configured.")
	}
	if errors.Is(err, monitor.ErrNotShared) {
		return textResult(notSharedCache)
	}
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}

func handleBudget(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.enforcer == nil {
		return textResult("Budget enforcement is not configured.")
	}
	var args userArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.UserID == "" {
		return textResult(formatPolicies(s.enforcer.Policies()))
	}
	statuses, err := s.enforcer.Status(ctx, args.UserID)
	if err != nil {
		return errorResult("Error fetching budget status: " + err.Error())
	}
	return textResult(formatBudgetStatus(args.UserID, statuses))
}
