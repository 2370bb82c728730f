package models

import "time"

// Usage represents token usage from an LLM response.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// UsageRecord is written once per model call, successful or not.
type UsageRecord struct {
	ID               int64          `json:"id"`
	UserID           string         `json:"userId,omitempty"`
	Endpoint         string         `json:"endpoint"`
	ModelUsed        string         `json:"modelUsed"`
	PromptTokens     int            `json:"promptTokens"`
	CompletionTokens int            `json:"completionTokens"`
	TokensUsed       int            `json:"tokensUsed"`
	ResponseTimeMs   int64          `json:"responseTimeMs"`
	CostEstimate     float64        `json:"costEstimate"`
	Success          bool           `json:"success"`
	ErrorType        string         `json:"errorType,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"timestamp"`
}

// HourlyRollup aggregates usage per endpoint for one hour bucket.
type HourlyRollup struct {
	Hour            time.Time `json:"hour"`
	Endpoint        string    `json:"endpoint"`
	RequestCount    int       `json:"requestCount"`
	SuccessCount    int       `json:"successCount"`
	TotalResponseMs int64     `json:"totalResponseMs"`
	TotalTokens     int64     `json:"totalTokens"`
	TotalCost       float64   `json:"totalCost"`
	AvgResponseMs   float64   `json:"avgResponseMs"`
	SuccessRate     float64   `json:"successRate"`
}

// UsageSummary aggregates usage grouped by endpoint and model.
type UsageSummary struct {
	Endpoint      string  `json:"endpoint"`
	Model         string  `json:"model"`
	RequestCount  int     `json:"requestCount"`
	SuccessCount  int     `json:"successCount"`
	TotalTokens   int64   `json:"totalTokens"`
	TotalCost     float64 `json:"totalCost"`
	AvgResponseMs float64 `json:"avgResponseMs"`
}

// UsageTotals is a single aggregate over a time range.
type UsageTotals struct {
	RequestCount  int     `json:"requestCount"`
	SuccessCount  int     `json:"successCount"`
	SuccessRate   float64 `json:"successRate"`
	AvgResponseMs float64 `json:"avgResponseMs"`
	TotalTokens   int64   `json:"totalTokens"`
	TotalCost     float64 `json:"totalCost"`
}
