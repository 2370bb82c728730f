package models

// ModelPricing defines per-1K token costs for a model.
type ModelPricing struct {
	Model          string  `json:"model" yaml:"model"`
	PromptCost     float64 `json:"promptCostPer1k" yaml:"prompt_cost_per_1k"`
	CompletionCost float64 `json:"completionCostPer1k" yaml:"completion_cost_per_1k"`
}

// Estimate returns the dollar cost of the given token counts.
func (p ModelPricing) Estimate(promptTokens, completionTokens int) float64 {
	return (float64(promptTokens)/1000)*p.PromptCost +
		(float64(completionTokens)/1000)*p.CompletionCost
}

// CostReport is an aggregated cost row grouped by endpoint and model.
type CostReport struct {
	Endpoint         string  `json:"endpoint"`
	Model            string  `json:"model"`
	RequestCount     int     `json:"requestCount"`
	PromptTokens     int64   `json:"promptTokens"`
	CompletionTokens int64   `json:"completionTokens"`
	TotalTokens      int64   `json:"totalTokens"`
	EstimatedCost    float64 `json:"estimatedCost"`
}
