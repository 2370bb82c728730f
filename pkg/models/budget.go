package models

// BudgetPeriod defines the time window for a budget policy.
type BudgetPeriod string

const (
	BudgetDaily   BudgetPeriod = "daily"
	BudgetMonthly BudgetPeriod = "monthly"
)

// BudgetPolicy caps estimated spend per user per period.
type BudgetPolicy struct {
	UserID     string       `json:"userId" yaml:"user_id"`
	MaxCostUSD float64      `json:"maxCostUsd" yaml:"max_cost_usd"`
	Period     BudgetPeriod `json:"period" yaml:"period"`
}

// BudgetStatus shows current spend against a policy.
type BudgetStatus struct {
	Policy    BudgetPolicy `json:"policy"`
	Spent     float64      `json:"spent"`
	Remaining float64      `json:"remaining"`
}
