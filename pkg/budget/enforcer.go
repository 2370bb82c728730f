package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/freedive-ai/coach/pkg/models"
)

// ErrBudgetExceeded is returned when a user has spent their budget.
var ErrBudgetExceeded = errors.New("budget exceeded")

// CostSource reports estimated spend per user.
type CostSource interface {
	TotalCostByUser(ctx context.Context, userID string, since time.Time) (float64, error)
}

// Enforcer checks estimated model spend against budget policies.
type Enforcer struct {
	policies []models.BudgetPolicy
	costs    CostSource
	now      func() time.Time
}

// New creates an Enforcer with the given policies and cost source.
func New(policies []models.BudgetPolicy, costs CostSource) *Enforcer {
	return &Enforcer{policies: policies, costs: costs, now: time.Now}
}

// Check returns ErrBudgetExceeded if the user has reached any applicable policy.
// Anonymous callers are not budgeted.
func (e *Enforcer) Check(ctx context.Context, userID string) error {
	if e == nil || userID == "" {
		return nil
	}
	for _, p := range e.policiesForUser(userID) {
		spent, err := e.costs.TotalCostByUser(ctx, userID, e.periodStart(p.Period))
		if err != nil {
			return fmt.Errorf("budget check: %w", err)
		}
		if spent >= p.MaxCostUSD {
			return ErrBudgetExceeded
		}
	}
	return nil
}

// Status returns the budget status for a user across all applicable policies.
func (e *Enforcer) Status(ctx context.Context, userID string) ([]models.BudgetStatus, error) {
	policies := e.policiesForUser(userID)
	statuses := make([]models.BudgetStatus, 0, len(policies))

	for _, p := range policies {
		spent, err := e.costs.TotalCostByUser(ctx, userID, e.periodStart(p.Period))
		if err != nil {
			return nil, fmt.Errorf("budget status: %w", err)
		}
		remaining := p.MaxCostUSD - spent
		if remaining < 0 {
			remaining = 0
		}
		statuses = append(statuses, models.BudgetStatus{
			Policy:    p,
			Spent:     spent,
			Remaining: remaining,
		})
	}
	return statuses, nil
}

// Policies returns the configured policies.
func (e *Enforcer) Policies() []models.BudgetPolicy {
	return e.policies
}

func (e *Enforcer) policiesForUser(userID string) []models.BudgetPolicy {
	var result []models.BudgetPolicy
	for _, p := range e.policies {
		if p.UserID == "*" || p.UserID == userID {
			result = append(result, p)
		}
	}
	return result
}

func (e *Enforcer) periodStart(period models.BudgetPeriod) time.Time {
	now := e.now().UTC()
	switch period {
	case models.BudgetMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // daily
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}
