package budget

import (
	"context"
	"errors"
	"fmt"

	"github.com/canvass-ai/canvass/pkg/models"
	"github.com/canvass-ai/canvass/pkg/usage"
)

// ErrBudgetExceeded is returned when a run has spent its token budget.
var ErrBudgetExceeded = errors.New("token budget exceeded")

// Enforcer checks a run's token spend against its budget before each
// external call. Cache hits cost nothing and are never blocked.
type Enforcer struct {
	budget  models.RunBudget
	tracker usage.Tracker
}

// New creates an Enforcer for one run budget backed by the usage tracker.
func New(b models.RunBudget, t usage.Tracker) *Enforcer {
	return &Enforcer{budget: b, tracker: t}
}

// Check returns ErrBudgetExceeded if the run has spent its budget.
func (e *Enforcer) Check(ctx context.Context, runID string) error {
	if e == nil || !e.budget.Enabled {
		return nil
	}
	used, err := e.tracker.TotalByRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("budget check: %w", err)
	}
	if used >= e.budget.MaxTotalTokens {
		return ErrBudgetExceeded
	}
	return nil
}

// Status returns the run's current spend against its budget.
func (e *Enforcer) Status(ctx context.Context, runID string) (models.BudgetStatus, error) {
	used, err := e.tracker.TotalByRun(ctx, runID)
	if err != nil {
		return models.BudgetStatus{}, fmt.Errorf("budget status: %w", err)
	}
	remaining := e.budget.MaxTotalTokens - used
	if remaining < 0 {
		remaining = 0
	}
	return models.BudgetStatus{
		Budget:    e.budget,
		Used:      used,
		Remaining: remaining,
	}, nil
}
