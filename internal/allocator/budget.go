package allocator

import (
	"context"
	"fmt"

	"github.com/rewired-gh/dfbuyer/internal/models"
)

// WeekSeconds is the length of the budget accounting window.
const WeekSeconds int64 = 7 * 86400

// SpendQuerier reports what an owner already spent on a set of topics.
type SpendQuerier interface {
	CumulativeSpend(ctx context.Context, topics []models.Topic, windowStart int64, owner string) (float64, error)
}

// WindowAt returns the epoch-aligned week containing timestamp.
func WindowAt(timestamp int64) models.WeeklyWindow {
	start := floorDiv(timestamp, WeekSeconds) * WeekSeconds
	return models.WeeklyWindow{Start: start, End: start + WeekSeconds}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// BudgetTracker compares the spend of the current week with the weekly limit.
type BudgetTracker struct {
	spend       SpendQuerier
	owner       string
	weeklyLimit float64
}

func NewBudgetTracker(spend SpendQuerier, owner string, weeklyLimit float64) *BudgetTracker {
	return &BudgetTracker{spend: spend, owner: owner, weeklyLimit: weeklyLimit}
}

// Evaluate computes the budget state for block. ok is false when nothing is
// left to spend this week.
func (b *BudgetTracker) Evaluate(ctx context.Context, block models.Block, topics []models.Topic) (models.BudgetState, bool, error) {
	window := WindowAt(block.Timestamp)

	soFar, err := b.spend.CumulativeSpend(ctx, topics, window.Start, b.owner)
	if err != nil {
		return models.BudgetState{}, false, fmt.Errorf("failed to query consume so far: %w", err)
	}

	state := models.BudgetState{
		Window:       window,
		WeeklyLimit:  b.weeklyLimit,
		ConsumeSoFar: soFar,
		ConsumeLeft:  b.weeklyLimit - soFar,
	}
	return state, state.ConsumeLeft > 0, nil
}
