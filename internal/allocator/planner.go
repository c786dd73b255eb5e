package allocator

import (
	"math/rand/v2"

	"github.com/rewired-gh/dfbuyer/internal/models"
)

const (
	// TargetHeadroom scales the upper bound of the per-block target draw.
	TargetHeadroom = 100.0

	// PercentTotal is the share total used for up to 100 topics.
	PercentTotal = 100
)

// ShareTotal returns the total that shares are composed from for n topics.
// Beyond 100 topics it grows to the next multiple of 100 so every topic
// still receives a positive share.
func ShareTotal(n int) int {
	if n <= PercentTotal {
		return PercentTotal
	}
	return ((n + PercentTotal - 1) / PercentTotal) * PercentTotal
}

// Compose splits k into n positive integers that sum to k. Each part but the
// last is drawn uniformly from what is left, capped so the remaining parts
// can still get at least one unit; the last part takes the remainder.
// Leading parts tend to be larger than trailing ones.
// Returns nil when n < 1 or k < n.
func Compose(rng *rand.Rand, n, k int) []int {
	if n < 1 || k < n {
		return nil
	}
	parts := make([]int, n)
	left := k
	for i := 0; i < n-1; i++ {
		maxPart := left - (n - 1 - i)
		parts[i] = 1 + rng.IntN(maxPart)
		left -= parts[i]
	}
	parts[n-1] = left
	return parts
}

// Planner derives the per-block spend target and its split across topics.
type Planner struct {
	rng *rand.Rand
}

func NewPlanner(rng *rand.Rand) *Planner {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Planner{rng: rng}
}

// Plan returns ok=false when any precondition fails: unknown cadence,
// no budget left, no topics, or no blocks estimated to remain in the window.
func (p *Planner) Plan(block models.Block, budget models.BudgetState, cadence float64, topics int) (models.AllocationPlan, bool) {
	if cadence <= 0 || budget.ConsumeLeft <= 0 || topics < 1 {
		return models.AllocationPlan{}, false
	}

	blocksLeft := float64(budget.Window.Remaining(block.Timestamp)) / cadence
	if blocksLeft <= 0 {
		return models.AllocationPlan{}, false
	}

	upper := budget.ConsumeLeft / blocksLeft * TargetHeadroom
	total := ShareTotal(topics)

	return models.AllocationPlan{
		ConsumeTarget:       p.rng.Float64() * upper,
		EstimatedBlocksLeft: blocksLeft,
		Total:               total,
		Shares:              Compose(p.rng, topics, total),
	}, true
}
