package models

import (
	"errors"
	"time"
)

// WeeklyWindow is the budget accounting horizon a block falls into.
type WeeklyWindow struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Contains reports whether ts lies in [Start, End).
func (w WeeklyWindow) Contains(ts int64) bool {
	return ts >= w.Start && ts < w.End
}

// Remaining returns the seconds left in the window at ts.
func (w WeeklyWindow) Remaining(ts int64) int64 {
	return w.End - ts
}

// BudgetState is recomputed every cycle and never cached.
type BudgetState struct {
	Window       WeeklyWindow `json:"window"`
	WeeklyLimit  float64      `json:"weekly_limit"`
	ConsumeSoFar float64      `json:"consume_so_far"`
	ConsumeLeft  float64      `json:"consume_left"`
}

// AllocationPlan splits a per-block spend target across topics.
// Shares[i] belongs to the i-th topic in registry order.
type AllocationPlan struct {
	ConsumeTarget       float64 `json:"consume_target"`
	EstimatedBlocksLeft float64 `json:"estimated_blocks_left"`
	Total               int     `json:"total"`
	Shares              []int   `json:"shares"`
}

// Validate checks that shares are positive and sum to Total.
func (p AllocationPlan) Validate() error {
	if p.Total < 1 {
		return errors.New("plan total must be positive")
	}
	if len(p.Shares) == 0 {
		return errors.New("plan must have at least one share")
	}
	if p.ConsumeTarget < 0 {
		return errors.New("consume target must not be negative")
	}
	sum := 0
	for _, s := range p.Shares {
		if s < 1 {
			return errors.New("every share must be at least 1")
		}
		sum += s
	}
	if sum != p.Total {
		return errors.New("shares must sum to plan total")
	}
	return nil
}

// Fraction returns the part of the target assigned to share i.
func (p AllocationPlan) Fraction(i int) float64 {
	return float64(p.Shares[i]) / float64(p.Total)
}

// TxResult is what a submitted (unconfirmed) transaction leaves behind.
type TxResult struct {
	Hash  string `json:"hash"`
	Nonce uint64 `json:"nonce"`
}

// Submission records what happened for one topic in one cycle.
type Submission struct {
	Topic      Topic      `json:"topic"`
	Share      int        `json:"share"`
	MaxToSpend float64    `json:"max_to_spend"`
	Price      float64    `json:"price"`
	Amount     uint64     `json:"amount"`
	GasLimit   uint64     `json:"gas_limit"`
	Txs        []TxResult `json:"txs,omitempty"`
	Skipped    bool       `json:"skipped"`
	SkipReason string     `json:"skip_reason,omitempty"`
}

// Spent is the amount actually committed by this submission.
func (s Submission) Spent() float64 {
	if s.Skipped {
		return 0
	}
	return float64(s.Amount) * s.Price
}

// CycleReport summarizes one allocation cycle.
type CycleReport struct {
	ID          string         `json:"id"`
	Block       Block          `json:"block"`
	Cadence     float64        `json:"cadence"`
	Budget      BudgetState    `json:"budget"`
	Plan        AllocationPlan `json:"plan"`
	Submissions []Submission   `json:"submissions"`
	StartedAt   time.Time      `json:"started_at"`
	Duration    time.Duration  `json:"duration"`
}

// TxCount returns the number of transactions sent in the cycle.
func (r *CycleReport) TxCount() int {
	n := 0
	for _, s := range r.Submissions {
		n += len(s.Txs)
	}
	return n
}

// TotalSpent sums the committed spend across submissions.
func (r *CycleReport) TotalSpent() float64 {
	var total float64
	for _, s := range r.Submissions {
		total += s.Spent()
	}
	return total
}
