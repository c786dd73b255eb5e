// Package allocator spends a weekly budget across prediction feeds, one
// chain block at a time.
package allocator

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/dfbuyer/internal/logger"
	"github.com/rewired-gh/dfbuyer/internal/models"
)

// Config holds the allocator's account, budget and market selection.
type Config struct {
	Owner            string
	WeeklySpendLimit float64
	GasLimitFactor   float64
	MaxUnitsPerTopic uint64
	Filters          models.MarketFilters
	Rand             *rand.Rand
}

// DefaultConfig returns a Config with the default gas and unit limits.
func DefaultConfig() Config {
	return Config{
		GasLimitFactor:   0.99,
		MaxUnitsPerTopic: DefaultMaxUnitsPerTopic,
	}
}

// Recorder journals finished cycles.
type Recorder interface {
	RecordCycle(report *models.CycleReport) error
}

// Notifier announces finished cycles.
type Notifier interface {
	SendCycle(report *models.CycleReport) error
}

// Status is a point-in-time view of the allocator for operators.
type Status struct {
	LastBlock       models.Block
	Cadence         float64
	Topics          int
	CyclesRun       int
	TxsSent         int
	LastConsumeLeft float64
	LastCycleAt     time.Time
}

// Allocator owns all process-lifetime state: the cadence estimate and the
// topic cache. It is driven from a single goroutine.
type Allocator struct {
	cadence  Cadence
	registry *TopicRegistry
	budget   *BudgetTracker
	planner  *Planner
	executor *Executor

	recorder Recorder
	notifier Notifier

	mu     sync.Mutex
	status Status
}

// New wires an allocator over the subgraph and chain collaborators.
func New(cfg Config, lister MarketLister, spend SpendQuerier, trader Trader) *Allocator {
	if cfg.GasLimitFactor <= 0 {
		cfg.GasLimitFactor = DefaultConfig().GasLimitFactor
	}
	return &Allocator{
		registry: NewTopicRegistry(lister, cfg.Filters),
		budget:   NewBudgetTracker(spend, cfg.Owner, cfg.WeeklySpendLimit),
		planner:  NewPlanner(cfg.Rand),
		executor: NewExecutor(trader, cfg.GasLimitFactor, cfg.MaxUnitsPerTopic),
	}
}

// SetRecorder attaches an optional cycle journal.
func (a *Allocator) SetRecorder(r Recorder) { a.recorder = r }

// SetNotifier attaches an optional cycle notifier.
func (a *Allocator) SetNotifier(n Notifier) { a.notifier = n }

// ObserveBlock feeds a new head block into the cadence estimate.
func (a *Allocator) ObserveBlock(block models.Block) {
	a.cadence.Observe(block.Timestamp)

	a.mu.Lock()
	a.status.LastBlock = block
	a.status.Cadence = a.cadence.Estimate()
	a.mu.Unlock()
}

// Cadence returns the current seconds-per-block estimate.
func (a *Allocator) Cadence() float64 {
	return a.cadence.Estimate()
}

// RunCycle runs one budget, plan and execute pass for block. A nil report
// with a nil error means the cycle was a no-op.
func (a *Allocator) RunCycle(ctx context.Context, block models.Block) (*models.CycleReport, error) {
	if !a.cadence.Known() {
		return nil, nil
	}
	startTime := time.Now()

	topics, err := a.registry.Topics(ctx)
	if err != nil {
		return nil, err
	}
	if len(topics) == 0 {
		return nil, nil
	}

	budget, ok, err := a.budget.Evaluate(ctx, block, topics)
	if err != nil {
		return nil, err
	}
	logger.Debug("Block %d: window=[%d,%d) consume_so_far=%.4f consume_left=%.4f",
		block.Number, budget.Window.Start, budget.Window.End, budget.ConsumeSoFar, budget.ConsumeLeft)
	a.setConsumeLeft(len(topics), budget.ConsumeLeft)
	if !ok {
		logger.Debug("Weekly budget exhausted, skipping block %d", block.Number)
		return nil, nil
	}

	cadence := a.cadence.Estimate()
	plan, ok := a.planner.Plan(block, budget, cadence, len(topics))
	if !ok {
		logger.Debug("No blocks estimated to remain in window at block %d", block.Number)
		return nil, nil
	}
	logger.Info("Block %d: %d topics, consume_target=%.6f over ~%.0f blocks left, shares=%v",
		block.Number, len(topics), plan.ConsumeTarget, plan.EstimatedBlocksLeft, plan.Shares)

	report := &models.CycleReport{
		ID:        uuid.New().String(),
		Block:     block,
		Cadence:   cadence,
		Budget:    budget,
		Plan:      plan,
		StartedAt: startTime,
	}

	report.Submissions, err = a.executor.Execute(ctx, block, topics, plan)
	report.Duration = time.Since(startTime)
	a.finish(report)
	if err != nil {
		return report, err
	}

	logger.Info("Cycle for block %d completed in %v: %d txs, spent %.6f of target %.6f",
		block.Number, report.Duration, report.TxCount(), report.TotalSpent(), plan.ConsumeTarget)
	return report, nil
}

func (a *Allocator) setConsumeLeft(topics int, left float64) {
	a.mu.Lock()
	a.status.Topics = topics
	a.status.LastConsumeLeft = left
	a.mu.Unlock()
}

// finish journals and announces a cycle, including a partially executed one.
// Failures here never stop buying.
func (a *Allocator) finish(report *models.CycleReport) {
	a.mu.Lock()
	a.status.CyclesRun++
	a.status.TxsSent += report.TxCount()
	a.status.LastCycleAt = report.StartedAt
	a.mu.Unlock()

	if a.recorder != nil {
		if err := a.recorder.RecordCycle(report); err != nil {
			logger.Warn("Failed to record cycle %s: %v", report.ID, err)
		}
	}
	if a.notifier != nil && report.TxCount() > 0 {
		if err := a.notifier.SendCycle(report); err != nil {
			logger.Warn("Failed to send cycle notification: %v", err)
		}
	}
}

// Status returns a snapshot safe to read from other goroutines.
func (a *Allocator) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}
