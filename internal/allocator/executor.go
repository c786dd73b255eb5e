package allocator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/dfbuyer/internal/logger"
	"github.com/rewired-gh/dfbuyer/internal/models"
)

// PriceDecimals is the fixed-point scale of on-chain prices.
const PriceDecimals = 18

// DefaultMaxUnitsPerTopic bounds the buys sent to one topic in one cycle.
const DefaultMaxUnitsPerTopic = 1000

// ErrZeroPrice marks a topic whose price cannot size a purchase.
var ErrZeroPrice = errors.New("price is zero")

// Trader reads prices and submits buys for a topic from the signing account.
type Trader interface {
	Price(ctx context.Context, topic models.Topic) (*big.Int, error)
	BuyMany(ctx context.Context, topic models.Topic, amount uint64, gasLimit uint64) ([]models.TxResult, error)
}

// Executor turns an allocation plan into buy submissions, one topic at a time.
type Executor struct {
	trader         Trader
	gasLimitFactor float64
	maxUnits       uint64
}

// NewExecutor creates an executor. maxUnits of zero uses
// DefaultMaxUnitsPerTopic.
func NewExecutor(trader Trader, gasLimitFactor float64, maxUnits uint64) *Executor {
	if maxUnits == 0 {
		maxUnits = DefaultMaxUnitsPerTopic
	}
	return &Executor{trader: trader, gasLimitFactor: gasLimitFactor, maxUnits: maxUnits}
}

// NormalizePrice converts a 1e18 fixed-point price to a float.
func NormalizePrice(raw *big.Int) float64 {
	if raw == nil {
		return 0
	}
	return decimal.NewFromBigInt(raw, -PriceDecimals).InexactFloat64()
}

// GasLimit returns the per-transaction gas limit for a cycle on block.
func (e *Executor) GasLimit(block models.Block) uint64 {
	return uint64(math.Floor(float64(block.GasLimit) * e.gasLimitFactor))
}

// Execute submits buys for every topic in order. A topic whose price is zero,
// or whose share buys more than the per-topic unit cap, is skipped; any price
// or submission error aborts the remaining topics.
// Submissions are not awaited for confirmation.
func (e *Executor) Execute(ctx context.Context, block models.Block, topics []models.Topic, plan models.AllocationPlan) ([]models.Submission, error) {
	if len(plan.Shares) != len(topics) {
		return nil, fmt.Errorf("plan has %d shares for %d topics", len(plan.Shares), len(topics))
	}

	gasLimit := e.GasLimit(block)
	submissions := make([]models.Submission, 0, len(topics))

	for i, topic := range topics {
		sub := models.Submission{
			Topic:      topic,
			Share:      plan.Shares[i],
			MaxToSpend: plan.ConsumeTarget * plan.Fraction(i),
			GasLimit:   gasLimit,
		}

		raw, err := e.trader.Price(ctx, topic)
		if err != nil {
			return submissions, fmt.Errorf("failed to get price for %s: %w", topic, err)
		}
		sub.Price = NormalizePrice(raw)

		if sub.Price <= 0 {
			logger.Warn("Skipping %s: %v (raw=%s)", topic, ErrZeroPrice, raw)
			sub.Skipped = true
			sub.SkipReason = ErrZeroPrice.Error()
			submissions = append(submissions, sub)
			continue
		}

		units := math.Floor(sub.MaxToSpend / sub.Price)
		if units < 1 {
			logger.Debug("Skipping %s: max_to_spend=%.6f below price=%.6f", topic, sub.MaxToSpend, sub.Price)
			sub.Skipped = true
			sub.SkipReason = "amount below one unit"
			submissions = append(submissions, sub)
			continue
		}
		// also catches quotients beyond uint64
		if units > float64(e.maxUnits) {
			logger.Warn("Skipping %s: %.0f units at price %s wei exceeds cap of %d", topic, units, raw, e.maxUnits)
			sub.Skipped = true
			sub.SkipReason = fmt.Sprintf("amount exceeds cap of %d units", e.maxUnits)
			submissions = append(submissions, sub)
			continue
		}
		sub.Amount = uint64(units)

		txs, err := e.trader.BuyMany(ctx, topic, sub.Amount, gasLimit)
		sub.Txs = txs
		if err != nil {
			if len(txs) > 0 {
				submissions = append(submissions, sub)
			}
			return submissions, fmt.Errorf("failed to buy %d of %s after %d txs: %w", sub.Amount, topic, len(txs), err)
		}
		logger.Info("Bought %d of %s at %.6f (share=%d/%d, max_to_spend=%.6f, txs=%d)",
			sub.Amount, topic, sub.Price, sub.Share, plan.Total, sub.MaxToSpend, len(txs))
		for _, tx := range txs {
			logger.WithField("topic", string(topic)).Debugf("tx %s nonce=%d", tx.Hash, tx.Nonce)
		}

		submissions = append(submissions, sub)
	}

	return submissions, nil
}
