package allocator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand/v2"

	"github.com/rewired-gh/dfbuyer/internal/models"
)

// weekStart is an epoch-aligned week start used across tests.
const weekStart int64 = 2800 * WeekSeconds

func testRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type fakeMarkets struct {
	topics     []models.Topic
	listErr    error
	listCalls  int
	spend      float64
	spendErr   error
	spendCalls int
	lastStart  int64
	lastOwner  string
}

func (f *fakeMarkets) ListEligibleMarkets(ctx context.Context, filters models.MarketFilters) ([]models.Topic, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.topics, nil
}

func (f *fakeMarkets) CumulativeSpend(ctx context.Context, topics []models.Topic, windowStart int64, owner string) (float64, error) {
	f.spendCalls++
	f.lastStart = windowStart
	f.lastOwner = owner
	if f.spendErr != nil {
		return 0, f.spendErr
	}
	return f.spend, nil
}

type buyCall struct {
	topic    models.Topic
	amount   uint64
	gasLimit uint64
}

type fakeTrader struct {
	prices     map[models.Topic]*big.Int
	priceErr   error
	buyErr     error
	buys       []buyCall
	priceCalls int
	nonce      uint64
}

func (f *fakeTrader) Price(ctx context.Context, topic models.Topic) (*big.Int, error) {
	f.priceCalls++
	if f.priceErr != nil {
		return nil, f.priceErr
	}
	p, ok := f.prices[topic]
	if !ok {
		return nil, errors.New("unknown topic")
	}
	return p, nil
}

func (f *fakeTrader) BuyMany(ctx context.Context, topic models.Topic, amount uint64, gasLimit uint64) ([]models.TxResult, error) {
	if f.buyErr != nil {
		return nil, f.buyErr
	}
	f.buys = append(f.buys, buyCall{topic: topic, amount: amount, gasLimit: gasLimit})
	txs := make([]models.TxResult, 0, amount)
	for i := uint64(0); i < amount; i++ {
		txs = append(txs, models.TxResult{Hash: fmt.Sprintf("0x%s-%d", topic, f.nonce), Nonce: f.nonce})
		f.nonce++
	}
	return txs, nil
}

type fakeHead struct {
	numbers    []uint64 // successive head numbers; the last one repeats
	calls      int
	blocks     map[uint64]models.Block
	blockCalls int
}

func (f *fakeHead) HeadBlockNumber(ctx context.Context) (uint64, error) {
	i := f.calls
	if i >= len(f.numbers) {
		i = len(f.numbers) - 1
	}
	f.calls++
	return f.numbers[i], nil
}

func (f *fakeHead) Block(ctx context.Context, number uint64) (models.Block, error) {
	f.blockCalls++
	b, ok := f.blocks[number]
	if !ok {
		return models.Block{}, fmt.Errorf("block %d not found", number)
	}
	return b, nil
}

type fakeRecorder struct {
	reports []*models.CycleReport
}

func (f *fakeRecorder) RecordCycle(report *models.CycleReport) error {
	f.reports = append(f.reports, report)
	return nil
}
