package allocator

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/dfbuyer/internal/logger"
	"github.com/rewired-gh/dfbuyer/internal/models"
)

// HeadReader reads the chain head.
type HeadReader interface {
	HeadBlockNumber(ctx context.Context) (uint64, error)
	Block(ctx context.Context, number uint64) (models.Block, error)
}

// Watcher polls the chain head and drives one allocation cycle per new block.
type Watcher struct {
	head      HeadReader
	alloc     *Allocator
	interval  time.Duration
	lastBlock uint64
}

func NewWatcher(head HeadReader, alloc *Allocator, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Watcher{head: head, alloc: alloc, interval: interval}
}

// Poll checks the head once. It returns true when a new block was processed.
func (w *Watcher) Poll(ctx context.Context) (bool, error) {
	number, err := w.head.HeadBlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get head block number: %w", err)
	}
	if number <= w.lastBlock {
		return false, nil
	}
	w.lastBlock = number

	block, err := w.head.Block(ctx, number)
	if err != nil {
		return false, fmt.Errorf("failed to get block %d: %w", number, err)
	}
	if err := block.Validate(); err != nil {
		return false, fmt.Errorf("invalid block %d: %w", number, err)
	}
	w.alloc.ObserveBlock(block)
	logger.Debug("New block %d (ts=%d, gas_limit=%d, cadence=%.3fs)",
		block.Number, block.Timestamp, block.GasLimit, w.alloc.Cadence())

	if _, err := w.alloc.RunCycle(ctx, block); err != nil {
		return true, fmt.Errorf("cycle for block %d failed: %w", number, err)
	}
	return true, nil
}

// Run polls until ctx is cancelled or a collaborator fails. The only wait
// is between polls that saw no new block.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		advanced, err := w.Poll(ctx)
		if err != nil {
			return err
		}
		if advanced {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.interval):
		}
	}
}
