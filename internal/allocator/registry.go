package allocator

import (
	"context"
	"fmt"

	"github.com/rewired-gh/dfbuyer/internal/logger"
	"github.com/rewired-gh/dfbuyer/internal/models"
)

// MarketLister discovers eligible feed contracts.
type MarketLister interface {
	ListEligibleMarkets(ctx context.Context, filters models.MarketFilters) ([]models.Topic, error)
}

// TopicRegistry resolves the eligible topics once and keeps them for the
// lifetime of the process. Feeds deployed after the first successful load
// are not picked up until restart.
type TopicRegistry struct {
	lister  MarketLister
	filters models.MarketFilters
	topics  []models.Topic
}

func NewTopicRegistry(lister MarketLister, filters models.MarketFilters) *TopicRegistry {
	return &TopicRegistry{lister: lister, filters: filters}
}

// Topics returns the cached topics, querying the lister while the cache is
// still empty. An empty result is not cached.
func (r *TopicRegistry) Topics(ctx context.Context) ([]models.Topic, error) {
	if len(r.topics) > 0 {
		return r.topics, nil
	}

	topics, err := r.lister.ListEligibleMarkets(ctx, r.filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible markets: %w", err)
	}
	if len(topics) == 0 {
		logger.Debug("No eligible markets found (filters: %s)", r.filters)
		return nil, nil
	}

	r.topics = topics
	logger.Info("Loaded %d eligible markets (filters: %s)", len(topics), r.filters)
	return r.topics, nil
}
