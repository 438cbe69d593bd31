package cache

import (
	"context"
	"time"

	"github.com/wash91/sitem-washo-distr-sub001/internal/domain"
)

// SummaryCache caches day summaries, which are recomputed from every
// sale, expense and refill of the day and are read far more often than
// they change.
type SummaryCache interface {
	Get(ctx context.Context, key string) (*domain.DaySummary, bool, error)
	Set(ctx context.Context, key string, value *domain.DaySummary, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ string) (*domain.DaySummary, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ string, _ *domain.DaySummary, _ time.Duration) error {
	return nil
}

func (NoopSummaryCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
