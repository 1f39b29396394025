package cache

import (
	"context"
	"time"

	"github.com/janiator/filament-pos-stripe-sub001/internal/domain"
)

// ReportCache holds X-report snapshots between generations. A miss is never
// an error; the report is simply recomputed.
type ReportCache interface {
	Get(ctx context.Context, key string) (*domain.ReportSnapshot, bool, error)
	Set(ctx context.Context, key string, value *domain.ReportSnapshot, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.ReportSnapshot, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ *domain.ReportSnapshot, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
