// Package sweeper reclaims leases left behind by runs that died mid-work.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentic-research/corpus/internal/metrics"
	"github.com/agentic-research/corpus/internal/source"
	"github.com/agentic-research/corpus/internal/telemetry"
)

type Sweeper struct {
	reg     *source.Registry
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(reg *source.Registry, logger *slog.Logger, m *metrics.Metrics) *Sweeper {
	if logger == nil {
		logger = telemetry.Discard()
	}
	return &Sweeper{reg: reg, logger: logger, metrics: m}
}

// Reclaim clears every lease older than olderThan whose work never
// completed, making those sources eligible for re-leasing. It has no
// structural effect on the tree.
func (s *Sweeper) Reclaim(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.reg.Now().Add(-olderThan)
	n, err := s.reg.ReclaimStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.metrics.Reclaimed(n)
	s.logger.Info("leases reclaimed", "count", n, "older_than", olderThan.String())
	return n, nil
}
