package history

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Retention periodically prunes quotes older than the retention window.
type Retention struct {
	store    Store
	keep     time.Duration
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewRetention(store Store, keep, interval time.Duration, logger *zap.Logger) *Retention {
	return &Retention{
		store:    store,
		keep:     keep,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// PruneOnce removes everything older than now - keep.
func (r *Retention) PruneOnce(ctx context.Context) (int64, error) {
	before := r.now().Add(-r.keep)
	removed, err := r.store.Prune(ctx, before)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		r.logger.Info("Pruned quote history", zap.Int64("removed", removed), zap.Time("before", before))
	}
	return removed, nil
}

// Run prunes every interval until ctx is done. A non-positive keep or
// interval disables pruning.
func (r *Retention) Run(ctx context.Context) {
	if r.keep <= 0 || r.interval <= 0 {
		r.logger.Info("Quote history retention disabled")
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.PruneOnce(ctx); err != nil {
				r.logger.Error("Quote history prune failed", zap.Error(err))
			}
		}
	}
}
