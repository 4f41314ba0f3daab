// Package history is the quote history log: an append-only, time-ordered
// record of observed quotes per symbol with age-based pruning.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shubham-shewale/quote-fanout/pkg/config"
	"github.com/shubham-shewale/quote-fanout/pkg/models"
)

// Store is implemented by every history backend. Ranges are inclusive and
// ordered oldest first; unknown symbols yield an empty result, not an error.
type Store interface {
	Append(ctx context.Context, q models.Quote) error
	Range(ctx context.Context, symbol string, from, to time.Time) ([]models.Quote, error)
	Latest(ctx context.Context, symbol string, n int) ([]models.Quote, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// Open builds the backend selected by cfg. rdb is only used by the redis
// backend and may be nil otherwise.
func Open(cfg config.HistoryConfig, rdb *redis.Client) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("history: redis backend needs a redis client")
		}
		return NewRedisStore(rdb), nil
	case "sqlite", "postgres":
		store, err := OpenSQL(cfg.Backend, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("history: unknown backend %q", cfg.Backend)
	}
}
