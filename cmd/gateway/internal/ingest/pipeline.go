// Package ingest turns inbound price events into snapshot, history and
// fan-out updates.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/fanout"
	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/shard"
	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/snapshot"
	"github.com/shubham-shewale/quote-fanout/pkg/models"
)

var (
	ErrInvalidEvent = errors.New("invalid price event")
	ErrAppendFailed = errors.New("history append failed")
)

type Snapshots interface {
	Get(symbol string) (models.Snapshot, bool)
	Put(snap models.Snapshot)
}

type History interface {
	Append(ctx context.Context, q models.Quote) error
}

type Publisher interface {
	Publish(symbol string, update models.MarketUpdate) fanout.Delivery
}

// Stats are monotonically increasing counters.
type Stats struct {
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

type stripe struct {
	mu  sync.Mutex
	seq map[string]int64
}

// Pipeline serializes updates per symbol through a fixed set of stripes.
// Symbols on different stripes are processed in parallel.
type Pipeline struct {
	stripes   []*stripe
	snapshots Snapshots
	history   History
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time

	processed atomic.Uint64
	failed    atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewPipeline(stripes int, snapshots Snapshots, history History, publisher Publisher, logger *zap.Logger) *Pipeline {
	if stripes <= 0 {
		stripes = 1
	}
	p := &Pipeline{
		stripes:   make([]*stripe, stripes),
		snapshots: snapshots,
		history:   history,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
	for i := range p.stripes {
		p.stripes[i] = &stripe{seq: make(map[string]int64)}
	}
	return p
}

// WithClock replaces the wall clock used for events without a timestamp.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

func validate(ev models.PriceEvent) error {
	switch {
	case ev.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidEvent)
	case !ev.Price.IsPositive():
		return fmt.Errorf("%w: %s price %s must be positive", ErrInvalidEvent, ev.Symbol, ev.Price)
	case ev.BidPrice.IsNegative(), ev.AskPrice.IsNegative():
		return fmt.Errorf("%w: %s bid/ask must not be negative", ErrInvalidEvent, ev.Symbol)
	case ev.Volume.IsNegative():
		return fmt.Errorf("%w: %s volume must not be negative", ErrInvalidEvent, ev.Symbol)
	}
	return nil
}

// HandleUpdate validates ev, appends it to history, commits the merged
// snapshot and publishes the result. The snapshot is only committed once the
// history append succeeded. Publishing never fails; slow subscribers lose
// messages and are counted as dropped.
func (p *Pipeline) HandleUpdate(ctx context.Context, ev models.PriceEvent) error {
	if err := validate(ev); err != nil {
		p.failed.Add(1)
		return err
	}

	at := ev.Time()
	if at.IsZero() {
		at = p.now().UTC()
	}

	st := p.stripes[shard.Index(ev.Symbol, len(p.stripes))]
	st.mu.Lock()

	var prev *models.Snapshot
	if snap, ok := p.snapshots.Get(ev.Symbol); ok {
		prev = &snap
	}
	next := snapshot.Merge(prev, ev, at)

	seq := st.seq[ev.Symbol] + 1
	q := models.Quote{
		Symbol:    ev.Symbol,
		Price:     ev.Price,
		BidPrice:  ev.BidPrice,
		AskPrice:  ev.AskPrice,
		Volume:    ev.Volume,
		Exchange:  ev.Exchange,
		Timestamp: at,
		Seq:       seq,
	}
	if err := p.history.Append(ctx, q); err != nil {
		st.mu.Unlock()
		p.failed.Add(1)
		return fmt.Errorf("%w: %s: %w", ErrAppendFailed, ev.Symbol, err)
	}
	st.seq[ev.Symbol] = seq
	p.snapshots.Put(next)

	// published while the stripe is held so per-symbol order is kept
	d := p.publisher.Publish(ev.Symbol, next.Update())
	st.mu.Unlock()

	p.processed.Add(1)
	p.published.Add(uint64(d.Delivered))
	if d.Dropped > 0 {
		p.dropped.Add(uint64(d.Dropped))
		p.logger.Debug("Dropped updates for slow subscribers",
			zap.String("symbol", ev.Symbol),
			zap.Int("dropped", d.Dropped),
		)
	}
	return nil
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
	}
}
