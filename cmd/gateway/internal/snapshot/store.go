package snapshot

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/shard"
	"github.com/shubham-shewale/quote-fanout/pkg/models"
)

// Merge folds ev into prev and returns the new snapshot; prev is nil for the
// first update of a symbol. High and low only ever widen, and LastUpdated
// never moves backwards even if the clock does.
func Merge(prev *models.Snapshot, ev models.PriceEvent, now time.Time) models.Snapshot {
	next := models.Snapshot{
		Symbol:      ev.Symbol,
		LastPrice:   ev.Price,
		BidPrice:    ev.BidPrice,
		AskPrice:    ev.AskPrice,
		Volume:      ev.Volume,
		HighPrice:   ev.Price,
		LowPrice:    ev.Price,
		Exchange:    ev.Exchange,
		LastUpdated: now,
		Updates:     1,
	}
	if prev == nil {
		return next
	}

	next.HighPrice = decimal.Max(prev.HighPrice, ev.Price)
	next.LowPrice = decimal.Min(prev.LowPrice, ev.Price)
	if next.Exchange == "" {
		next.Exchange = prev.Exchange
	}
	if now.Before(prev.LastUpdated) {
		next.LastUpdated = prev.LastUpdated
	}
	next.Updates = prev.Updates + 1
	return next
}

type storeShard struct {
	mu    sync.RWMutex
	items map[string]models.Snapshot
}

// Store keeps one snapshot per symbol. Values are replaced whole, so a reader
// always sees one complete version.
type Store struct {
	shards []*storeShard
}

func NewStore(shards int) *Store {
	if shards <= 0 {
		shards = 1
	}
	s := &Store{shards: make([]*storeShard, shards)}
	for i := range s.shards {
		s.shards[i] = &storeShard{items: make(map[string]models.Snapshot)}
	}
	return s
}

func (s *Store) shardFor(symbol string) *storeShard {
	return s.shards[shard.Index(symbol, len(s.shards))]
}

func (s *Store) Get(symbol string) (models.Snapshot, bool) {
	sh := s.shardFor(symbol)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	snap, ok := sh.items[symbol]
	return snap, ok
}

func (s *Store) Put(snap models.Snapshot) {
	sh := s.shardFor(snap.Symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.items[snap.Symbol] = snap
}

// Invalidate drops symbol's snapshot; the next update starts a fresh
// high/low envelope.
func (s *Store) Invalidate(symbol string) bool {
	sh := s.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.items[symbol]
	delete(sh.items, symbol)
	return ok
}

func (s *Store) Symbols() []string {
	var out []string
	for _, sh := range s.shards {
		sh.mu.RLock()
		for sym := range sh.items {
			out = append(out, sym)
		}
		sh.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.items)
		sh.mu.RUnlock()
	}
	return n
}
