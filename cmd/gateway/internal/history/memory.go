package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shubham-shewale/quote-fanout/pkg/models"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps history in process. Used for tests and local runs.
type MemoryStore struct {
	mu     sync.RWMutex
	quotes map[string][]models.Quote
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{quotes: make(map[string][]models.Quote)}
}

func (m *MemoryStore) Append(ctx context.Context, q models.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.quotes[q.Symbol]
	// after any quote with the same timestamp, so arrival order is kept
	i := sort.Search(len(qs), func(i int) bool { return qs[i].Timestamp.After(q.Timestamp) })
	qs = append(qs, models.Quote{})
	copy(qs[i+1:], qs[i:])
	qs[i] = q
	m.quotes[q.Symbol] = qs
	return nil
}

func (m *MemoryStore) Range(ctx context.Context, symbol string, from, to time.Time) ([]models.Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	qs := m.quotes[symbol]
	lo := sort.Search(len(qs), func(i int) bool { return !qs[i].Timestamp.Before(from) })
	hi := sort.Search(len(qs), func(i int) bool { return qs[i].Timestamp.After(to) })
	if lo >= hi {
		return []models.Quote{}, nil
	}
	out := make([]models.Quote, hi-lo)
	copy(out, qs[lo:hi])
	return out, nil
}

func (m *MemoryStore) Latest(ctx context.Context, symbol string, n int) ([]models.Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	qs := m.quotes[symbol]
	if n <= 0 || len(qs) == 0 {
		return []models.Quote{}, nil
	}
	if n > len(qs) {
		n = len(qs)
	}
	out := make([]models.Quote, n)
	copy(out, qs[len(qs)-n:])
	return out, nil
}

func (m *MemoryStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for symbol, qs := range m.quotes {
		i := sort.Search(len(qs), func(i int) bool { return !qs[i].Timestamp.Before(before) })
		if i == 0 {
			continue
		}
		removed += int64(i)
		if i == len(qs) {
			delete(m.quotes, symbol)
			continue
		}
		m.quotes[symbol] = append([]models.Quote(nil), qs[i:]...)
	}
	return removed, nil
}

func (m *MemoryStore) Close() error { return nil }
