package snapshot

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shubham-shewale/quote-fanout/pkg/models"
)

func event(price float64) models.PriceEvent {
	return models.PriceEvent{
		Symbol:   "AAPL",
		Price:    decimal.NewFromFloat(price),
		BidPrice: decimal.NewFromFloat(price - 0.01),
		AskPrice: decimal.NewFromFloat(price + 0.01),
		Volume:   decimal.NewFromInt(100),
		Exchange: "NASDAQ",
	}
}

func TestMerge_First(t *testing.T) {
	now := time.Unix(1000, 0)
	snap := Merge(nil, event(150), now)

	if !snap.HighPrice.Equal(snap.LastPrice) || !snap.LowPrice.Equal(snap.LastPrice) {
		t.Errorf("First merge should set high=low=last, got %+v", snap)
	}
	if !snap.LastUpdated.Equal(now) || snap.Updates != 1 {
		t.Errorf("Unexpected LastUpdated/Updates: %v/%d", snap.LastUpdated, snap.Updates)
	}
}

func TestMerge_EnvelopeProperty(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	now := time.Unix(1000, 0)

	var prev *models.Snapshot
	for i := 0; i < 500; i++ {
		ev := event(50 + r.Float64()*100)
		next := Merge(prev, ev, now)

		if next.HighPrice.LessThan(next.LastPrice) || next.LowPrice.GreaterThan(next.LastPrice) {
			t.Fatalf("high >= last >= low violated at %d: %+v", i, next)
		}
		if prev != nil {
			if next.HighPrice.LessThan(prev.HighPrice) {
				t.Fatalf("High decreased at %d", i)
			}
			if next.LowPrice.GreaterThan(prev.LowPrice) {
				t.Fatalf("Low increased at %d", i)
			}
		}
		prev = &next
	}
}

func TestMerge_ClockNeverMovesBack(t *testing.T) {
	t1 := time.Unix(2000, 0)
	first := Merge(nil, event(10), t1)
	second := Merge(&first, event(11), t1.Add(-time.Second))

	if !second.LastUpdated.Equal(t1) {
		t.Errorf("LastUpdated moved backwards: %v", second.LastUpdated)
	}
	if !second.LastPrice.Equal(decimal.NewFromInt(11)) {
		t.Errorf("Last price should still be overwritten, got %s", second.LastPrice)
	}
}

func TestStore_GetPutInvalidate(t *testing.T) {
	s := NewStore(4)

	if _, ok := s.Get("AAPL"); ok {
		t.Error("Empty store should not have AAPL")
	}

	s.Put(Merge(nil, event(100), time.Now()))
	if snap, ok := s.Get("AAPL"); !ok || !snap.LastPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Unexpected snapshot %+v (%v)", snap, ok)
	}
	if s.Len() != 1 || s.Symbols()[0] != "AAPL" {
		t.Errorf("Unexpected symbols %v", s.Symbols())
	}

	if !s.Invalidate("AAPL") {
		t.Error("Invalidate should report the removed snapshot")
	}
	if s.Invalidate("AAPL") {
		t.Error("Second invalidate should report nothing removed")
	}
}

func TestStore_ConsistentReads(t *testing.T) {
	s := NewStore(1)
	s.Put(Merge(nil, event(1), time.Now()))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		prev, _ := s.Get("AAPL")
		for i := 2; i < 1000; i++ {
			next := Merge(&prev, event(float64(i)), time.Now())
			s.Put(next)
			prev = next
		}
	}()

	for i := 0; i < 1000; i++ {
		snap, _ := s.Get("AAPL")
		// bid is always last-0.01, a torn read would break that
		if !snap.BidPrice.Equal(snap.LastPrice.Sub(decimal.NewFromFloat(0.01))) {
			t.Fatalf("Observed a partially updated snapshot: %+v", snap)
		}
	}
	wg.Wait()
}
