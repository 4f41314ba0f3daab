package ingest_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/fanout"
	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/history"
	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/ingest"
	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/snapshot"
	"github.com/shubham-shewale/quote-fanout/pkg/models"
)

type failingHistory struct{ err error }

func (f failingHistory) Append(ctx context.Context, q models.Quote) error { return f.err }

type fixture struct {
	pipeline  *ingest.Pipeline
	snapshots *snapshot.Store
	history   *history.MemoryStore
	manager   *fanout.Manager
}

func setup() fixture {
	f := fixture{
		snapshots: snapshot.NewStore(4),
		history:   history.NewMemoryStore(),
		manager:   fanout.NewManager(4, zap.NewNop()),
	}
	f.pipeline = ingest.NewPipeline(8, f.snapshots, f.history, f.manager, zap.NewNop())
	return f
}

var t0 = time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC)

func event(symbol string, price float64, at time.Time) models.PriceEvent {
	p := decimal.NewFromFloat(price)
	return models.PriceEvent{
		Symbol:    symbol,
		Price:     p,
		BidPrice:  p.Sub(decimal.NewFromFloat(0.05)),
		AskPrice:  p.Add(decimal.NewFromFloat(0.05)),
		Volume:    decimal.NewFromInt(10),
		Timestamp: at.UnixMicro(),
		Exchange:  "NYSE",
		EventType: models.EventTrade,
	}
}

func TestPipeline_HandleUpdate_CommitsAndPublishes(t *testing.T) {
	f := setup()
	sink := fanout.NewSink("h1", 8)
	f.manager.Attach("AAPL", sink)

	ctx := context.Background()
	for i, price := range []float64{100, 105, 95} {
		if err := f.pipeline.HandleUpdate(ctx, event("AAPL", price, t0.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("HandleUpdate: %v", err)
		}
	}

	snap, ok := f.snapshots.Get("AAPL")
	if !ok {
		t.Fatal("Expected snapshot for AAPL")
	}
	if snap.HighPrice.String() != "105" || snap.LowPrice.String() != "95" || snap.LastPrice.String() != "95" {
		t.Errorf("Unexpected envelope high=%s low=%s last=%s", snap.HighPrice, snap.LowPrice, snap.LastPrice)
	}
	if snap.Updates != 3 {
		t.Errorf("Expected 3 merges, got %d", snap.Updates)
	}

	quotes, _ := f.history.Latest(ctx, "AAPL", 10)
	if len(quotes) != 3 {
		t.Fatalf("Expected 3 quotes in history, got %d", len(quotes))
	}
	for i, q := range quotes {
		if q.Seq != int64(i+1) {
			t.Errorf("Quote %d has seq %d", i, q.Seq)
		}
	}

	if sink.Len() != 3 {
		t.Fatalf("Expected 3 delivered updates, got %d", sink.Len())
	}
	last := decimal.Zero
	for i := 0; i < 3; i++ {
		m := <-sink.C()
		if m.Kind != fanout.KindUpdate || m.Symbol != "AAPL" {
			t.Errorf("Unexpected message %+v", m)
		}
		last = m.Update.Price
	}
	if last.String() != "95" {
		t.Errorf("Updates delivered out of order, last price %s", last)
	}

	st := f.pipeline.Stats()
	if st.Processed != 3 || st.Published != 3 || st.Failed != 0 || st.Dropped != 0 {
		t.Errorf("Unexpected stats %+v", st)
	}
}

func TestPipeline_HandleUpdate_InvalidEvent(t *testing.T) {
	f := setup()
	ctx := context.Background()

	bad := []models.PriceEvent{
		{},
		event("AAPL", 0, t0),
		event("AAPL", -1, t0),
		func() models.PriceEvent { e := event("AAPL", 10, t0); e.Volume = decimal.NewFromInt(-1); return e }(),
		func() models.PriceEvent { e := event("AAPL", 10, t0); e.BidPrice = decimal.NewFromInt(-1); return e }(),
	}
	for i, ev := range bad {
		err := f.pipeline.HandleUpdate(ctx, ev)
		if !errors.Is(err, ingest.ErrInvalidEvent) {
			t.Errorf("Case %d: expected ErrInvalidEvent, got %v", i, err)
		}
	}

	if f.snapshots.Len() != 0 {
		t.Error("Invalid events must not touch the snapshot store")
	}
	if got := f.pipeline.Stats().Failed; got != uint64(len(bad)) {
		t.Errorf("Expected %d failures, got %d", len(bad), got)
	}
}

func TestPipeline_HandleUpdate_AppendFailureKeepsSnapshot(t *testing.T) {
	snaps := snapshot.NewStore(1)
	manager := fanout.NewManager(1, zap.NewNop())
	sink := fanout.NewSink("h1", 4)
	manager.Attach("TSLA", sink)

	boom := errors.New("disk full")
	p := ingest.NewPipeline(1, snaps, failingHistory{err: boom}, manager, zap.NewNop())

	err := p.HandleUpdate(context.Background(), event("TSLA", 700, t0))
	if !errors.Is(err, ingest.ErrAppendFailed) {
		t.Fatalf("Expected ErrAppendFailed, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Expected the cause to be wrapped, got %v", err)
	}
	if _, ok := snaps.Get("TSLA"); ok {
		t.Error("Snapshot must not be committed when the append failed")
	}
	if sink.Len() != 0 {
		t.Error("Nothing should be published when the append failed")
	}
}

func TestPipeline_HandleUpdate_NoSubscribersIsUnrouted(t *testing.T) {
	f := setup()
	if err := f.pipeline.HandleUpdate(context.Background(), event("GOOG", 140, t0)); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}
	if f.manager.ActiveChannels() != 0 {
		t.Error("Publishing to nobody must not create a channel")
	}
	if _, ok := f.snapshots.Get("GOOG"); !ok {
		t.Error("Snapshot should still be committed")
	}
}

func TestPipeline_HandleUpdate_SlowSubscriberCountsDrops(t *testing.T) {
	f := setup()
	f.manager.Attach("MSFT", fanout.NewSink("slow", 1))

	for i := 0; i < 4; i++ {
		_ = f.pipeline.HandleUpdate(context.Background(), event("MSFT", 400+float64(i), t0.Add(time.Duration(i)*time.Second)))
	}

	st := f.pipeline.Stats()
	if st.Processed != 4 {
		t.Errorf("Drops must not fail ingestion, processed=%d", st.Processed)
	}
	if st.Published != 1 || st.Dropped != 3 {
		t.Errorf("Expected 1 published and 3 dropped, got %+v", st)
	}
}

func TestPipeline_HandleUpdate_MissingTimestampUsesClock(t *testing.T) {
	f := setup()
	f.pipeline.WithClock(func() time.Time { return t0 })

	ev := event("AMZN", 180, t0)
	ev.Timestamp = 0
	if err := f.pipeline.HandleUpdate(context.Background(), ev); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}
	snap, _ := f.snapshots.Get("AMZN")
	if !snap.LastUpdated.Equal(t0) {
		t.Errorf("Expected clock time %v, got %v", t0, snap.LastUpdated)
	}
}

func TestPipeline_HandleUpdate_ConcurrentSymbols(t *testing.T) {
	f := setup()
	symbols := []string{"AAPL", "GOOG", "TSLA", "AMZN", "MSFT"}
	const perSymbol = 200

	var wg sync.WaitGroup
	for _, sym := range symbols {
		for w := 0; w < 2; w++ {
			wg.Add(1)
			go func(sym string, w int) {
				defer wg.Done()
				for i := 0; i < perSymbol/2; i++ {
					price := 100 + float64((w*perSymbol/2+i)%50)
					_ = f.pipeline.HandleUpdate(context.Background(), event(sym, price, t0.Add(time.Duration(i)*time.Millisecond)))
				}
			}(sym, w)
		}
	}
	wg.Wait()

	for _, sym := range symbols {
		snap, ok := f.snapshots.Get(sym)
		if !ok {
			t.Fatalf("Missing snapshot for %s", sym)
		}
		if snap.Updates != perSymbol {
			t.Errorf("%s: expected %d merges, got %d (lost update)", sym, perSymbol, snap.Updates)
		}
		if snap.HighPrice.String() != "149" || snap.LowPrice.String() != "100" {
			t.Errorf("%s: unexpected envelope %s..%s", sym, snap.LowPrice, snap.HighPrice)
		}
		quotes, _ := f.history.Latest(context.Background(), sym, perSymbol*2)
		if len(quotes) != perSymbol {
			t.Errorf("%s: expected %d quotes, got %d", sym, perSymbol, len(quotes))
		}
	}
}
