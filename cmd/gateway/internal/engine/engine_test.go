package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/engine"
	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/fanout"
	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/history"
	"github.com/shubham-shewale/quote-fanout/pkg/config"
	"github.com/shubham-shewale/quote-fanout/pkg/indicator"
	"github.com/shubham-shewale/quote-fanout/pkg/models"
)

var now = time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)

func testConfig() config.EngineConfig {
	return config.EngineConfig{
		Shards:            4,
		SinkBuffer:        16,
		IngestStripes:     8,
		RSIPeriod:         14,
		IndicatorLookback: 30 * 24 * time.Hour,
	}
}

func setup() (*engine.Engine, *history.MemoryStore) {
	store := history.NewMemoryStore()
	e := engine.New(testConfig(), store, zap.NewNop()).WithClock(func() time.Time { return now })
	return e, store
}

func tick(symbol string, price float64, at time.Time) models.PriceEvent {
	p := decimal.NewFromFloat(price)
	return models.PriceEvent{
		Symbol:    symbol,
		Price:     p,
		BidPrice:  p,
		AskPrice:  p,
		Volume:    decimal.NewFromInt(1),
		Timestamp: at.UnixMicro(),
	}
}

func next(t *testing.T, sink *fanout.Sink) fanout.Message {
	t.Helper()
	select {
	case m, ok := <-sink.C():
		if !ok {
			t.Fatal("Sink closed unexpectedly")
		}
		return m
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for a message")
	}
	return fanout.Message{}
}

func TestEngine_SubscribeAndReceive(t *testing.T) {
	e, _ := setup()
	ctx := context.Background()

	if err := e.Subscribe("h1", "AAPL"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sink := e.Sink("h1")

	if err := e.HandleUpdate(ctx, tick("AAPL", 190.5, now)); err != nil {
		t.Fatalf("update: %v", err)
	}
	m := next(t, sink)
	if m.Kind != fanout.KindUpdate || m.Update.Price.String() != "190.5" {
		t.Errorf("Unexpected message %+v", m)
	}

	// other symbols are not delivered
	_ = e.HandleUpdate(ctx, tick("TSLA", 700, now))
	if sink.Len() != 0 {
		t.Error("Received an update for a symbol not subscribed to")
	}
}

func TestEngine_LastUnsubscribeTearsDownChannel(t *testing.T) {
	e, _ := setup()
	_ = e.Subscribe("h1", "AAPL")
	_ = e.Subscribe("h2", "AAPL")

	if got := e.Stats().Channels.ActiveChannels; got != 1 {
		t.Fatalf("Expected 1 channel, got %d", got)
	}

	e.Unsubscribe("h1")
	if got := e.Stats().Channels.ActiveChannels; got != 1 {
		t.Errorf("Channel must stay while h2 is subscribed, got %d", got)
	}

	e.OnDisconnect("h2")
	if got := e.Stats().Channels.ActiveChannels; got != 0 {
		t.Errorf("Expected channel torn down, got %d", got)
	}

	e.Unsubscribe("never-seen")
}

func TestEngine_LatestSnapshot_ReadThrough(t *testing.T) {
	e, store := setup()
	ctx := context.Background()

	if _, ok := e.LatestSnapshot(ctx, "GOOG"); ok {
		t.Error("Expected no snapshot for an unknown symbol")
	}

	_ = e.HandleUpdate(ctx, tick("GOOG", 140, now.Add(-time.Minute)))
	_ = e.HandleUpdate(ctx, tick("GOOG", 150, now))
	snap, ok := e.LatestSnapshot(ctx, "GOOG")
	if !ok || snap.HighPrice.String() != "150" || snap.LowPrice.String() != "140" {
		t.Fatalf("Unexpected snapshot %+v", snap)
	}

	if !e.InvalidateSnapshot("GOOG") {
		t.Fatal("Expected invalidation to drop the snapshot")
	}
	snap, ok = e.LatestSnapshot(ctx, "GOOG")
	if !ok {
		t.Fatal("Expected fallback to history after invalidation")
	}
	if snap.LastPrice.String() != "150" || !snap.HighPrice.Equal(snap.LowPrice) {
		t.Errorf("Expected single-point envelope at 150, got %+v", snap)
	}

	// a history-only symbol is still visible
	_ = store.Append(ctx, models.Quote{Symbol: "MSFT", Price: decimal.NewFromInt(420), Timestamp: now})
	if snap, ok := e.LatestSnapshot(ctx, "MSFT"); !ok || snap.LastPrice.String() != "420" {
		t.Errorf("Expected MSFT from history, got %+v (%v)", snap, ok)
	}
}

func TestEngine_Indicators(t *testing.T) {
	e, _ := setup()
	ctx := context.Background()

	for i, p := range []float64{10, 20, 30, 40, 50} {
		_ = e.HandleUpdate(ctx, tick("AAPL", p, now.Add(time.Duration(i-5)*time.Hour)))
	}
	// outside the lookback
	_ = e.HandleUpdate(ctx, tick("AAPL", 1000, now.Add(-40*24*time.Hour)))

	set, err := e.Indicators(ctx, "AAPL", 5)
	if err != nil {
		t.Fatalf("indicators: %v", err)
	}
	if got := set["SMA_5"].StringFixed(indicator.Scale); got != "30.0000" {
		t.Errorf("SMA_5 = %s, want 30.0000", got)
	}
	if got := set["RSI_14"]; !got.IsZero() {
		t.Errorf("RSI_14 with too little data should be 0, got %s", got)
	}
	if _, ok := set["VOLATILITY"]; !ok {
		t.Error("Expected VOLATILITY in the set")
	}

	if _, err := e.Indicators(ctx, "AAPL", 0); !errors.Is(err, engine.ErrInvalidPeriod) {
		t.Errorf("Expected ErrInvalidPeriod, got %v", err)
	}

	empty, err := e.Indicators(ctx, "NOPE", 5)
	if err != nil || len(empty) != 0 {
		t.Errorf("Expected empty set for unknown symbol, got %v (%v)", empty, err)
	}
}

func TestEngine_Analyze(t *testing.T) {
	e, _ := setup()
	ctx := context.Background()

	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		_ = e.HandleUpdate(ctx, tick("TSLA", 100+float64(i)*2, day.Add(time.Duration(i)*time.Hour)))
	}

	a, err := e.Analyze(ctx, "TSLA", day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if a.Trend != indicator.Bullish {
		t.Errorf("Expected bullish trend, got %s (slope %f)", a.Trend, a.Slope)
	}
	if a.Quotes != 6 {
		t.Errorf("Expected 6 quotes, got %d", a.Quotes)
	}
	if len(a.Candles) != 1 || a.Candles[0].Open.String() != "100" || a.Candles[0].Close.String() != "110" {
		t.Errorf("Unexpected candles %+v", a.Candles)
	}
	if _, ok := a.Indicators["SMA_20"]; !ok {
		t.Error("Expected SMA_20 in the analysis indicators")
	}

	if _, err := e.Analyze(ctx, "NOPE", day, day.Add(time.Hour)); !errors.Is(err, engine.ErrNoData) {
		t.Errorf("Expected ErrNoData, got %v", err)
	}
}

func TestEngine_Shutdown(t *testing.T) {
	e, _ := setup()
	_ = e.Subscribe("h1", "AAPL")
	_ = e.Subscribe("h2", "GOOG")
	s1, s2 := e.Sink("h1"), e.Sink("h2")

	e.Shutdown()
	e.Shutdown()

	for _, sink := range []*fanout.Sink{s1, s2} {
		m := next(t, sink)
		if m.Kind != fanout.KindStreamEnded {
			t.Errorf("Expected stream_ended, got %s", m.Kind)
		}
		if _, ok := <-sink.C(); ok {
			t.Error("Expected sink closed after stream_ended")
		}
	}

	if err := e.Subscribe("h3", "AAPL"); !errors.Is(err, engine.ErrShutdown) {
		t.Errorf("Expected ErrShutdown, got %v", err)
	}
	if err := e.HandleUpdate(context.Background(), tick("AAPL", 1, now)); !errors.Is(err, engine.ErrShutdown) {
		t.Errorf("Expected ErrShutdown, got %v", err)
	}
	if st := e.Stats(); st.Channels.ActiveChannels != 0 || st.Handles != 0 {
		t.Errorf("Expected nothing left after shutdown, got %+v", st)
	}
}

func TestEngine_ConcurrentChurnAndIngest(t *testing.T) {
	e, _ := setup()
	ctx := context.Background()
	symbols := []string{"AAPL", "GOOG", "TSLA"}

	stop := make(chan struct{})
	var producers sync.WaitGroup
	for _, sym := range symbols {
		producers.Add(1)
		go func(sym string) {
			defer producers.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				_ = e.HandleUpdate(ctx, tick(sym, 100+float64(i%10), now))
			}
		}(sym)
	}

	var clients sync.WaitGroup
	for c := 0; c < 20; c++ {
		clients.Add(1)
		go func(c int) {
			defer clients.Done()
			handle := "client-" + string(rune('a'+c))
			for i := 0; i < 50; i++ {
				_ = e.Subscribe(handle, symbols[(c+i)%len(symbols)])
				if i%3 == 0 {
					e.Unsubscribe(handle)
				}
			}
			e.OnDisconnect(handle)
		}(c)
	}
	clients.Wait()
	close(stop)
	producers.Wait()

	st := e.Stats()
	if st.Channels.ActiveChannels != 0 {
		t.Errorf("Expected all channels torn down, got %d", st.Channels.ActiveChannels)
	}
	if st.Handles != 0 {
		t.Errorf("Expected no handles left, got %d", st.Handles)
	}
}

func TestEngine_SubscribeRacingShutdown(t *testing.T) {
	for round := 0; round < 50; round++ {
		e, _ := setup()

		const n = 8
		handles := make([]string, n)
		sinks := make([]*fanout.Sink, n)
		errs := make([]error, n)
		for i := range handles {
			handles[i] = "h" + string(rune('a'+i))
			sinks[i] = e.Sink(handles[i])
		}

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := range handles {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				errs[i] = e.Subscribe(handles[i], "AAPL")
			}(i)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			e.Shutdown()
		}()
		close(start)
		wg.Wait()

		if got := e.Stats().Channels.ActiveChannels; got != 0 {
			t.Fatalf("round %d: %d channels outlived shutdown", round, got)
		}
		for i, err := range errs {
			if err != nil {
				if !errors.Is(err, engine.ErrShutdown) {
					t.Fatalf("round %d: unexpected error %v", round, err)
				}
				continue
			}
			// accepted before shutdown, so the stream must have been ended
			var ended bool
			for m := range sinks[i].C() {
				if m.Kind == fanout.KindStreamEnded {
					ended = true
				}
			}
			if !ended {
				t.Fatalf("round %d: %s subscribed but never saw stream_ended", round, handles[i])
			}
		}
	}
}
