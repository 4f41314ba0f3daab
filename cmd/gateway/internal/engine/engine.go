// Package engine wires the snapshot store, quote history, fan-out and
// subscription registry into the single object the transports talk to.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/fanout"
	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/history"
	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/ingest"
	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/registry"
	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/snapshot"
	"github.com/shubham-shewale/quote-fanout/pkg/config"
	"github.com/shubham-shewale/quote-fanout/pkg/indicator"
	"github.com/shubham-shewale/quote-fanout/pkg/models"
)

// AnalysisPeriod is the SMA/EMA window used by Analyze.
const AnalysisPeriod = 20

var (
	ErrInvalidPeriod = errors.New("indicator period must be positive")
	ErrNoData        = errors.New("no market data available for analysis")
	ErrShutdown      = errors.New("engine is shut down")
)

// Analysis summarizes the price action of a symbol over a window.
type Analysis struct {
	Symbol     string             `json:"symbol"`
	From       time.Time          `json:"from"`
	To         time.Time          `json:"to"`
	Quotes     int                `json:"quotes"`
	Slope      float64            `json:"slope"`
	Trend      indicator.Trend    `json:"trend"`
	Indicators indicator.Set      `json:"indicators"`
	Candles    []indicator.Candle `json:"candles"`
	AnalyzedAt time.Time          `json:"analyzed_at"`
}

type Stats struct {
	Channels  fanout.Stats `json:"channels"`
	Ingest    ingest.Stats `json:"ingest"`
	Handles   int          `json:"handles"`
	Snapshots int          `json:"snapshots"`
}

type Engine struct {
	cfg       config.EngineConfig
	snapshots *snapshot.Store
	history   history.Store
	channels  *fanout.Manager
	registry  *registry.Registry
	pipeline  *ingest.Pipeline
	logger    *zap.Logger
	now       func() time.Time

	// held for reading by Subscribe and for writing by Shutdown, so no
	// subscription lands after the channels were closed
	lifecycle sync.RWMutex
	shutdown  atomic.Bool
}

func New(cfg config.EngineConfig, store history.Store, logger *zap.Logger) *Engine {
	channels := fanout.NewManager(cfg.Shards, logger)
	snapshots := snapshot.NewStore(cfg.Shards)

	return &Engine{
		cfg:       cfg,
		snapshots: snapshots,
		history:   store,
		channels:  channels,
		registry:  registry.New(channels, cfg.Shards, cfg.SinkBuffer, logger),
		pipeline:  ingest.NewPipeline(cfg.IngestStripes, snapshots, store, channels, logger),
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the clock used for indicator lookbacks and for events
// that carry no timestamp.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.pipeline.WithClock(now)
	return e
}

// Subscribe points handle at symbol. A handle follows one symbol at a time.
func (e *Engine) Subscribe(handle, symbol string) error {
	e.lifecycle.RLock()
	defer e.lifecycle.RUnlock()
	if e.shutdown.Load() {
		return ErrShutdown
	}
	return e.registry.Subscribe(handle, symbol)
}

func (e *Engine) Unsubscribe(handle string) {
	e.registry.Unsubscribe(handle)
}

// OnDisconnect releases everything held for handle and closes its sink.
func (e *Engine) OnDisconnect(handle string) {
	e.registry.Disconnect(handle)
}

// Sink is the queue the transport drains for handle.
func (e *Engine) Sink(handle string) *fanout.Sink {
	return e.registry.Sink(handle)
}

func (e *Engine) SymbolOf(handle string) (string, bool) {
	return e.registry.SymbolOf(handle)
}

func (e *Engine) HandleUpdate(ctx context.Context, ev models.PriceEvent) error {
	if e.shutdown.Load() {
		return ErrShutdown
	}
	return e.pipeline.HandleUpdate(ctx, ev)
}

// LatestSnapshot returns the in-memory snapshot of symbol. When none is held
// (after a restart or an invalidation) it falls back to the newest quote in
// history, which yields a snapshot with a single-point envelope.
func (e *Engine) LatestSnapshot(ctx context.Context, symbol string) (models.Snapshot, bool) {
	if snap, ok := e.snapshots.Get(symbol); ok {
		return snap, true
	}

	quotes, err := e.history.Latest(ctx, symbol, 1)
	if err != nil {
		e.logger.Warn("Snapshot history fallback failed", zap.String("symbol", symbol), zap.Error(err))
		return models.Snapshot{}, false
	}
	if len(quotes) == 0 {
		return models.Snapshot{}, false
	}
	q := quotes[0]
	return models.Snapshot{
		Symbol:      q.Symbol,
		LastPrice:   q.Price,
		BidPrice:    q.BidPrice,
		AskPrice:    q.AskPrice,
		Volume:      q.Volume,
		HighPrice:   q.Price,
		LowPrice:    q.Price,
		Exchange:    q.Exchange,
		LastUpdated: q.Timestamp,
		Updates:     0,
	}, true
}

// InvalidateSnapshot drops the cached snapshot of symbol.
func (e *Engine) InvalidateSnapshot(symbol string) bool {
	return e.snapshots.Invalidate(symbol)
}

func (e *Engine) History(ctx context.Context, symbol string, from, to time.Time) ([]models.Quote, error) {
	return e.history.Range(ctx, symbol, from, to)
}

// Indicators computes SMA/EMA over period, RSI over the configured RSI period
// and volatility, all over the configured lookback of history.
func (e *Engine) Indicators(ctx context.Context, symbol string, period int) (indicator.Set, error) {
	if period <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPeriod, period)
	}
	to := e.now()
	quotes, err := e.history.Range(ctx, symbol, to.Add(-e.cfg.IndicatorLookback), to)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", symbol, err)
	}
	if len(quotes) == 0 {
		return indicator.Set{}, nil
	}
	return indicator.Compute(indicator.Prices(quotes), period, e.rsiPeriod()), nil
}

// Analyze classifies the trend of symbol between from and to and attaches
// indicators and daily candles for the same window.
func (e *Engine) Analyze(ctx context.Context, symbol string, from, to time.Time) (Analysis, error) {
	quotes, err := e.history.Range(ctx, symbol, from, to)
	if err != nil {
		return Analysis{}, fmt.Errorf("load history for %s: %w", symbol, err)
	}
	if len(quotes) == 0 {
		return Analysis{}, fmt.Errorf("%w: %s", ErrNoData, symbol)
	}

	prices := indicator.Prices(quotes)
	slope := indicator.LinearTrendSlope(prices)
	trend := indicator.ClassifyTrend(slope)

	a := Analysis{
		Symbol:     symbol,
		From:       from,
		To:         to,
		Quotes:     len(quotes),
		Slope:      slope,
		Trend:      trend,
		Indicators: indicator.Compute(prices, AnalysisPeriod, e.rsiPeriod()),
		Candles:    indicator.DailyCandles(quotes),
		AnalyzedAt: e.now().UTC(),
	}
	e.logger.Debug("Market analysis completed",
		zap.String("symbol", symbol),
		zap.Int("quotes", a.Quotes),
		zap.String("trend", string(a.Trend)),
	)
	return a, nil
}

func (e *Engine) rsiPeriod() int {
	if e.cfg.RSIPeriod <= 0 {
		return 14
	}
	return e.cfg.RSIPeriod
}

func (e *Engine) Stats() Stats {
	return Stats{
		Channels:  e.channels.Stats(),
		Ingest:    e.pipeline.Stats(),
		Handles:   e.registry.Handles(),
		Snapshots: e.snapshots.Len(),
	}
}

// Shutdown ends every stream and closes every sink. Later subscribes and
// updates are rejected with ErrShutdown. Calling it again is a no-op.
func (e *Engine) Shutdown() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if !e.shutdown.CompareAndSwap(false, true) {
		return
	}
	closed := e.channels.Close()
	e.registry.Close()
	e.logger.Info("Engine shut down", zap.Int("channels", closed))
}
