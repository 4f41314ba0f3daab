// Package generator produces a synthetic price feed on Kafka for local runs.
package generator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shubham-shewale/quote-fanout/pkg/models"
)

const Source = "generator"

var two = decimal.NewFromInt(2)

type FeedGenerator struct {
	logger      *zap.Logger
	writer      KafkaWriter
	instruments []Instrument
	rand        Rand
	clock       Clock
	interval    time.Duration
	seqCounters map[string]int64
}

func NewFeedGenerator(
	logger *zap.Logger,
	writer KafkaWriter,
	instruments []Instrument,
	rnd Rand,
	clock Clock,
	interval time.Duration,
) *FeedGenerator {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &FeedGenerator{
		logger:      logger,
		writer:      writer,
		instruments: instruments,
		rand:        rnd,
		clock:       clock,
		interval:    interval,
		seqCounters: make(map[string]int64),
	}
}

// Next builds the next event for a randomly picked instrument.
func (g *FeedGenerator) Next() models.PriceEvent {
	in := g.instruments[g.rand.Intn(len(g.instruments))]

	fluctuation := decimal.NewFromFloat((g.rand.Float64() * 10) - 5)
	price := in.BasePrice.Add(fluctuation).Round(2)
	if !price.IsPositive() {
		price = in.BasePrice
	}
	half := in.Spread.Div(two)
	g.seqCounters[in.Symbol]++

	eventType := models.EventTrade
	if g.seqCounters[in.Symbol]%4 == 0 {
		eventType = models.EventBBOUpdate
	}

	return models.PriceEvent{
		Symbol:    in.Symbol,
		Price:     price,
		BidPrice:  price.Sub(half),
		AskPrice:  price.Add(half),
		Volume:    decimal.NewFromInt(int64(100 * (1 + g.rand.Intn(10)))),
		Timestamp: g.clock.Now().UnixMicro(),
		Exchange:  in.Exchange,
		EventType: eventType,
		SeqID:     g.seqCounters[in.Symbol],
		Source:    Source,
	}
}

func (g *FeedGenerator) Run(ctx context.Context) {
	symbols := make([]string, len(g.instruments))
	for i, in := range g.instruments {
		symbols[i] = in.Symbol
	}
	g.logger.Info("Generator Started", zap.Strings("tickers", symbols), zap.Duration("interval", g.interval))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if len(g.instruments) == 0 {
				g.clock.Sleep(1 * time.Second)
				continue
			}

			ev := g.Next()
			payload, err := json.Marshal(ev)
			if err != nil {
				g.logger.Error("JSON Marshal Error", zap.Error(err))
				continue
			}

			err = g.writer.WriteMessages(ctx, kafka.Message{
				Key:   []byte(ev.Symbol), // Key ensures partition ordering
				Value: payload,
			})
			if err != nil {
				g.logger.Error("Kafka Write Error", zap.Error(err))
			} else {
				g.logger.Debug("Sent update", zap.String("symbol", ev.Symbol), zap.String("price", ev.Price.String()))
			}

			g.clock.Sleep(g.interval)
		}
	}
}
