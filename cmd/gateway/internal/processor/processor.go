// Package processor consumes price events from Kafka and feeds them to the
// engine through a symbol-sharded worker pool.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/shard"
	"github.com/shubham-shewale/quote-fanout/pkg/config"
	"github.com/shubham-shewale/quote-fanout/pkg/models"
)

var ErrDecode = errors.New("decode price event")

type Stats struct {
	Consumed   uint64 `json:"consumed"`
	Applied    uint64 `json:"applied"`
	Duplicates uint64 `json:"duplicates"`
	Failed     uint64 `json:"failed"`
}

type Processor struct {
	logger     Logger
	reader     KafkaReader
	handler    Handler
	reporter   Reporter
	numWorkers int
	queueSize  int

	consumed   atomic.Uint64
	applied    atomic.Uint64
	duplicates atomic.Uint64
	failed     atomic.Uint64
}

// NewProcessor builds a processor. reporter may be nil, in which case failed
// messages are only logged.
func NewProcessor(cfg config.ProcessorConfig, logger Logger, reader KafkaReader, handler Handler, reporter Reporter) *Processor {
	numWorkers := cfg.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 1
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Processor{
		logger:     logger,
		reader:     reader,
		handler:    handler,
		reporter:   reporter,
		numWorkers: numWorkers,
		queueSize:  queueSize,
	}
}

// NewKafkaReader returns a consumer-group reader for the ticks topic.
func NewKafkaReader(cfg config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 200,
		MaxBytes: 10e6,
		MaxWait:  200 * time.Millisecond,
		// Auto-commit; redelivered messages are dropped by the SeqID check
		CommitInterval:    time.Second,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    10 * time.Second,
	})
}

// Run blocks until ctx is done, then drains the workers.
func (p *Processor) Run(ctx context.Context) error {
	workerChans := make([]chan kafka.Message, p.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < p.numWorkers; i++ {
		workerChans[i] = make(chan kafka.Message, p.queueSize)
		wg.Add(1)
		go p.worker(i, workerChans[i], &wg)
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		p.logger.Info("Processor Started", zap.Int("workers", p.numWorkers))
		for {
			m, err := p.reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
					return
				}
				p.logger.Error("Kafka Read Error", zap.Error(err))
				continue
			}
			p.consumed.Add(1)

			// Deterministic Sharding: Same symbol always goes to same worker
			workerID := shard.IndexBytes(m.Key, p.numWorkers)

			// Blocking hand-off: a slow worker holds back the reader instead
			// of losing snapshot and history updates.
			select {
			case workerChans[workerID] <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()
	p.logger.Info("Shutdown signal received, stopping processor...")
	<-readerDone

	for _, ch := range workerChans {
		close(ch)
	}
	p.logger.Info("Waiting for workers to drain...")
	wg.Wait()

	return nil
}

func (p *Processor) worker(id int, msgs <-chan kafka.Message, wg *sync.WaitGroup) {
	defer wg.Done()
	ctx := context.Background()

	// Local state for deduplication (only works because of deterministic sharding)
	lastSeq := make(map[string]int64)

	for m := range msgs {
		var ev models.PriceEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			p.logger.Error("JSON Unmarshal Error", zap.Error(err))
			p.fail(ctx, m, fmt.Errorf("%w: %w", ErrDecode, err))
			continue
		}

		// SeqID 0 means the producer does not sequence its events
		if ev.SeqID > 0 && ev.SeqID <= lastSeq[ev.Symbol] {
			p.duplicates.Add(1)
			p.logger.Debug("Skipping duplicate update", zap.String("symbol", ev.Symbol), zap.Int64("seq_id", ev.SeqID))
			continue
		}

		if err := p.handler.HandleUpdate(ctx, ev); err != nil {
			p.logger.Error("Update rejected", zap.Error(err), zap.String("symbol", ev.Symbol), zap.Int64("seq_id", ev.SeqID))
			p.fail(ctx, m, err)
			continue
		}

		p.applied.Add(1)
		p.logger.Debug("Processed", zap.String("symbol", ev.Symbol), zap.Int("worker_id", id))
		if ev.SeqID > 0 {
			lastSeq[ev.Symbol] = ev.SeqID
		}
	}
}

func (p *Processor) fail(ctx context.Context, m kafka.Message, cause error) {
	p.failed.Add(1)
	if p.reporter == nil {
		return
	}
	if err := p.reporter.Report(ctx, m, cause); err != nil {
		p.logger.Error("Dead-letter write failed", zap.Error(err), zap.String("key", string(m.Key)))
	}
}

func (p *Processor) Stats() Stats {
	return Stats{
		Consumed:   p.consumed.Load(),
		Applied:    p.applied.Load(),
		Duplicates: p.duplicates.Load(),
		Failed:     p.failed.Load(),
	}
}
