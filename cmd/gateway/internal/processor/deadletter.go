package processor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/quote-fanout/pkg/config"
)

// Header keys added to dead-lettered messages.
const (
	HeaderError       = "error"
	HeaderSourceTopic = "source_topic"
	HeaderPartition   = "source_partition"
	HeaderOffset      = "source_offset"
	HeaderFailedAt    = "failed_at"
)

var _ Reporter = (*DeadLetterWriter)(nil)

// DeadLetterWriter republishes messages that could not be applied, unchanged,
// with the failure attached as headers. Nothing retries them here.
type DeadLetterWriter struct {
	writer KafkaWriter
	logger Logger
	clock  func() time.Time
}

func NewDeadLetterWriter(writer KafkaWriter, logger Logger) *DeadLetterWriter {
	return &DeadLetterWriter{writer: writer, logger: logger, clock: time.Now}
}

// NewKafkaDeadLetterWriter writes to cfg.DeadLetterTopic, keyed like the
// source so per-symbol order is kept.
func NewKafkaDeadLetterWriter(cfg config.KafkaConfig, logger Logger) *DeadLetterWriter {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.DeadLetterTopic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
	}
	return NewDeadLetterWriter(w, logger)
}

func (d *DeadLetterWriter) Report(ctx context.Context, m kafka.Message, cause error) error {
	headers := make([]kafka.Header, 0, len(m.Headers)+5)
	headers = append(headers, m.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderError, Value: []byte(cause.Error())},
		kafka.Header{Key: HeaderSourceTopic, Value: []byte(m.Topic)},
		kafka.Header{Key: HeaderPartition, Value: []byte(strconv.Itoa(m.Partition))},
		kafka.Header{Key: HeaderOffset, Value: []byte(strconv.FormatInt(m.Offset, 10))},
		kafka.Header{Key: HeaderFailedAt, Value: []byte(d.clock().UTC().Format(time.RFC3339Nano))},
	)

	err := d.writer.WriteMessages(ctx, kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("write dead letter: %w", err)
	}
	d.logger.Warn("Message dead-lettered", zap.String("key", string(m.Key)), zap.String("error", cause.Error()))
	return nil
}

func (d *DeadLetterWriter) Close() error {
	return d.writer.Close()
}
