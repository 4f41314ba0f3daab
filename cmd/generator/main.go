package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/quote-fanout/cmd/generator/internal/generator"
	"github.com/shubham-shewale/quote-fanout/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	instruments, err := generator.LoadInstruments(cfg.Generator.InstrumentsFile)
	if err != nil {
		logger.Fatal("Failed to load instruments", zap.Error(err), zap.String("file", cfg.Generator.InstrumentsFile))
	}

	clock := generator.RealClock{}

	// Ensure the ticks topic and its dead-letter topic exist
	generator.NewTopicCreator(logger, generator.NewKafkaDialer(10*time.Second), clock, cfg.Kafka.Partitions).
		Create(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.DeadLetterTopic)

	writer := &kafka.Writer{
		Addr:  kafka.TCP(cfg.Kafka.Brokers...),
		Topic: cfg.Kafka.Topic,
		// Hash keeps every symbol on one partition, which the consumer's
		// per-symbol ordering and SeqID dedup rely on
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}

	gen := generator.NewFeedGenerator(logger, writer, instruments, generator.NewRand(time.Now().UnixNano()), clock, cfg.Generator.Interval)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		gen.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received")
	cancel()
	<-done

	// Flush Kafka Buffer
	if err := writer.Close(); err != nil {
		logger.Error("Error closing Kafka writer", zap.Error(err))
	} else {
		logger.Info("Kafka writer closed cleanly")
	}
}
