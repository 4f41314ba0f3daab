package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/engine"
	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/gateway"
	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/history"
	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/processor"
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

	var rdb *redis.Client
	if cfg.History.Backend == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
	}

	store, err := history.Open(cfg.History, rdb)
	if err != nil {
		logger.Fatal("Failed to open quote history", zap.Error(err), zap.String("backend", cfg.History.Backend))
	}

	eng := engine.New(cfg.Engine, store, logger)
	wsHub := hub.NewHub(eng, logger)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	retention := history.NewRetention(store, cfg.History.Retention, cfg.History.PruneInterval, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		retention.Run(ctx)
	}()

	reader := processor.NewKafkaReader(cfg.Kafka)
	deadLetters := processor.NewKafkaDeadLetterWriter(cfg.Kafka, logger)
	proc := processor.NewProcessor(cfg.Processor, logger, reader, eng, deadLetters)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := proc.Run(ctx); err != nil {
			logger.Error("Processor stopped", zap.Error(err))
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.Handler(wsHub, logger, cfg.Gateway.ValidTickers, cfg.Gateway.SendBuffer))

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port), zap.String("history", cfg.History.Backend))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("Shutdown signal received")

	// Stop ingesting first so the last updates reach subscribers before
	// their streams end.
	cancel()
	if err := reader.Close(); err != nil {
		logger.Error("Error closing reader", zap.Error(err))
	}
	wg.Wait()

	eng.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	if err := deadLetters.Close(); err != nil {
		logger.Error("Error closing dead-letter writer", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		logger.Error("Error closing quote history", zap.Error(err))
	}
	if rdb != nil {
		rdb.Close()
	}

	logger.Info("Shutdown Complete", zap.Any("stats", eng.Stats()), zap.Any("ingest", proc.Stats()))
}
