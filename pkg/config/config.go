package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Engine    EngineConfig    `mapstructure:"engine"`
	History   HistoryConfig   `mapstructure:"history"`
	Generator GeneratorConfig `mapstructure:"generator"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type LoggerConfig struct {
	Level    string `mapstructure:"level"`    // debug, info, warn, error
	Encoding string `mapstructure:"encoding"` // json or console
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	Topic           string   `mapstructure:"topic"`
	GroupID         string   `mapstructure:"group_id"`
	DeadLetterTopic string   `mapstructure:"dead_letter_topic"`
	Partitions      int      `mapstructure:"partitions"`
}

type ProcessorConfig struct {
	NumWorkers int `mapstructure:"num_workers"`
	QueueSize  int `mapstructure:"queue_size"`
}

type GatewayConfig struct {
	ValidTickers []string `mapstructure:"valid_tickers"`
	SendBuffer   int      `mapstructure:"send_buffer"`
}

// EngineConfig tunes the fan-out engine.
type EngineConfig struct {
	Shards            int           `mapstructure:"shards"`
	SinkBuffer        int           `mapstructure:"sink_buffer"`
	IngestStripes     int           `mapstructure:"ingest_stripes"`
	RSIPeriod         int           `mapstructure:"rsi_period"`
	IndicatorLookback time.Duration `mapstructure:"indicator_lookback"`
}

// HistoryConfig selects the quote history backend.
type HistoryConfig struct {
	Backend       string        `mapstructure:"backend"` // memory, redis, sqlite, postgres
	DSN           string        `mapstructure:"dsn"`
	Retention     time.Duration `mapstructure:"retention"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

type GeneratorConfig struct {
	InstrumentsFile string        `mapstructure:"instruments_file"`
	Interval        time.Duration `mapstructure:"interval"`
}

var historyBackends = map[string]bool{"memory": true, "redis": true, "sqlite": true, "postgres": true}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Load .env into the process environment so APP_PORT etc. behave like real env vars
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	setDefaults(v)

	// "app.port" -> "APP_PORT"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv alone does not populate nested structs on Unmarshal
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "logger.level", "logger.encoding")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "kafka.brokers", "kafka.topic", "kafka.group_id", "kafka.dead_letter_topic", "kafka.partitions")
	bindEnv(v, "processor.num_workers", "processor.queue_size")
	bindEnv(v, "gateway.valid_tickers", "gateway.send_buffer")
	bindEnv(v, "engine.shards", "engine.sink_buffer", "engine.ingest_stripes", "engine.rsi_period", "engine.indicator_lookback")
	bindEnv(v, "history.backend", "history.dsn", "history.retention", "history.prune_interval")
	bindEnv(v, "generator.instruments_file", "generator.interval")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "market.price.updates")
	v.SetDefault("kafka.group_id", "price-stream-service")
	v.SetDefault("kafka.dead_letter_topic", "market.price.updates.dlq")
	v.SetDefault("kafka.partitions", 4)

	v.SetDefault("processor.num_workers", 4)
	v.SetDefault("processor.queue_size", 100)

	v.SetDefault("gateway.valid_tickers", []string{"AAPL", "GOOG", "TSLA", "AMZN", "MSFT"})
	v.SetDefault("gateway.send_buffer", 256)

	v.SetDefault("engine.shards", 32)
	v.SetDefault("engine.sink_buffer", 256)
	v.SetDefault("engine.ingest_stripes", 64)
	v.SetDefault("engine.rsi_period", 14)
	v.SetDefault("engine.indicator_lookback", 30*24*time.Hour)

	v.SetDefault("history.backend", "redis")
	v.SetDefault("history.dsn", "data/quotes.db")
	v.SetDefault("history.retention", 7*24*time.Hour)
	v.SetDefault("history.prune_interval", 10*time.Minute)

	v.SetDefault("generator.instruments_file", "")
	v.SetDefault("generator.interval", 100*time.Millisecond)
}

// Validate rejects configurations the services cannot start with.
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers cannot be empty")
	}
	if c.Processor.NumWorkers <= 0 {
		return fmt.Errorf("processor.num_workers must be positive, got %d", c.Processor.NumWorkers)
	}
	if c.Engine.Shards <= 0 || c.Engine.SinkBuffer <= 0 || c.Engine.IngestStripes <= 0 {
		return fmt.Errorf("engine shards, sink_buffer and ingest_stripes must be positive")
	}
	if c.Engine.RSIPeriod <= 0 {
		return fmt.Errorf("engine.rsi_period must be positive, got %d", c.Engine.RSIPeriod)
	}
	if !historyBackends[c.History.Backend] {
		return fmt.Errorf("unknown history backend %q", c.History.Backend)
	}
	return nil
}

// NewLogger builds the zap logger described by cfg.
func NewLogger(cfg LoggerConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Encoding == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
