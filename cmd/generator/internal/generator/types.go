package generator

import (
	"context"
	"math/rand"
	"time"

	"github.com/segmentio/kafka-go"
)

// Clock is swapped for a fake in tests so Run never really sleeps.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Rand drives instrument choice, price walk and volume.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

// KafkaWriter is the subset of *kafka.Writer the feed produces through.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDialer and KafkaConn cover the admin calls TopicCreator needs.
type KafkaDialer interface {
	DialContext(ctx context.Context, network, address string) (KafkaConn, error)
}

type KafkaConn interface {
	Controller() (kafka.Broker, error)
	Close() error
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
}

type RealClock struct{}

func (RealClock) Now() time.Time        { return time.Now() }
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

// NewRand returns a Rand seeded from seed; pass time.Now().UnixNano() for a
// fresh walk per run.
func NewRand(seed int64) Rand {
	return rand.New(rand.NewSource(seed))
}

// NewKafkaDialer returns a KafkaDialer backed by kafka-go with the given
// dial timeout.
func NewKafkaDialer(timeout time.Duration) KafkaDialer {
	return kafkaDialer{d: &kafka.Dialer{Timeout: timeout}}
}

type kafkaDialer struct{ d *kafka.Dialer }

func (k kafkaDialer) DialContext(ctx context.Context, network, address string) (KafkaConn, error) {
	conn, err := k.d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	// *kafka.Conn already has every method KafkaConn asks for
	return conn, nil
}
