package testutils

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/shubham-shewale/quote-fanout/pkg/models"
)

type MockKafkaReader struct {
	Messages []kafka.Message
	Index    int
	Mu       sync.Mutex
	// Closed simulates a closed connection or end of stream
	Closed bool
}

func (m *MockKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if m.Closed {
		return kafka.Message{}, io.EOF
	}

	if m.Index >= len(m.Messages) {
		// Returning DeadlineExceeded is a clean way to stop the processor loop in tests
		return kafka.Message{}, context.DeadlineExceeded
	}

	msg := m.Messages[m.Index]
	m.Index++
	return msg, nil
}

func (m *MockKafkaReader) Close() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
	return nil
}

type MockKafkaWriter struct {
	Messages   []kafka.Message
	Mu         sync.Mutex
	ShouldFail bool
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.ShouldFail {
		return errors.New("kafka error")
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

func (m *MockKafkaWriter) Close() error { return nil }

func (m *MockKafkaWriter) Len() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Messages)
}

// MockHandler records applied events and fails the symbols listed in Reject.
type MockHandler struct {
	Events []models.PriceEvent
	Reject map[string]error
	Mu     sync.Mutex
}

func (m *MockHandler) HandleUpdate(ctx context.Context, ev models.PriceEvent) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if err, ok := m.Reject[ev.Symbol]; ok {
		return err
	}
	m.Events = append(m.Events, ev)
	return nil
}

func (m *MockHandler) SeqIDs(symbol string) []int64 {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var out []int64
	for _, ev := range m.Events {
		if ev.Symbol == symbol {
			out = append(out, ev.SeqID)
		}
	}
	return out
}
