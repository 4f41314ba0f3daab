package testutils

import (
	"sync"
	"testing"
	"time"

	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/protocol"
)

// MockClient simulates a connected websocket client
type MockClient struct {
	IDVal    string
	Messages []protocol.WSResponse
	Closed   bool
	Mu       sync.Mutex
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id, Messages: make([]protocol.WSResponse, 0)}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) SendJSON(v interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	// If it's a response, store it
	if resp, ok := v.(protocol.WSResponse); ok {
		m.Messages = append(m.Messages, resp)
	}
}

func (m *MockClient) LastMsgType() string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return ""
	}
	return m.Messages[len(m.Messages)-1].Type
}

// OfType returns a copy of the received messages with the given type.
func (m *MockClient) OfType(typ string) []protocol.WSResponse {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var out []protocol.WSResponse
	for _, msg := range m.Messages {
		if msg.Type == typ {
			out = append(out, msg)
		}
	}
	return out
}

// WaitFor polls until n messages of typ arrived or the timeout passes.
func (m *MockClient) WaitFor(t *testing.T, typ string, n int, timeout time.Duration) []protocol.WSResponse {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		got := m.OfType(typ)
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %d %q messages, got %d", n, typ, len(got))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func AssertTrue(t *testing.T, condition bool, msg string) {
	if !condition {
		t.Errorf("Assertion failed: %s", msg)
	}
}
