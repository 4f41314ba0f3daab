package fanout

import (
	"sync"

	"github.com/shubham-shewale/quote-fanout/pkg/models"
)

type Kind int

const (
	KindUpdate Kind = iota
	KindStreamEnded
	// KindSnapshot carries the full snapshot a subscriber starts from
	KindSnapshot
)

func (k Kind) String() string {
	switch k {
	case KindStreamEnded:
		return "stream_ended"
	case KindSnapshot:
		return "snapshot"
	}
	return "update"
}

// Message is what a subscriber's sink receives.
type Message struct {
	Kind     Kind
	Symbol   string
	Update   models.MarketUpdate
	Snapshot models.Snapshot
}

// Sink is the bounded per-handle delivery queue the transport drains.
// Offers never block; a full sink rejects the message.
type Sink struct {
	handle string
	ch     chan Message

	mu     sync.Mutex
	closed bool
}

func NewSink(handle string, size int) *Sink {
	if size <= 0 {
		size = 1
	}
	return &Sink{handle: handle, ch: make(chan Message, size)}
}

func (s *Sink) Handle() string { return s.handle }

// C is closed when the handle disconnects or the engine shuts down.
func (s *Sink) C() <-chan Message { return s.ch }

func (s *Sink) Len() int { return len(s.ch) }

// Offer enqueues m without blocking and reports whether it was accepted.
func (s *Sink) Offer(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- m:
		return true
	default:
		return false
	}
}

// end enqueues the terminal message for symbol, evicting the oldest buffered
// messages until it fits.
func (s *Sink) end(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	msg := Message{Kind: KindStreamEnded, Symbol: symbol}
	for {
		select {
		case s.ch <- msg:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// Close is idempotent; later offers are rejected.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
