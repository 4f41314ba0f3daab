// Package fanout owns one broadcast channel per subscribed symbol.
//
// Channels live in a symbol-sharded arena. A channel is created by the first
// Attach (or EnsureChannel) for its symbol and removed by CloseIfIdle once its
// last consumer is gone. Creation and teardown run under the same shard lock,
// so a subscriber can never be attached to a channel that is being torn down.
//
// Lock order: shard, then channel, then sink. Publish takes the shard lock
// only to look the channel up.
package fanout

import (
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/shard"
	"github.com/shubham-shewale/quote-fanout/pkg/models"
)

// Delivery reports the outcome of a single Publish.
type Delivery struct {
	Routed    bool // a live channel existed for the symbol
	Delivered int
	Dropped   int
}

// Stats is a point-in-time view of the manager counters.
type Stats struct {
	ActiveChannels int    `json:"active_channels"`
	Created        uint64 `json:"created"`
	Unrouted       uint64 `json:"unrouted"`
	Overflow       uint64 `json:"overflow"`
}

// Channel is the live fan-out state of one symbol.
type Channel struct {
	symbol     string
	generation uint64

	mu        sync.Mutex
	consumers map[string]*Sink
	closed    bool

	overflow atomic.Uint64
}

func (c *Channel) Symbol() string { return c.symbol }

// Generation counts how many channels have been created for the symbol,
// this one included.
func (c *Channel) Generation() uint64 { return c.generation }

func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.consumers)
}

func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) publish(m Message) Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Delivery{}
	}
	d := Delivery{Routed: true}
	for _, sink := range c.consumers {
		if sink.Offer(m) {
			d.Delivered++
		} else {
			d.Dropped++
		}
	}
	if d.Dropped > 0 {
		c.overflow.Add(uint64(d.Dropped))
	}
	return d
}

type channelShard struct {
	mu          sync.RWMutex
	channels    map[string]*Channel
	generations map[string]uint64
	// overflow of channels that were already torn down
	retired map[string]uint64
}

type Manager struct {
	shards   []*channelShard
	logger   *zap.Logger
	created  atomic.Uint64
	unrouted atomic.Uint64
}

func NewManager(shards int, logger *zap.Logger) *Manager {
	if shards <= 0 {
		shards = 1
	}
	m := &Manager{
		shards: make([]*channelShard, shards),
		logger: logger,
	}
	for i := range m.shards {
		m.shards[i] = &channelShard{
			channels:    make(map[string]*Channel),
			generations: make(map[string]uint64),
			retired:     make(map[string]uint64),
		}
	}
	return m
}

func (m *Manager) shardFor(symbol string) *channelShard {
	return m.shards[shard.Index(symbol, len(m.shards))]
}

// EnsureChannel returns the live channel for symbol, creating it if absent.
// Concurrent callers for the same symbol all observe the same instance.
func (m *Manager) EnsureChannel(symbol string) *Channel {
	s := m.shardFor(symbol)

	s.mu.RLock()
	ch, ok := s.channels[symbol]
	s.mu.RUnlock()
	if ok {
		return ch
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return m.ensureLocked(s, symbol)
}

// caller holds s.mu
func (m *Manager) ensureLocked(s *channelShard, symbol string) *Channel {
	if ch, ok := s.channels[symbol]; ok {
		return ch
	}
	s.generations[symbol]++
	ch := &Channel{
		symbol:     symbol,
		generation: s.generations[symbol],
		consumers:  make(map[string]*Sink),
	}
	s.channels[symbol] = ch
	m.created.Add(1)
	m.logger.Debug("Channel created", zap.String("symbol", symbol), zap.Uint64("generation", ch.generation))
	return ch
}

// Attach adds sink as a consumer of symbol, creating the channel if needed.
func (m *Manager) Attach(symbol string, sink *Sink) {
	s := m.shardFor(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := m.ensureLocked(s, symbol)
	ch.mu.Lock()
	ch.consumers[sink.Handle()] = sink
	ch.mu.Unlock()
}

// Detach removes handle from symbol's channel and returns how many consumers
// remain. It never tears the channel down; see CloseIfIdle.
func (m *Manager) Detach(symbol, handle string) int {
	s := m.shardFor(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.channels[symbol]
	if !ok {
		return 0
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	delete(ch.consumers, handle)
	return len(ch.consumers)
}

// CloseIfIdle removes symbol's channel if it still has no consumers.
// Emptiness is re-checked under the lock Attach uses, so a subscriber that
// arrived after the emptiness signal keeps the channel alive.
func (m *Manager) CloseIfIdle(symbol string) bool {
	s := m.shardFor(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[symbol]
	if !ok {
		return false
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.consumers) > 0 {
		return false
	}
	ch.closed = true
	s.retired[symbol] += ch.overflow.Load()
	delete(s.channels, symbol)

	m.logger.Debug("Channel closed", zap.String("symbol", symbol), zap.Uint64("generation", ch.generation))
	return true
}

// Publish hands update to every current consumer of symbol without blocking.
// Consumers whose sink is full miss this update and the symbol's overflow
// counter grows. A symbol without a channel has no audience: nothing is
// created and the update is counted as unrouted.
func (m *Manager) Publish(symbol string, update models.MarketUpdate) Delivery {
	s := m.shardFor(symbol)
	s.mu.RLock()
	ch, ok := s.channels[symbol]
	s.mu.RUnlock()

	if !ok {
		m.unrouted.Add(1)
		return Delivery{}
	}
	d := ch.publish(Message{Kind: KindUpdate, Symbol: symbol, Update: update})
	if !d.Routed {
		// raced a teardown
		m.unrouted.Add(1)
	}
	return d
}

// Subscribers returns the sorted handles consuming symbol right now.
func (m *Manager) Subscribers(symbol string) []string {
	s := m.shardFor(symbol)
	s.mu.RLock()
	ch, ok := s.channels[symbol]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	ch.mu.Lock()
	handles := make([]string, 0, len(ch.consumers))
	for h := range ch.consumers {
		handles = append(handles, h)
	}
	ch.mu.Unlock()

	sort.Strings(handles)
	return handles
}

// Channel returns the live channel for symbol without creating one.
func (m *Manager) Channel(symbol string) (*Channel, bool) {
	s := m.shardFor(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[symbol]
	return ch, ok
}

// Overflow is the number of updates dropped for symbol across all of its
// channel generations.
func (m *Manager) Overflow(symbol string) uint64 {
	s := m.shardFor(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.retired[symbol]
	if ch, ok := s.channels[symbol]; ok {
		n += ch.overflow.Load()
	}
	return n
}

func (m *Manager) ActiveChannels() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.channels)
		s.mu.RUnlock()
	}
	return n
}

func (m *Manager) Created() uint64 { return m.created.Load() }

func (m *Manager) Stats() Stats {
	st := Stats{Created: m.created.Load(), Unrouted: m.unrouted.Load()}
	for _, s := range m.shards {
		s.mu.RLock()
		st.ActiveChannels += len(s.channels)
		for _, n := range s.retired {
			st.Overflow += n
		}
		for _, ch := range s.channels {
			st.Overflow += ch.overflow.Load()
		}
		s.mu.RUnlock()
	}
	return st
}

// Close tears down every channel, sending each consumer a terminal
// stream-ended message first. It returns the number of channels closed.
func (m *Manager) Close() int {
	closed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for symbol, ch := range s.channels {
			ch.mu.Lock()
			ch.closed = true
			for _, sink := range ch.consumers {
				sink.end(symbol)
			}
			s.retired[symbol] += ch.overflow.Load()
			ch.mu.Unlock()
			delete(s.channels, symbol)
			closed++
		}
		s.mu.Unlock()
	}
	m.logger.Info("Fan-out channels closed", zap.Int("channels", closed))
	return closed
}
