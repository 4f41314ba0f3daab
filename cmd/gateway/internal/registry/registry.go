// Package registry tracks which symbol each subscriber handle follows.
//
// A handle follows at most one symbol; subscribing again moves it. The
// symbol -> handles side of the relation is the consumer set of the symbol's
// fan-out channel, so there is a single source of truth for who receives a
// symbol's updates.
package registry

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/fanout"
	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/shard"
)

var ErrInvalidSubscription = errors.New("registry: handle and symbol are required")

// Channels is the part of the fan-out manager the registry drives.
type Channels interface {
	Attach(symbol string, sink *fanout.Sink)
	Detach(symbol, handle string) int
	CloseIfIdle(symbol string) bool
	Subscribers(symbol string) []string
}

// Compile-time check to ensure the fan-out manager satisfies Channels
var _ Channels = (*fanout.Manager)(nil)

type entry struct {
	sink   *fanout.Sink
	symbol string
}

type handleShard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type Registry struct {
	shards   []*handleShard
	channels Channels
	sinkSize int
	logger   *zap.Logger
}

func New(channels Channels, shards, sinkSize int, logger *zap.Logger) *Registry {
	if shards <= 0 {
		shards = 1
	}
	r := &Registry{
		shards:   make([]*handleShard, shards),
		channels: channels,
		sinkSize: sinkSize,
		logger:   logger,
	}
	for i := range r.shards {
		r.shards[i] = &handleShard{entries: make(map[string]*entry)}
	}
	return r
}

func (r *Registry) shardFor(handle string) *handleShard {
	return r.shards[shard.Index(handle, len(r.shards))]
}

// caller holds s.mu
func (r *Registry) entryLocked(s *handleShard, handle string) *entry {
	e, ok := s.entries[handle]
	if !ok {
		e = &entry{sink: fanout.NewSink(handle, r.sinkSize)}
		s.entries[handle] = e
	}
	return e
}

// Sink returns the delivery sink of handle, creating it on first use.
func (r *Registry) Sink(handle string) *fanout.Sink {
	s := r.shardFor(handle)
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.entryLocked(s, handle).sink
}

// Subscribe points handle at symbol, leaving its previous symbol first.
// Subscribing to the symbol already followed is a no-op.
func (r *Registry) Subscribe(handle, symbol string) error {
	if handle == "" || symbol == "" {
		return ErrInvalidSubscription
	}

	s := r.shardFor(handle)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := r.entryLocked(s, handle)
	if e.symbol == symbol {
		return nil
	}
	if e.symbol != "" {
		r.release(handle, e.symbol)
	}
	r.channels.Attach(symbol, e.sink)
	e.symbol = symbol

	r.logger.Debug("Subscribed", zap.String("handle", handle), zap.String("symbol", symbol))
	return nil
}

// Unsubscribe drops handle's subscription, if any. The handle and its sink
// stay registered so it can subscribe again.
func (r *Registry) Unsubscribe(handle string) {
	s := r.shardFor(handle)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[handle]
	if !ok || e.symbol == "" {
		return
	}
	r.release(handle, e.symbol)
	r.logger.Debug("Unsubscribed", zap.String("handle", handle), zap.String("symbol", e.symbol))
	e.symbol = ""
}

// Disconnect unsubscribes handle, forgets it and closes its sink.
func (r *Registry) Disconnect(handle string) {
	s := r.shardFor(handle)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[handle]
	if !ok {
		return
	}
	if e.symbol != "" {
		r.release(handle, e.symbol)
	}
	delete(s.entries, handle)
	e.sink.Close()
}

// release detaches handle from symbol and lets the manager tear the channel
// down if that emptied it. Caller holds the handle's shard lock.
func (r *Registry) release(handle, symbol string) {
	if r.channels.Detach(symbol, handle) == 0 {
		r.channels.CloseIfIdle(symbol)
	}
}

// SubscribersOf returns a point-in-time copy of the handles following symbol.
func (r *Registry) SubscribersOf(symbol string) []string {
	return r.channels.Subscribers(symbol)
}

func (r *Registry) SymbolOf(handle string) (string, bool) {
	s := r.shardFor(handle)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[handle]
	if !ok || e.symbol == "" {
		return "", false
	}
	return e.symbol, true
}

// Handles is the number of registered handles, subscribed or not.
func (r *Registry) Handles() int {
	n := 0
	for _, s := range r.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Close forgets every handle and closes its sink. Channels are not touched;
// the manager is expected to have been closed already.
func (r *Registry) Close() {
	for _, s := range r.shards {
		s.mu.Lock()
		for handle, e := range s.entries {
			e.sink.Close()
			delete(s.entries, handle)
		}
		s.mu.Unlock()
	}
}
