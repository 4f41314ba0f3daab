// Package hub maps WebSocket commands onto the engine and forwards each
// connection's fan-out sink to the socket.
package hub

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/engine"
	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/fanout"
	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/quote-fanout/pkg/models"
)

type ClientInterface interface {
	ID() string
	SendJSON(v interface{})
	Close()
}

// Engine is the part of the engine the hub drives.
type Engine interface {
	Subscribe(handle, symbol string) error
	Unsubscribe(handle string)
	OnDisconnect(handle string)
	Sink(handle string) *fanout.Sink
	SymbolOf(handle string) (string, bool)
	LatestSnapshot(ctx context.Context, symbol string) (models.Snapshot, bool)
}

var _ Engine = (*engine.Engine)(nil)

type Hub struct {
	engine Engine
	logger *zap.Logger
}

func NewHub(e Engine, logger *zap.Logger) *Hub {
	return &Hub{engine: e, logger: logger}
}

// Register starts forwarding the client's sink to the client. It returns a
// channel that is closed once the sink is closed and fully drained.
func (h *Hub) Register(client ClientInterface) <-chan struct{} {
	sink := h.engine.Sink(client.ID())
	done := make(chan struct{})
	go h.forward(client, sink, done)
	return done
}

// forward drains sink into client in order. A subscribe snapshot that is not
// newer than a ticker already forwarded for its symbol, or that belongs to a
// symbol the client has since left, is skipped.
func (h *Hub) forward(client ClientInterface, sink *fanout.Sink, done chan<- struct{}) {
	defer close(done)
	lastTicker := make(map[string]int64)
	for m := range sink.C() {
		switch m.Kind {
		case fanout.KindUpdate:
			lastTicker[m.Symbol] = m.Update.Timestamp
			client.SendJSON(protocol.WSResponse{Type: protocol.TypeTicker, Symbol: m.Symbol, Data: m.Update})
		case fanout.KindSnapshot:
			if ts, seen := lastTicker[m.Symbol]; seen && m.Snapshot.LastUpdated.UnixMicro() <= ts {
				continue
			}
			if sym, ok := h.engine.SymbolOf(client.ID()); !ok || sym != m.Symbol {
				continue
			}
			client.SendJSON(protocol.WSResponse{Type: protocol.TypeSnapshot, Symbol: m.Symbol, Data: m.Snapshot})
		case fanout.KindStreamEnded:
			client.SendJSON(protocol.WSResponse{Type: protocol.TypeStreamEnded, Symbol: m.Symbol})
		}
	}
}

func (h *Hub) HandleCommand(client ClientInterface, req protocol.WSRequest, validTickers map[string]bool) {
	switch req.Action {
	case protocol.ActionSubscribe:
		h.handleSubscribe(client, req, validTickers)
	case protocol.ActionUnsubscribe:
		h.handleUnsubscribe(client, req)
	case protocol.ActionSnapshot:
		h.handleSnapshot(client, req, validTickers)
	default:
		h.sendError(client, req.ID, "Unknown action: "+req.Action)
	}
}

func (h *Hub) handleSubscribe(client ClientInterface, req protocol.WSRequest, validTickers map[string]bool) {
	sym := req.Payload.Symbol
	if !validTickers[sym] {
		h.sendError(client, req.ID, fmt.Sprintf("Invalid symbol: %q", sym))
		return
	}

	if err := h.engine.Subscribe(client.ID(), sym); err != nil {
		if errors.Is(err, engine.ErrShutdown) {
			h.sendError(client, req.ID, "Server is shutting down")
			return
		}
		h.logger.Error("Subscribe failed", zap.String("handle", client.ID()), zap.String("symbol", sym), zap.Error(err))
		h.sendError(client, req.ID, "Subscribe failed")
		return
	}

	h.sendAck(client, req.ID, "success", fmt.Sprintf("Subscribed to %s", sym))

	// Snapshot lookup may touch history storage, so it runs async and is
	// queued behind any ticker already in the client's sink
	go h.queueSnapshot(h.engine.Sink(client.ID()), sym)
}

func (h *Hub) queueSnapshot(sink *fanout.Sink, symbol string) {
	snap, ok := h.engine.LatestSnapshot(context.Background(), symbol)
	if !ok {
		return
	}
	if !sink.Offer(fanout.Message{Kind: fanout.KindSnapshot, Symbol: symbol, Snapshot: snap}) {
		h.logger.Debug("Subscribe snapshot dropped", zap.String("handle", sink.Handle()), zap.String("symbol", symbol))
	}
}

func (h *Hub) handleUnsubscribe(client ClientInterface, req protocol.WSRequest) {
	sym, ok := h.engine.SymbolOf(client.ID())
	if !ok {
		h.sendError(client, req.ID, "Not subscribed")
		return
	}
	h.engine.Unsubscribe(client.ID())
	h.sendAck(client, req.ID, "success", fmt.Sprintf("Unsubscribed from %s", sym))
}

func (h *Hub) handleSnapshot(client ClientInterface, req protocol.WSRequest, validTickers map[string]bool) {
	sym := req.Payload.Symbol
	if sym == "" {
		sym, _ = h.engine.SymbolOf(client.ID())
	}
	if !validTickers[sym] {
		h.sendError(client, req.ID, fmt.Sprintf("Invalid symbol: %q", sym))
		return
	}

	snap, ok := h.engine.LatestSnapshot(context.Background(), sym)
	if !ok {
		h.sendError(client, req.ID, "No data for "+sym)
		return
	}
	client.SendJSON(protocol.WSResponse{Type: protocol.TypeSnapshot, ID: req.ID, Symbol: sym, Data: snap})
}

// Unregister releases the client's subscription and closes it. The
// forwarder stops once the engine has closed the sink.
func (h *Hub) Unregister(client ClientInterface) {
	h.engine.OnDisconnect(client.ID())
	client.Close()
}

func (h *Hub) sendAck(c ClientInterface, id, status, msg string) {
	c.SendJSON(protocol.WSResponse{Type: protocol.TypeAck, ID: id, Status: status, Message: msg})
}

func (h *Hub) sendError(c ClientInterface, id, msg string) {
	c.SendJSON(protocol.WSResponse{Type: protocol.TypeError, ID: id, Message: msg})
}
