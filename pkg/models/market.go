package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types carried by PriceEvent.EventType
const (
	EventTrade     = "TRADE"
	EventQuote     = "QUOTE"
	EventBBOUpdate = "BBO_UPDATE"
)

// PriceEvent represents a single inbound market tick for a stock symbol
type PriceEvent struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	BidPrice  decimal.Decimal `json:"bid_price"`
	AskPrice  decimal.Decimal `json:"ask_price"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp int64           `json:"timestamp"` // unix micro
	Exchange  string          `json:"exchange,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	SeqID     int64           `json:"seq_id,omitempty"` // monotonic counter per symbol
	Source    string          `json:"source,omitempty"`
}

// Time returns the event timestamp, or the zero time if none was set.
func (e PriceEvent) Time() time.Time {
	if e.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMicro(e.Timestamp).UTC()
}

// Snapshot is the latest-known aggregate state for a symbol.
type Snapshot struct {
	Symbol      string          `json:"symbol"`
	LastPrice   decimal.Decimal `json:"last_price"`
	BidPrice    decimal.Decimal `json:"bid_price"`
	AskPrice    decimal.Decimal `json:"ask_price"`
	Volume      decimal.Decimal `json:"volume"`
	HighPrice   decimal.Decimal `json:"high_price"`
	LowPrice    decimal.Decimal `json:"low_price"`
	Exchange    string          `json:"exchange,omitempty"`
	LastUpdated time.Time       `json:"last_updated"`
	Updates     int64           `json:"updates"`
}

// Update derives the outbound fan-out message from the snapshot.
func (s Snapshot) Update() MarketUpdate {
	return MarketUpdate{
		Symbol:    s.Symbol,
		Price:     s.LastPrice,
		BidPrice:  s.BidPrice,
		AskPrice:  s.AskPrice,
		Volume:    s.Volume,
		HighPrice: s.HighPrice,
		LowPrice:  s.LowPrice,
		Timestamp: s.LastUpdated.UnixMicro(),
	}
}

// Quote is one immutable historical price observation.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	BidPrice  decimal.Decimal `json:"bid_price"`
	AskPrice  decimal.Decimal `json:"ask_price"`
	Volume    decimal.Decimal `json:"volume"`
	Exchange  string          `json:"exchange,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       int64           `json:"seq"`
}

// MarketUpdate is the merged snapshot delta delivered to subscribers.
type MarketUpdate struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	BidPrice  decimal.Decimal `json:"bid_price"`
	AskPrice  decimal.Decimal `json:"ask_price"`
	Volume    decimal.Decimal `json:"volume"`
	HighPrice decimal.Decimal `json:"high_price"`
	LowPrice  decimal.Decimal `json:"low_price"`
	Timestamp int64           `json:"timestamp"` // unix micro
}
