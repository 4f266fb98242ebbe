package domain

import (
	"sort"
	"time"
)

// Sentinel prices reported for an empty side of the book. An empty ask side
// reports 1.0 so that two empty books sum to 2.0 and never look like an
// arbitrage.
const (
	NoBidPrice      = 0.0
	NoAskPrice      = 1.0
	DefaultMidPrice = 0.5
)

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderbookSnapshot is a full snapshot of bids and asks for an asset.
// Bids are sorted by descending price, asks by ascending price.
type OrderbookSnapshot struct {
	AssetID   string
	Market    string
	Timestamp int64 // milliseconds
	Bids      []PriceLevel
	Asks      []PriceLevel
	Hash      string
}

// NewOrderbookSnapshot copies the given levels and sorts them into book order.
func NewOrderbookSnapshot(assetID, market string, ts int64, bids, asks []PriceLevel, hash string) OrderbookSnapshot {
	b := append([]PriceLevel(nil), bids...)
	a := append([]PriceLevel(nil), asks...)
	sort.SliceStable(b, func(i, j int) bool { return b[i].Price > b[j].Price })
	sort.SliceStable(a, func(i, j int) bool { return a[i].Price < a[j].Price })
	return OrderbookSnapshot{
		AssetID:   assetID,
		Market:    market,
		Timestamp: ts,
		Bids:      b,
		Asks:      a,
		Hash:      hash,
	}
}

// BestBid returns the highest bid, or NoBidPrice when there are no bids.
func (s OrderbookSnapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return NoBidPrice
	}
	return s.Bids[0].Price
}

// BestAsk returns the lowest ask, or NoAskPrice when there are no asks.
func (s OrderbookSnapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return NoAskPrice
	}
	return s.Asks[0].Price
}

// MidPrice averages the best bid and ask. With one side missing it returns
// the side that has liquidity, and DefaultMidPrice when both are missing.
func (s OrderbookSnapshot) MidPrice() float64 {
	bid, ask := s.BestBid(), s.BestAsk()
	switch {
	case bid > NoBidPrice && ask < NoAskPrice:
		return (bid + ask) / 2
	case bid > NoBidPrice:
		return bid
	case ask < NoAskPrice:
		return ask
	default:
		return DefaultMidPrice
	}
}

// Spread is best ask minus best bid.
func (s OrderbookSnapshot) Spread() float64 {
	return s.BestAsk() - s.BestBid()
}

// Time converts the millisecond timestamp.
func (s OrderbookSnapshot) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// PriceChange is a single level change from a price_change frame.
type PriceChange struct {
	AssetID string
	Market  string
	Side    string // "BUY" or "SELL"
	Price   float64
	Size    float64
	BestBid float64
	BestAsk float64
	Hash    string
}

// LastTradePrice is the most recent trade execution for an asset.
type LastTradePrice struct {
	AssetID    string
	Market     string
	Side       string
	Price      float64
	Size       float64
	FeeRateBps string
	Timestamp  int64
}
