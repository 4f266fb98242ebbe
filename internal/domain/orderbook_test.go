package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewOrderbookSnapshot_SortsLevels(t *testing.T) {
	snap := NewOrderbookSnapshot("tok", "mkt", 1,
		[]PriceLevel{{0.40, 10}, {0.48, 5}, {0.45, 1}},
		[]PriceLevel{{0.60, 3}, {0.52, 8}, {0.55, 2}},
		"h",
	)

	for i := 1; i < len(snap.Bids); i++ {
		assert.GreaterOrEqual(t, snap.Bids[i-1].Price, snap.Bids[i].Price)
	}
	for i := 1; i < len(snap.Asks); i++ {
		assert.LessOrEqual(t, snap.Asks[i-1].Price, snap.Asks[i].Price)
	}
	assert.Equal(t, 0.48, snap.BestBid())
	assert.Equal(t, 0.52, snap.BestAsk())
	assert.InDelta(t, 0.50, snap.MidPrice(), 1e-9)
}

func TestNewOrderbookSnapshot_DoesNotAliasInput(t *testing.T) {
	bids := []PriceLevel{{0.1, 1}, {0.2, 1}}
	_ = NewOrderbookSnapshot("tok", "", 0, bids, nil, "")
	assert.Equal(t, 0.1, bids[0].Price)
}

func TestOrderbookSnapshot_EmptySidesUseSentinels(t *testing.T) {
	var empty OrderbookSnapshot
	assert.Equal(t, NoBidPrice, empty.BestBid())
	assert.Equal(t, NoAskPrice, empty.BestAsk())
	assert.Equal(t, DefaultMidPrice, empty.MidPrice())

	// Two empty books never look like an arbitrage.
	assert.Equal(t, 2.0, empty.BestAsk()+empty.BestAsk())
}

func TestOrderbookSnapshot_MidPriceOneSided(t *testing.T) {
	bidsOnly := NewOrderbookSnapshot("a", "", 0, []PriceLevel{{0.3, 1}}, nil, "")
	assert.Equal(t, 0.3, bidsOnly.MidPrice())

	asksOnly := NewOrderbookSnapshot("a", "", 0, nil, []PriceLevel{{0.7, 1}}, "")
	assert.Equal(t, 0.7, asksOnly.MidPrice())
}
