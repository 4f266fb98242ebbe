package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrderRequest_Amounts(t *testing.T) {
	o, err := NewOrderRequest("123", 0.48, 5, "buy", "0xabc", 7, 0)
	require.NoError(t, err)
	assert.Equal(t, OrderSideBuy, o.Side)
	assert.Equal(t, int64(2_400_000), o.MakerAmount())
	assert.Equal(t, int64(5_000_000), o.TakerAmount())
	assert.Equal(t, 0, o.SideCode())
	assert.Equal(t, int64(7), o.Nonce)

	sell, err := NewOrderRequest("123", 1, 1, "SELL", "0xabc", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, sell.SideCode())
	assert.InDelta(t, time.Now().Unix(), sell.Nonce, 5)
}

func TestNewOrderRequest_Validation(t *testing.T) {
	cases := []struct {
		name  string
		price float64
		size  float64
		side  string
	}{
		{"zero price", 0, 1, "BUY"},
		{"price above one", 1.01, 1, "BUY"},
		{"negative price", -0.1, 1, "BUY"},
		{"zero size", 0.5, 0, "BUY"},
		{"unknown side", 0.5, 1, "HOLD"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewOrderRequest("1", tc.price, tc.size, tc.side, "0x", 0, 0)
			assert.ErrorIs(t, err, ErrInvalidOrder)
		})
	}
}

func TestNewOrderRequest_TokenID(t *testing.T) {
	for _, id := range []string{"", "up-token", "t", "0x1f", "12 34", "-5", "1.5"} {
		_, err := NewOrderRequest(id, 0.5, 1, "BUY", "", 1, 0)
		assert.ErrorIs(t, err, ErrInvalidOrder, "token id %q", id)
	}

	o, err := NewOrderRequest("71321045679252212594626385532706912750332728571942532289631379312455583992563", 0.5, 1, "BUY", "", 1, 0)
	require.NoError(t, err)
	assert.Len(t, o.TokenID, 77)
}

func TestArbTrade_Outcomes(t *testing.T) {
	tr := ArbTrade{Spread: 0.05, Size: 5, UpOrderOK: true, DownOrderOK: false}
	assert.InDelta(t, 0.25, tr.ProfitPerPair(), 1e-9)
	assert.False(t, tr.BothFilled())
	assert.True(t, tr.Partial())
	assert.Equal(t, "partial", tr.Status())

	tr.DownOrderOK = true
	assert.True(t, tr.BothFilled())
	assert.Equal(t, "filled", tr.Status())
}

func TestPosition_Exit(t *testing.T) {
	p := Position{EntryPrice: 0.40, Size: 10, TakeProfitDelta: 0.10, StopLossDelta: 0.05}
	assert.Equal(t, ExitTakeProfit, p.Exit(0.50))
	assert.Equal(t, ExitStopLoss, p.Exit(0.35))
	assert.Equal(t, ExitNone, p.Exit(0.42))
	assert.InDelta(t, 1.0, p.PnL(0.50), 1e-9)
	assert.InDelta(t, 25.0, p.PnLPercent(0.50), 1e-9)
}

func TestFlashCrashEvent_DropPercent(t *testing.T) {
	e := FlashCrashEvent{OldPrice: 0.8, NewPrice: 0.4, Drop: 0.4}
	assert.InDelta(t, 50.0, e.DropPercent(), 1e-9)
}
