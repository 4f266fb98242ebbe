package executor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/service"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/strategy"
)

type recBus struct {
	mu      sync.Mutex
	pub     map[string][][]byte
	streams map[string][][]byte
}

func newRecBus() *recBus {
	return &recBus{pub: map[string][][]byte{}, streams: map[string][][]byte{}}
}

func (b *recBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pub[channel] = append(b.pub[channel], payload)
	return nil
}

func (b *recBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *recBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *recBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func newTestFlash() (*FlashTrader, *fakeBooks, *fakeSubmitter, *service.PositionManager, *time.Time) {
	books := newFakeBooks()
	sub := &fakeSubmitter{}
	detector := strategy.NewFlashCrash(strategy.NewPriceTracker(strategy.TrackerConfig{
		Lookback:      10 * time.Second,
		DropThreshold: 0.30,
	}), testLogger())
	positions := service.NewPositionManager(service.DefaultPositionConfig(), nil, nil, testLogger())
	gate := service.NewTradeGate(service.GateConfig{})

	ft := NewFlashTrader(DefaultFlashConfig(), books, detector, positions, sub, gate, testLogger())
	now := t0
	ft.now = func() time.Time { return now }
	return ft, books, sub, positions, &now
}

func TestFlashTrader_EntersCrashedSideAndExitsOnTakeProfit(t *testing.T) {
	ft, books, sub, positions, now := newTestFlash()
	bus := newRecBus()
	alerts := &fakeAlerter{}
	ft.SetBus(bus)
	ft.SetAlerter(alerts)
	ctx := context.Background()

	ft.handle(ctx, books.set(domain.SideUp, 0.79, 0.81))
	*now = now.Add(2 * time.Second)
	ft.handle(ctx, books.set(domain.SideUp, 0.44, 0.46))

	calls := sub.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.OrderSideBuy, calls[0][0].OrderSide)
	assert.Equal(t, "1001", calls[0][0].TokenID)
	assert.InDelta(t, 0.47, calls[0][0].Price, 1e-9)

	pos, ok := positions.BySide(domain.SideUp)
	require.True(t, ok)
	assert.InDelta(t, 0.47, pos.EntryPrice, 1e-9)
	assert.Equal(t, "ord-up", pos.OrderID)
	assert.Equal(t, []string{"flash_crash"}, alerts.events)

	require.Len(t, bus.pub["flash_crash"], 1)
	require.Len(t, bus.streams["signals"], 1)
	var evt map[string]any
	require.NoError(t, json.Unmarshal(bus.pub["flash_crash"][0], &evt))
	assert.Equal(t, "up", evt["side"])

	*now = now.Add(time.Second)
	ft.handle(ctx, books.set(domain.SideUp, 0.60, 0.62))

	calls = sub.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, domain.OrderSideSell, calls[1][0].OrderSide)
	assert.InDelta(t, 0.59, calls[1][0].Price, 1e-9)
	assert.False(t, positions.HasPosition(domain.SideUp))

	st := ft.Stats()
	assert.Equal(t, 1, st.Crashes)
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, 1, st.Exits)
	assert.Equal(t, 1, st.PositionStats.Wins)
	assert.InDelta(t, 0.6, st.PositionStats.RealizedPnL, 1e-9)
}

func TestFlashTrader_FailedEntryOpensNothing(t *testing.T) {
	ft, books, sub, positions, now := newTestFlash()
	sub.fail = map[domain.Side]bool{domain.SideUp: true}
	ctx := context.Background()

	ft.handle(ctx, books.set(domain.SideUp, 0.79, 0.81))
	*now = now.Add(2 * time.Second)
	ft.handle(ctx, books.set(domain.SideUp, 0.44, 0.46))

	assert.Len(t, sub.Calls(), 1)
	assert.False(t, positions.HasPosition(domain.SideUp))
	assert.Equal(t, 1, ft.Stats().FailedOrders)
}

func TestFlashTrader_NoCrashNoOrders(t *testing.T) {
	ft, books, sub, _, now := newTestFlash()
	ctx := context.Background()
	ft.handle(ctx, books.set(domain.SideUp, 0.59, 0.61))
	*now = now.Add(2 * time.Second)
	ft.handle(ctx, books.set(domain.SideUp, 0.49, 0.51))
	assert.Empty(t, sub.Calls())
}

func TestFlashTrader_MarketChangeClearsState(t *testing.T) {
	ft, _, _, positions, _ := newTestFlash()
	_, err := positions.Open(context.Background(), domain.SideDown, "1002", 0.3, 5, "")
	require.NoError(t, err)
	ft.detector.Tracker().Record(domain.SideUp, 0.5, t0)

	require.NoError(t, ft.OnMarketChange("old", "new"))
	assert.Empty(t, positions.Positions())
	assert.Zero(t, ft.detector.Tracker().Len(domain.SideUp))
}

func TestMonitor_RecordsSignalsWithoutTrading(t *testing.T) {
	books := newFakeBooks()
	detector := strategy.NewFlashCrash(strategy.NewPriceTracker(strategy.TrackerConfig{}), testLogger())
	m := NewMonitor(books, detector, 0.02, testLogger())
	now := t0
	m.now = func() time.Time { return now }
	bus := newRecBus()
	m.SetBus(bus)
	ctx := context.Background()

	books.set(domain.SideDown, 0.45, 0.47)
	m.handle(ctx, books.set(domain.SideUp, 0.79, 0.81))
	now = now.Add(time.Second)
	m.handle(ctx, books.set(domain.SideUp, 0.44, 0.46))

	st := m.Stats()
	assert.Equal(t, 1, st.FlashCrashes)
	assert.Equal(t, 1, st.ArbSightings)
	assert.InDelta(t, 0.07, st.BestArbSpread, 1e-9)
	assert.Len(t, bus.pub["arb"], 1)
	assert.Len(t, bus.pub["flash_crash"], 1)

	assert.Contains(t, m.StatusLine(), "ARB +$0.0700/pair")
	assert.Contains(t, m.Summary(), "flash crashes 1")
}
