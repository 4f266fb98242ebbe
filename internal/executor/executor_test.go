package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testMarket = &domain.MarketInfo{
	Slug:            "btc-updown-15m-1767225600",
	EndDate:         "2026-01-01T00:15:00Z",
	TokenIDs:        map[domain.Side]string{domain.SideUp: "1001", domain.SideDown: "1002"},
	AcceptingOrders: true,
}

type fakeBooks struct {
	mu     sync.Mutex
	market *domain.MarketInfo
	books  map[domain.Side]domain.OrderbookSnapshot
}

func newFakeBooks() *fakeBooks {
	return &fakeBooks{market: testMarket, books: make(map[domain.Side]domain.OrderbookSnapshot)}
}

func (f *fakeBooks) Current() *domain.MarketInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.market
}

func (f *fakeBooks) Book(side domain.Side) (domain.OrderbookSnapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[side]
	return b, ok
}

// set installs a one-level book for side and returns it.
func (f *fakeBooks) set(side domain.Side, bid, ask float64) domain.OrderbookSnapshot {
	var bids, asks []domain.PriceLevel
	if bid > 0 {
		bids = []domain.PriceLevel{{Price: bid, Size: 100}}
	}
	if ask > 0 {
		asks = []domain.PriceLevel{{Price: ask, Size: 100}}
	}
	snap := domain.NewOrderbookSnapshot(testMarket.TokenID(side), "cond", 0, bids, asks, "")
	f.mu.Lock()
	f.books[side] = snap
	f.mu.Unlock()
	return snap
}

type fakeSubmitter struct {
	mu    sync.Mutex
	calls [][]service.LegOrder
	fail  map[domain.Side]bool
	err   error
}

func (s *fakeSubmitter) SubmitLegs(_ context.Context, legs []service.LegOrder) ([]domain.LegResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, legs)
	out := make([]domain.LegResult, len(legs))
	for i, leg := range legs {
		out[i] = domain.LegResult{Side: leg.Side, TokenID: leg.TokenID}
		if s.err != nil || s.fail[leg.Side] {
			out[i].Err = "rejected"
			continue
		}
		out[i].OK = true
		out[i].OrderID = "ord-" + string(leg.Side)
	}
	return out, s.err
}

func (s *fakeSubmitter) Calls() [][]service.LegOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]service.LegOrder(nil), s.calls...)
}

type fakeAlerter struct {
	events []string
}

func (a *fakeAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.events = append(a.events, event)
	return nil
}

var t0 = time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)

func newTestEngine(cfg ArbConfig) (*ArbEngine, *fakeBooks, *fakeSubmitter) {
	books := newFakeBooks()
	sub := &fakeSubmitter{}
	e := NewArbEngine(cfg, books, sub, nil, testLogger())
	e.now = func() time.Time { return t0 }
	return e, books, sub
}

func TestArbEngine_TradesWithBufferedPrices(t *testing.T) {
	e, books, sub := newTestEngine(DefaultArbConfig())
	books.set(domain.SideUp, 0.45, 0.47)
	books.set(domain.SideDown, 0.46, 0.48)

	e.evaluate(context.Background())

	calls := sub.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 2)
	assert.Equal(t, "1001", calls[0][0].TokenID)
	assert.InDelta(t, 0.48, calls[0][0].Price, 1e-9)
	assert.InDelta(t, 0.49, calls[0][1].Price, 1e-9)
	assert.InDelta(t, 5.0, calls[0][0].Size, 1e-9)

	trades := e.Trades()
	require.Len(t, trades, 1)
	assert.True(t, trades[0].BothFilled())
	assert.Equal(t, 1, trades[0].ID)
	assert.InDelta(t, 0.95, trades[0].AskSum, 1e-9)
	assert.InDelta(t, 0.25, e.TotalProfit(), 1e-9)

	st := e.Stats()
	assert.Equal(t, 1, st.OpportunitiesSeen)
	assert.Equal(t, 1, st.BothFilled)
	assert.InDelta(t, 4.85, st.TotalInvested, 1e-9)
	assert.InDelta(t, 5.0, st.GuaranteedReturn, 1e-9)
}

func TestArbEngine_SmallAdjustedSpreadStillTrades(t *testing.T) {
	e, books, sub := newTestEngine(DefaultArbConfig())
	books.set(domain.SideUp, 0.40, 0.48)
	books.set(domain.SideDown, 0.40, 0.49)

	e.evaluate(context.Background())
	assert.Len(t, sub.Calls(), 1)
}

func TestArbEngine_BelowMinSpreadIsNotAnOpportunity(t *testing.T) {
	e, books, sub := newTestEngine(DefaultArbConfig())
	books.set(domain.SideUp, 0.40, 0.49)
	books.set(domain.SideDown, 0.40, 0.495)

	e.evaluate(context.Background())
	assert.Empty(t, sub.Calls())
	assert.Equal(t, 0, e.Stats().OpportunitiesSeen)
}

func TestArbEngine_SkipsWhenBufferEatsSpread(t *testing.T) {
	cfg := DefaultArbConfig()
	cfg.MinSpread = 0.01
	e, books, sub := newTestEngine(cfg)
	books.set(domain.SideUp, 0.40, 0.49)
	books.set(domain.SideDown, 0.40, 0.495)

	e.evaluate(context.Background())
	assert.Empty(t, sub.Calls())
	assert.Empty(t, e.Trades())
	st := e.Stats()
	assert.Equal(t, 1, st.OpportunitiesSeen)
	assert.Equal(t, 1, st.SkippedBuffer)
	assert.Equal(t, 0, e.gate.Count())
}

func TestArbEngine_CapsLegPrice(t *testing.T) {
	cfg := DefaultArbConfig()
	cfg.MinSpread = 0.01
	cfg.PriceBuffer = 0.005
	e, books, sub := newTestEngine(cfg)
	books.set(domain.SideUp, 0.90, 0.988)
	books.set(domain.SideDown, 0, 0.001)

	e.evaluate(context.Background())
	calls := sub.Calls()
	require.Len(t, calls, 1)
	assert.InDelta(t, 0.99, calls[0][0].Price, 1e-9)
	assert.InDelta(t, 0.006, calls[0][1].Price, 1e-9)
}

func TestArbEngine_EmptyBooksNeverSignal(t *testing.T) {
	e, books, sub := newTestEngine(DefaultArbConfig())
	books.set(domain.SideUp, 0, 0)
	books.set(domain.SideDown, 0, 0)

	e.evaluate(context.Background())
	assert.Empty(t, sub.Calls())
}

func TestArbEngine_PartialFillRecordedAndAlerted(t *testing.T) {
	e, books, sub := newTestEngine(DefaultArbConfig())
	sub.fail = map[domain.Side]bool{domain.SideDown: true}
	alerts := &fakeAlerter{}
	e.SetAlerter(alerts)
	books.set(domain.SideUp, 0.45, 0.47)
	books.set(domain.SideDown, 0.46, 0.48)

	e.evaluate(context.Background())

	trades := e.Trades()
	require.Len(t, trades, 1)
	assert.True(t, trades[0].UpOrderOK)
	assert.False(t, trades[0].DownOrderOK)
	assert.False(t, trades[0].BothFilled())
	assert.Zero(t, e.TotalProfit())
	assert.Equal(t, 1, e.Stats().Partial)
	assert.Zero(t, e.Stats().TotalInvested)
	assert.Equal(t, []string{"partial_fill"}, alerts.events)
}

func TestArbEngine_SubmissionErrorStillRecords(t *testing.T) {
	e, books, sub := newTestEngine(DefaultArbConfig())
	sub.err = errors.New("timeout")
	books.set(domain.SideUp, 0.45, 0.47)
	books.set(domain.SideDown, 0.46, 0.48)

	e.evaluate(context.Background())
	require.Len(t, e.Trades(), 1)
	assert.Equal(t, "failed", e.Trades()[0].Status())
	assert.Equal(t, 1, e.gate.Count())
}

func TestArbEngine_CooldownAndMaxTrades(t *testing.T) {
	cfg := DefaultArbConfig()
	cfg.MaxTrades = 2
	e, books, sub := newTestEngine(cfg)
	books.set(domain.SideUp, 0.45, 0.47)
	books.set(domain.SideDown, 0.46, 0.48)
	ctx := context.Background()

	now := t0
	e.now = func() time.Time { return now }

	e.evaluate(ctx)
	e.evaluate(ctx) // inside cooldown
	assert.Len(t, sub.Calls(), 1)
	assert.Equal(t, 1, e.Stats().SkippedGate)

	now = now.Add(6 * time.Second)
	e.evaluate(ctx)
	now = now.Add(6 * time.Second)
	e.evaluate(ctx) // cap reached
	assert.Len(t, sub.Calls(), 2)
	assert.Len(t, e.Trades(), 2)
	assert.Equal(t, 4, e.Stats().OpportunitiesSeen)
	assert.Equal(t, 2, e.Stats().SkippedGate)
}

type fakeLocks struct {
	held     bool
	acquired []string
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.acquired = append(l.acquired, key)
	return func() {}, nil
}

func TestArbEngine_LockHeldSkips(t *testing.T) {
	e, books, sub := newTestEngine(DefaultArbConfig())
	locks := &fakeLocks{held: true}
	e.SetLocker(locks)
	books.set(domain.SideUp, 0.45, 0.47)
	books.set(domain.SideDown, 0.46, 0.48)

	e.evaluate(context.Background())
	assert.Empty(t, sub.Calls())

	locks.held = false
	e.evaluate(context.Background())
	assert.Len(t, sub.Calls(), 1)
	assert.Equal(t, []string{"arb:" + testMarket.Slug}, locks.acquired)
}

func TestArbEngine_RunProcessesQueuedBooks(t *testing.T) {
	e, books, sub := newTestEngine(DefaultArbConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()

	books.set(domain.SideUp, 0.45, 0.47)
	snap := books.set(domain.SideDown, 0.46, 0.48)
	require.NoError(t, e.OnBook(snap))

	assert.Eventually(t, func() bool { return len(sub.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	// after stop OnBook must not block
	require.NoError(t, e.OnBook(snap))
}

func TestArbEngine_StatusAndSummary(t *testing.T) {
	e, books, _ := newTestEngine(DefaultArbConfig())
	books.set(domain.SideUp, 0.45, 0.47)
	books.set(domain.SideDown, 0.46, 0.48)
	e.evaluate(context.Background())

	line := e.StatusLine()
	assert.Contains(t, line, "[10:00]")
	assert.Contains(t, line, "Sum: 0.9500")
	assert.Contains(t, line, "Trades: 1/10")

	sum := e.Summary()
	assert.Contains(t, sum, "Successful (both sides): 1")
	assert.Contains(t, sum, "Total profit: $0.2500")
}

func TestDedup(t *testing.T) {
	d := NewDedup(time.Second)
	now := t0
	d.now = func() time.Time { return now }

	assert.False(t, d.IsDuplicate("a"))
	assert.True(t, d.IsDuplicate("a"))
	now = now.Add(2 * time.Second)
	assert.False(t, d.IsDuplicate("a"))
	now = now.Add(2 * time.Second)
	d.Cleanup()
	assert.Zero(t, d.Len())
}
