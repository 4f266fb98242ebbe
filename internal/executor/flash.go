package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/service"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/strategy"
)

// FlashConfig holds the flash-crash trading parameters.
type FlashConfig struct {
	TradeSize     float64
	PriceBuffer   float64
	MaxEntryPrice float64 // never buy the crashed side above this
	MinExitPrice  float64
	QueueSize     int
}

func DefaultFlashConfig() FlashConfig {
	return FlashConfig{
		TradeSize:     5,
		PriceBuffer:   0.01,
		MaxEntryPrice: 0.99,
		MinExitPrice:  0.01,
		QueueSize:     256,
	}
}

// FlashStats is a point-in-time copy of the trader counters.
type FlashStats struct {
	Crashes       int
	Entries       int
	Exits         int
	FailedOrders  int
	SkippedEntry  int
	StartedAt     time.Time
	PositionStats domain.PositionStats
}

// FlashTrader buys the side that just crashed and sells it again once the
// position reaches its take-profit or stop-loss.
type FlashTrader struct {
	cfg       FlashConfig
	books     BookSource
	detector  *strategy.FlashCrash
	positions *service.PositionManager
	orders    LegSubmitter
	gate      Gate
	logger    *slog.Logger
	now       func() time.Time

	bus     domain.SignalBus // optional
	alerter Alerter          // optional
	quiet   *Dedup

	queue *bookQueue

	mu    sync.Mutex
	stats FlashStats
}

func NewFlashTrader(
	cfg FlashConfig,
	books BookSource,
	detector *strategy.FlashCrash,
	positions *service.PositionManager,
	orders LegSubmitter,
	gate Gate,
	logger *slog.Logger,
) *FlashTrader {
	if cfg.MaxEntryPrice <= 0 {
		cfg.MaxEntryPrice = 0.99
	}
	if cfg.MinExitPrice <= 0 {
		cfg.MinExitPrice = 0.01
	}
	t := &FlashTrader{
		cfg:       cfg,
		books:     books,
		detector:  detector,
		positions: positions,
		orders:    orders,
		gate:      gate,
		logger:    logger.With(slog.String("component", "flash_trader")),
		now:       time.Now,
		quiet:     NewDedup(5 * time.Second),
		queue:     newBookQueue(cfg.QueueSize),
	}
	t.stats.StartedAt = t.now()
	return t
}

// SetBus publishes flash-crash events on the "flash_crash" channel.
func (t *FlashTrader) SetBus(bus domain.SignalBus) { t.bus = bus }

func (t *FlashTrader) SetAlerter(a Alerter) { t.alerter = a }

func (t *FlashTrader) OnBook(snap domain.OrderbookSnapshot) error {
	t.queue.push(snap)
	return nil
}

// OnMarketChange drops price history. Positions on the old market are left
// to settle and removed from the table.
func (t *FlashTrader) OnMarketChange(oldSlug, newSlug string) error {
	t.detector.Reset()
	if open := t.positions.Positions(); len(open) > 0 {
		t.logger.Warn("market switched with open positions, leaving them to settle",
			slog.String("old", oldSlug),
			slog.String("new", newSlug),
			slog.Int("open", len(open)),
		)
		t.positions.Clear()
	}
	return nil
}

func (t *FlashTrader) Run(ctx context.Context) error {
	t.logger.Info("flash trader started",
		slog.Float64("size", t.cfg.TradeSize),
		slog.Float64("drop_threshold", t.detector.Tracker().Config().DropThreshold),
		slog.Duration("lookback", t.detector.Tracker().Config().Lookback),
		slog.Float64("take_profit", t.positions.Config().TakeProfit),
		slog.Float64("stop_loss", t.positions.Config().StopLoss),
	)
	defer t.logger.Info("flash trader stopped")

	t.queue.drain(ctx, func(snap domain.OrderbookSnapshot) { t.handle(ctx, snap) }, 30*time.Second, t.quiet.Cleanup)
	return nil
}

func (t *FlashTrader) handle(ctx context.Context, snap domain.OrderbookSnapshot) {
	market := t.books.Current()
	if market == nil {
		return
	}
	now := t.now()
	for _, ev := range t.detector.OnBook(market, snap, now) {
		t.mu.Lock()
		t.stats.Crashes++
		t.mu.Unlock()
		publishFlashCrash(ctx, t.bus, t.logger, market.Slug, ev)
		t.enter(ctx, market, ev)
	}
	t.checkExits(ctx, market)
}

func (t *FlashTrader) enter(ctx context.Context, market *domain.MarketInfo, ev domain.FlashCrashEvent) {
	skip := func(reason string) {
		t.mu.Lock()
		t.stats.SkippedEntry++
		t.mu.Unlock()
		t.logger.Info("flash entry skipped", slog.String("side", string(ev.Side)), slog.String("reason", reason))
	}

	if t.positions.HasPosition(ev.Side) {
		skip("side already held")
		return
	}
	if ok, reason := t.gate.CanTrade(t.now()); !ok {
		skip(reason)
		return
	}
	book, ok := t.books.Book(ev.Side)
	if !ok || book.BestAsk() >= domain.NoAskPrice {
		skip("no ask liquidity")
		return
	}
	price := book.BestAsk() + t.cfg.PriceBuffer
	if price > t.cfg.MaxEntryPrice {
		skip(fmt.Sprintf("entry %.4f above max %.4f", price, t.cfg.MaxEntryPrice))
		return
	}
	token := market.TokenID(ev.Side)

	results, err := t.orders.SubmitLegs(ctx, []service.LegOrder{
		{Side: ev.Side, OrderSide: domain.OrderSideBuy, TokenID: token, Price: price, Size: t.cfg.TradeSize},
	})
	t.gate.Record(t.now())
	if err != nil || len(results) == 0 || !results[0].OK {
		t.mu.Lock()
		t.stats.FailedOrders++
		t.mu.Unlock()
		t.logger.Warn("flash entry order failed",
			slog.String("side", string(ev.Side)),
			slog.Float64("price", price),
			slog.String("error", legError(results, err)),
		)
		return
	}

	pos, err := t.positions.Open(ctx, ev.Side, token, price, t.cfg.TradeSize, results[0].OrderID)
	if err != nil {
		t.logger.Error("flash entry filled but position not recorded",
			slog.String("side", string(ev.Side)),
			slog.String("error", err.Error()),
		)
		return
	}
	t.mu.Lock()
	t.stats.Entries++
	t.mu.Unlock()

	if t.alerter != nil {
		msg := fmt.Sprintf("%s %s dropped %.4f -> %.4f (%.1f%%). Bought %.2f @ %.4f, TP %.4f SL %.4f.",
			market.Slug, strings.ToUpper(string(ev.Side)), ev.OldPrice, ev.NewPrice, ev.DropPercent(),
			pos.Size, pos.EntryPrice, pos.TakeProfitPrice(), pos.StopLossPrice())
		if err := t.alerter.Notify(ctx, "flash_crash", "Flash crash entry", msg); err != nil {
			t.logger.Warn("flash alert failed", slog.String("error", err.Error()))
		}
	}
}

// checkExits sells every position whose threshold is crossed at the current
// best bid.
func (t *FlashTrader) checkExits(ctx context.Context, market *domain.MarketInfo) {
	prices := make(map[domain.Side]float64, 2)
	for _, side := range domain.Sides {
		if b, ok := t.books.Book(side); ok && b.BestBid() > 0 {
			prices[side] = b.BestBid()
		}
	}
	for _, exit := range t.positions.CheckAllExits(prices) {
		pos := exit.Position
		price := max(prices[pos.Side]-t.cfg.PriceBuffer, t.cfg.MinExitPrice)
		results, err := t.orders.SubmitLegs(ctx, []service.LegOrder{
			{Side: pos.Side, OrderSide: domain.OrderSideSell, TokenID: pos.TokenID, Price: price, Size: pos.Size},
		})
		if err != nil || len(results) == 0 || !results[0].OK {
			t.mu.Lock()
			t.stats.FailedOrders++
			t.mu.Unlock()
			if !t.quiet.IsDuplicate("exit:" + pos.ID) {
				t.logger.Warn("exit order failed, retrying on next update",
					slog.String("position_id", pos.ID),
					slog.String("kind", string(exit.Kind)),
					slog.String("error", legError(results, err)),
				)
			}
			continue
		}
		if _, err := t.positions.Close(ctx, pos.ID, price); err != nil {
			t.logger.Error("exit filled but position not closed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		t.mu.Lock()
		t.stats.Exits++
		t.mu.Unlock()
		t.logger.Info("position exited",
			slog.String("market", market.Slug),
			slog.String("position_id", pos.ID),
			slog.String("kind", string(exit.Kind)),
			slog.Float64("entry", pos.EntryPrice),
			slog.Float64("exit", price),
		)
	}
}

func (t *FlashTrader) Stats() FlashStats {
	t.mu.Lock()
	st := t.stats
	t.mu.Unlock()
	st.PositionStats = t.positions.Stats()
	return st
}

func (t *FlashTrader) StatusLine() string {
	market := t.books.Current()
	if market == nil {
		return "waiting for market"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", market.CountdownString(t.now()))
	prices := make(map[domain.Side]float64, 2)
	for _, side := range domain.Sides {
		mid := domain.DefaultMidPrice
		if book, ok := t.books.Book(side); ok {
			mid = book.MidPrice()
		}
		prices[side] = mid
		fmt.Fprintf(&b, " %s: %.4f", strings.ToUpper(string(side)), mid)
	}
	st := t.Stats()
	fmt.Fprintf(&b, " | Crashes: %d | Open: %d | PnL: $%.4f",
		st.Crashes, st.PositionStats.OpenPositions, t.positions.TotalPnL(prices))
	return b.String()
}

func (t *FlashTrader) Summary() string {
	st := t.Stats()
	ps := st.PositionStats
	var b strings.Builder
	line := strings.Repeat("=", 60)
	fmt.Fprintln(&b, line)
	fmt.Fprintln(&b, "FLASH CRASH SESSION SUMMARY")
	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "Duration: %s\n", t.now().Sub(st.StartedAt).Round(time.Second))
	fmt.Fprintf(&b, "Crashes detected: %d\n", st.Crashes)
	fmt.Fprintf(&b, "Entries: %d, exits: %d, failed orders: %d\n", st.Entries, st.Exits, st.FailedOrders)
	fmt.Fprintf(&b, "Wins: %d, losses: %d, win rate: %.1f%%\n", ps.Wins, ps.Losses, ps.WinRate)
	fmt.Fprintf(&b, "Realized P&L: $%.4f\n", ps.RealizedPnL)
	if ps.OpenPositions > 0 {
		fmt.Fprintf(&b, "Open positions: %d\n", ps.OpenPositions)
	}
	fmt.Fprint(&b, line)
	return b.String()
}

func legError(results []domain.LegResult, err error) string {
	if err != nil {
		return err.Error()
	}
	if len(results) == 0 {
		return "no result"
	}
	return results[0].Err
}

// publishFlashCrash sends ev as JSON on the "flash_crash" channel and appends
// it to the durable signal stream.
func publishFlashCrash(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, slug string, ev domain.FlashCrashEvent) {
	if bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"event":     "flash_crash",
		"market":    slug,
		"side":      string(ev.Side),
		"old_price": ev.OldPrice,
		"new_price": ev.NewPrice,
		"drop":      ev.Drop,
		"drop_pct":  ev.DropPercent(),
		"ts":        ev.Timestamp.UnixMilli(),
	})
	if err := bus.Publish(ctx, "flash_crash", payload); err != nil {
		logger.Warn("publish flash crash failed", slog.String("error", err.Error()))
	}
	if err := bus.StreamAppend(ctx, "signals", payload); err != nil {
		logger.Warn("append flash crash failed", slog.String("error", err.Error()))
	}
}
