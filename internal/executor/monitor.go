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
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/strategy"
)

// MonitorStats is a point-in-time copy of the monitor counters.
type MonitorStats struct {
	FlashCrashes  int
	ArbSightings  int
	BestArbSpread float64
	StartedAt     time.Time
}

// Monitor watches the current market without trading. It logs flash crashes
// and ask-sum arbitrage opportunities and publishes them to the signal bus.
type Monitor struct {
	books     BookSource
	detector  *strategy.FlashCrash
	minSpread float64
	logger    *slog.Logger
	now       func() time.Time

	bus     domain.SignalBus // optional
	alerter Alerter          // optional
	arbLog  *Dedup

	queue *bookQueue

	mu    sync.Mutex
	stats MonitorStats
}

func NewMonitor(books BookSource, detector *strategy.FlashCrash, minSpread float64, logger *slog.Logger) *Monitor {
	m := &Monitor{
		books:     books,
		detector:  detector,
		minSpread: minSpread,
		logger:    logger.With(slog.String("component", "monitor")),
		now:       time.Now,
		arbLog:    NewDedup(time.Second),
		queue:     newBookQueue(256),
	}
	m.stats.StartedAt = m.now()
	return m
}

func (m *Monitor) SetBus(bus domain.SignalBus) { m.bus = bus }

func (m *Monitor) SetAlerter(a Alerter) { m.alerter = a }

func (m *Monitor) OnBook(snap domain.OrderbookSnapshot) error {
	m.queue.push(snap)
	return nil
}

func (m *Monitor) OnMarketChange(oldSlug, newSlug string) error {
	m.logger.Info("market changed", slog.String("old", oldSlug), slog.String("new", newSlug))
	m.detector.Reset()
	return nil
}

func (m *Monitor) Run(ctx context.Context) error {
	cfg := m.detector.Tracker().Config()
	m.logger.Info("monitor started",
		slog.Float64("drop_threshold", cfg.DropThreshold),
		slog.Duration("lookback", cfg.Lookback),
		slog.Float64("arb_threshold", m.minSpread),
	)
	defer m.logger.Info("monitor stopped")

	m.queue.drain(ctx, func(snap domain.OrderbookSnapshot) { m.handle(ctx, snap) }, 30*time.Second, m.arbLog.Cleanup)
	return nil
}

func (m *Monitor) handle(ctx context.Context, snap domain.OrderbookSnapshot) {
	market := m.books.Current()
	if market == nil {
		return
	}
	for _, ev := range m.detector.OnBook(market, snap, m.now()) {
		m.mu.Lock()
		m.stats.FlashCrashes++
		m.mu.Unlock()
		publishFlashCrash(ctx, m.bus, m.logger, market.Slug, ev)
		if m.alerter != nil {
			msg := fmt.Sprintf("%s %s: %.4f -> %.4f (drop %.4f, %.1f%%)",
				market.Slug, strings.ToUpper(string(ev.Side)), ev.OldPrice, ev.NewPrice, ev.Drop, ev.DropPercent())
			if err := m.alerter.Notify(ctx, "flash_crash", "FLASH CRASH", msg); err != nil {
				m.logger.Warn("flash alert failed", slog.String("error", err.Error()))
			}
		}
	}

	up, okUp := m.books.Book(domain.SideUp)
	down, okDown := m.books.Book(domain.SideDown)
	if !okUp || !okDown {
		return
	}
	opp, ok := strategy.DetectArbitrage(up, down, m.minSpread)
	if !ok {
		return
	}
	m.mu.Lock()
	m.stats.ArbSightings++
	m.stats.BestArbSpread = max(m.stats.BestArbSpread, opp.Spread)
	m.mu.Unlock()

	if !m.arbLog.IsDuplicate(fmt.Sprintf("%.4f", opp.AskSum)) {
		m.logger.Info("arb opportunity",
			slog.String("market", market.Slug),
			slog.Float64("up_ask", opp.UpAsk),
			slog.Float64("down_ask", opp.DownAsk),
			slog.Float64("ask_sum", opp.AskSum),
			slog.Float64("profit_per_pair", opp.Spread),
		)
		if m.bus != nil {
			payload, _ := json.Marshal(map[string]any{
				"event":    "arb_opportunity",
				"market":   market.Slug,
				"up_ask":   opp.UpAsk,
				"down_ask": opp.DownAsk,
				"ask_sum":  opp.AskSum,
				"spread":   opp.Spread,
			})
			if err := m.bus.Publish(ctx, "arb", payload); err != nil {
				m.logger.Warn("publish arb failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (m *Monitor) Stats() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// StatusLine shows both books, the ask sum and the lookback volatility.
func (m *Monitor) StatusLine() string {
	market := m.books.Current()
	if market == nil {
		return "waiting for market"
	}
	now := m.now()
	tracker := m.detector.Tracker()
	lookback := tracker.Config().Lookback

	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", market.CountdownString(now))
	sum := 0.0
	for _, side := range domain.Sides {
		bid, ask := domain.NoBidPrice, domain.NoAskPrice
		if book, ok := m.books.Book(side); ok {
			bid, ask = book.BestBid(), book.BestAsk()
		}
		sum += ask
		fmt.Fprintf(&b, " %s %.4f/%.4f vol %.4f |", strings.ToUpper(string(side)), bid, ask, tracker.Volatility(side, lookback, now))
	}
	spread := 1 - sum
	switch {
	case spread >= m.minSpread:
		fmt.Fprintf(&b, " ARB +$%.4f/pair", spread)
	case spread > 0:
		fmt.Fprintf(&b, " small spread +$%.4f", spread)
	default:
		fmt.Fprintf(&b, " no arb (sum %.4f)", sum)
	}
	st := m.Stats()
	fmt.Fprintf(&b, " | crashes %d arbs %d", st.FlashCrashes, st.ArbSightings)
	return b.String()
}

func (m *Monitor) Summary() string {
	st := m.Stats()
	return fmt.Sprintf("MONITOR SUMMARY: ran %s, flash crashes %d, arb sightings %d, best spread $%.4f",
		m.now().Sub(st.StartedAt).Round(time.Second), st.FlashCrashes, st.ArbSightings, st.BestArbSpread)
}
