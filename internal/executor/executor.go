package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/service"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/strategy"
)

// BookSource exposes the current market and its cached books.
type BookSource interface {
	Current() *domain.MarketInfo
	Book(side domain.Side) (domain.OrderbookSnapshot, bool)
}

// LegSubmitter places both legs of a pair in one request. It is typically
// implemented by the service layer.
type LegSubmitter interface {
	SubmitLegs(ctx context.Context, legs []service.LegOrder) ([]domain.LegResult, error)
}

// Gate throttles trade attempts.
type Gate interface {
	CanTrade(now time.Time) (bool, string)
	Record(now time.Time)
	Count() int
}

// Alerter forwards operator alerts.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// ArbConfig holds the ask-sum arbitrage parameters.
type ArbConfig struct {
	TradeSize   float64
	MinSpread   float64
	Cooldown    time.Duration
	MaxTrades   int
	PriceBuffer float64 // added to each leg's ask
	MaxLegPrice float64
	QueueSize   int
}

func DefaultArbConfig() ArbConfig {
	return ArbConfig{
		TradeSize:   5,
		MinSpread:   0.02,
		Cooldown:    5 * time.Second,
		MaxTrades:   10,
		PriceBuffer: 0.01,
		MaxLegPrice: 0.99,
		QueueSize:   256,
	}
}

// ArbStats is a point-in-time copy of the engine counters.
type ArbStats struct {
	OpportunitiesSeen int
	TradesExecuted    int
	BothFilled        int
	Partial           int
	Failed            int
	SkippedBuffer     int
	SkippedGate       int
	TotalInvested     float64
	GuaranteedReturn  float64
	TotalProfit       float64
	StartedAt         time.Time
}

// ArbEngine buys both sides of the current market whenever their asks sum
// to less than 1 by at least MinSpread. Book updates are queued by OnBook and
// handled one at a time by Run, in arrival order.
type ArbEngine struct {
	cfg    ArbConfig
	books  BookSource
	orders LegSubmitter
	gate   Gate
	logger *slog.Logger
	now    func() time.Time

	store   domain.ArbTradeStore // optional
	alerter Alerter              // optional
	locks   domain.LockManager   // optional
	skips   *Dedup

	queue *bookQueue

	mu     sync.Mutex
	trades []domain.ArbTrade
	stats  ArbStats
}

// NewArbEngine creates an ArbEngine. A nil gate is replaced by a TradeGate
// built from cfg.
func NewArbEngine(cfg ArbConfig, books BookSource, orders LegSubmitter, gate Gate, logger *slog.Logger) *ArbEngine {
	if cfg.MaxLegPrice <= 0 {
		cfg.MaxLegPrice = 0.99
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if gate == nil {
		gate = service.NewTradeGate(service.GateConfig{MaxTrades: cfg.MaxTrades, Cooldown: cfg.Cooldown})
	}
	e := &ArbEngine{
		cfg:    cfg,
		books:  books,
		orders: orders,
		gate:   gate,
		logger: logger.With(slog.String("component", "arb_engine")),
		now:    time.Now,
		skips:  NewDedup(time.Second),
		queue:  newBookQueue(cfg.QueueSize),
	}
	e.stats.StartedAt = e.now()
	return e
}

// SetStore persists every recorded trade.
func (e *ArbEngine) SetStore(store domain.ArbTradeStore) { e.store = store }

// SetAlerter enables PARTIAL alerts.
func (e *ArbEngine) SetAlerter(a Alerter) { e.alerter = a }

// SetLocker makes the engine take a per-market lock around each submission
// so that two bot instances never trade the same market at once.
func (e *ArbEngine) SetLocker(l domain.LockManager) { e.locks = l }

// OnBook queues a book update. It blocks while the queue is full and returns
// immediately once the engine has stopped.
func (e *ArbEngine) OnBook(snap domain.OrderbookSnapshot) error {
	e.queue.push(snap)
	return nil
}

// Run drains queued book updates until ctx is cancelled.
func (e *ArbEngine) Run(ctx context.Context) error {
	e.logger.Info("arb engine started",
		slog.Float64("size", e.cfg.TradeSize),
		slog.Float64("min_spread", e.cfg.MinSpread),
		slog.Float64("buffer", e.cfg.PriceBuffer),
		slog.Duration("cooldown", e.cfg.Cooldown),
		slog.Int("max_trades", e.cfg.MaxTrades),
	)
	defer e.logger.Info("arb engine stopped")

	// Every update triggers a re-read of both cached books.
	e.queue.drain(ctx, func(domain.OrderbookSnapshot) { e.evaluate(ctx) }, 30*time.Second, e.skips.Cleanup)
	return nil
}

func (e *ArbEngine) evaluate(ctx context.Context) {
	market := e.books.Current()
	if market == nil {
		return
	}
	up, okUp := e.books.Book(domain.SideUp)
	down, okDown := e.books.Book(domain.SideDown)
	if !okUp || !okDown {
		return
	}
	opp, ok := strategy.DetectArbitrage(up, down, e.cfg.MinSpread)
	if !ok {
		return
	}

	e.mu.Lock()
	e.stats.OpportunitiesSeen++
	e.mu.Unlock()

	e.tryTrade(ctx, market, opp)
}

func (e *ArbEngine) tryTrade(ctx context.Context, market *domain.MarketInfo, opp strategy.ArbOpportunity) {
	now := e.now()
	if ok, reason := e.gate.CanTrade(now); !ok {
		e.mu.Lock()
		e.stats.SkippedGate++
		e.mu.Unlock()
		e.logSkip(reason, opp)
		return
	}

	adjusted := opp.Spread - 2*e.cfg.PriceBuffer
	if adjusted <= 0 {
		e.mu.Lock()
		e.stats.SkippedBuffer++
		e.mu.Unlock()
		e.logSkip(fmt.Sprintf("spread %.4f too small after buffer %.4f", opp.Spread, 2*e.cfg.PriceBuffer), opp)
		return
	}

	upToken, downToken := market.TokenID(domain.SideUp), market.TokenID(domain.SideDown)
	if upToken == "" || downToken == "" {
		e.logger.Error("token ids not available", slog.String("market", market.Slug))
		return
	}

	if e.locks != nil {
		unlock, err := e.locks.Acquire(ctx, "arb:"+market.Slug, e.cfg.Cooldown+10*time.Second)
		if errors.Is(err, domain.ErrLockHeld) {
			e.logSkip("market locked by another instance", opp)
			return
		}
		if err != nil {
			e.logger.Warn("arb lock unavailable, trading without it", slog.String("error", err.Error()))
		} else {
			defer unlock()
		}
	}

	trade := domain.ArbTrade{
		MarketSlug: market.Slug,
		UpAsk:      opp.UpAsk,
		DownAsk:    opp.DownAsk,
		AskSum:     opp.AskSum,
		Spread:     opp.Spread,
		Size:       e.cfg.TradeSize,
		UpPrice:    min(opp.UpAsk+e.cfg.PriceBuffer, e.cfg.MaxLegPrice),
		DownPrice:  min(opp.DownAsk+e.cfg.PriceBuffer, e.cfg.MaxLegPrice),
		Timestamp:  now,
	}
	e.mu.Lock()
	trade.ID = len(e.trades) + 1
	e.mu.Unlock()

	log := e.logger.With(slog.Int("trade_id", trade.ID), slog.String("market", market.Slug))
	log.Info("arb opportunity",
		slog.Float64("up_ask", opp.UpAsk),
		slog.Float64("down_ask", opp.DownAsk),
		slog.Float64("ask_sum", opp.AskSum),
		slog.Float64("spread", opp.Spread),
		slog.Float64("adjusted_spread", adjusted),
		slog.Float64("expected_profit", trade.ProfitPerPair()),
	)

	results, err := e.orders.SubmitLegs(ctx, []service.LegOrder{
		{Side: domain.SideUp, TokenID: upToken, Price: trade.UpPrice, Size: trade.Size},
		{Side: domain.SideDown, TokenID: downToken, Price: trade.DownPrice, Size: trade.Size},
	})
	if err != nil {
		log.Error("batch submission failed", slog.String("error", err.Error()))
	}
	for _, r := range results {
		switch r.Side {
		case domain.SideUp:
			trade.UpOrderOK, trade.UpOrderID = r.OK, r.OrderID
		case domain.SideDown:
			trade.DownOrderOK, trade.DownOrderID = r.OK, r.OrderID
		}
		if r.OK {
			log.Info("leg filled", slog.String("side", string(r.Side)), slog.String("order_id", r.OrderID))
		} else {
			log.Warn("leg failed", slog.String("side", string(r.Side)), slog.String("error", r.Err))
		}
	}

	e.gate.Record(e.now())
	e.record(ctx, log, trade)
}

func (e *ArbEngine) record(ctx context.Context, log *slog.Logger, trade domain.ArbTrade) {
	e.mu.Lock()
	e.trades = append(e.trades, trade)
	e.stats.TradesExecuted++
	switch {
	case trade.BothFilled():
		cost := (trade.UpPrice + trade.DownPrice) * trade.Size
		e.stats.BothFilled++
		e.stats.TotalInvested += cost
		e.stats.GuaranteedReturn += trade.Size
		e.stats.TotalProfit += trade.ProfitPerPair()
	case trade.Partial():
		e.stats.Partial++
	default:
		e.stats.Failed++
	}
	e.mu.Unlock()

	switch {
	case trade.BothFilled():
		cost := (trade.UpPrice + trade.DownPrice) * trade.Size
		log.Info("arb complete",
			slog.Float64("cost", cost),
			slog.Float64("guaranteed_return", trade.Size),
			slog.Float64("profit", trade.Size-cost),
		)
	case trade.Partial():
		filled, price := domain.SideUp, trade.UpPrice
		if trade.DownOrderOK {
			filled, price = domain.SideDown, trade.DownPrice
		}
		log.Warn("arb PARTIAL, one side filled", slog.String("filled_side", string(filled)))
		if e.alerter != nil {
			msg := fmt.Sprintf("Trade #%d on %s: only %s filled (%.2f @ %.4f). Open exposure, no unwind.",
				trade.ID, trade.MarketSlug, filled, trade.Size, price)
			if err := e.alerter.Notify(ctx, "partial_fill", "PARTIAL arbitrage fill", msg); err != nil {
				log.Warn("partial alert failed", slog.String("error", err.Error()))
			}
		}
	default:
		log.Warn("arb failed, no leg filled")
	}

	if e.store != nil {
		if err := e.store.Insert(ctx, trade); err != nil {
			log.Warn("persist arb trade failed", slog.String("error", err.Error()))
		}
	}
}

// logSkip logs each distinct skip reason at most once per second.
func (e *ArbEngine) logSkip(reason string, opp strategy.ArbOpportunity) {
	key := reason
	if i := strings.IndexByte(key, '('); i > 0 {
		key = key[:i]
	}
	if e.skips.IsDuplicate(key) {
		return
	}
	e.logger.Info("arb skipped",
		slog.String("reason", reason),
		slog.Float64("ask_sum", opp.AskSum),
		slog.Float64("spread", opp.Spread),
	)
}

// Trades returns a copy of every recorded trade.
func (e *ArbEngine) Trades() []domain.ArbTrade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.ArbTrade(nil), e.trades...)
}

// TotalProfit sums ProfitPerPair over trades where both legs filled.
func (e *ArbEngine) TotalProfit() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var total float64
	for _, t := range e.trades {
		if t.BothFilled() {
			total += t.ProfitPerPair()
		}
	}
	return total
}

func (e *ArbEngine) Stats() ArbStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// StatusLine renders a one-line view of the current books and counters.
func (e *ArbEngine) StatusLine() string {
	market := e.books.Current()
	if market == nil {
		return "waiting for market"
	}
	upAsk, downAsk := domain.NoAskPrice, domain.NoAskPrice
	if b, ok := e.books.Book(domain.SideUp); ok {
		upAsk = b.BestAsk()
	}
	if b, ok := e.books.Book(domain.SideDown); ok {
		downAsk = b.BestAsk()
	}
	sum := upAsk + downAsk
	return fmt.Sprintf("[%s] UP ask: %.4f | DOWN ask: %.4f | Sum: %.4f | Spread: $%.4f | Trades: %d/%d | Profit: $%.4f",
		market.CountdownString(e.now()), upAsk, downAsk, sum, 1-sum,
		e.gate.Count(), e.cfg.MaxTrades, e.TotalProfit())
}

// Summary renders the end-of-session report.
func (e *ArbEngine) Summary() string {
	st := e.Stats()
	var b strings.Builder
	line := strings.Repeat("=", 60)
	fmt.Fprintln(&b, line)
	fmt.Fprintln(&b, "ARBITRAGE SESSION SUMMARY")
	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "Duration: %s\n", e.now().Sub(st.StartedAt).Round(time.Second))
	fmt.Fprintf(&b, "Opportunities seen: %d\n", st.OpportunitiesSeen)
	fmt.Fprintf(&b, "Trades executed: %d\n", st.TradesExecuted)
	fmt.Fprintf(&b, "Successful (both sides): %d\n", st.BothFilled)
	if st.Partial > 0 {
		fmt.Fprintf(&b, "Partial (one side only): %d\n", st.Partial)
	}
	if st.Failed > 0 {
		fmt.Fprintf(&b, "Failed (no side): %d\n", st.Failed)
	}
	fmt.Fprintf(&b, "Total invested: $%.4f\n", st.TotalInvested)
	fmt.Fprintf(&b, "Guaranteed return: $%.2f\n", st.GuaranteedReturn)
	fmt.Fprintf(&b, "Total profit: $%.4f\n", e.TotalProfit())
	fmt.Fprint(&b, line)
	return b.String()
}
