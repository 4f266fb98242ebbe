package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/executor"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/feed"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/notify"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/server"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/server/handler"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/service"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/strategy"
)

const (
	waitForDataTimeout = 15 * time.Second
	finishTimeout      = 30 * time.Second
)

// engine is what every mode runner drives: book updates in, one control
// loop, a status line and a closing summary.
type engine interface {
	OnBook(snap domain.OrderbookSnapshot) error
	Run(ctx context.Context) error
	StatusLine() string
	Summary() string
}

type marketChangeHandler interface {
	OnMarketChange(oldSlug, newSlug string) error
}

// modeRunner pairs an engine with accessors for its counters and, in arb
// mode, its trade log.
type modeRunner struct {
	engine
	name   string
	stats  func() any
	trades func() []domain.ArbTrade // nil outside arb mode
}

func (a *App) newRunner(ctx context.Context, sess *Session, deps *Dependencies) (*modeRunner, error) {
	switch a.cfg.Mode {
	case "arb":
		return a.newArbRunner(ctx, sess, deps), nil
	case "flash":
		return a.newFlashRunner(ctx, sess, deps), nil
	case "monitor":
		return a.newMonitorRunner(sess, deps), nil
	default:
		return nil, fmt.Errorf("unsupported mode %q", a.cfg.Mode)
	}
}

func (a *App) newArbRunner(ctx context.Context, sess *Session, deps *Dependencies) *modeRunner {
	cfg := a.cfg.Arb
	eng := executor.NewArbEngine(executor.ArbConfig{
		TradeSize:   cfg.TradeSize,
		MinSpread:   cfg.MinSpread,
		Cooldown:    cfg.Cooldown.Duration,
		MaxTrades:   cfg.MaxTrades,
		PriceBuffer: cfg.PriceBuffer,
		MaxLegPrice: cfg.MaxLegPrice,
	}, sess.Manager, a.orderService(sess, deps), a.tradeGate(), a.base)

	if deps.Trades != nil {
		eng.SetStore(deps.Trades)
		since := time.Now().UTC().Truncate(24 * time.Hour)
		if profit, err := deps.Trades.SumProfit(ctx, since); err != nil {
			a.logger.WarnContext(ctx, "could not read today's profit", slog.String("error", err.Error()))
		} else {
			a.logger.InfoContext(ctx, "profit recorded today", slog.Float64("profit", profit))
		}
	}
	if deps.Locks != nil {
		eng.SetLocker(deps.Locks)
	}
	if deps.Notifier.Enabled() {
		eng.SetAlerter(deps.Notifier)
	}

	return &modeRunner{
		engine: eng,
		name:   "arb",
		stats:  func() any { return eng.Stats() },
		trades: eng.Trades,
	}
}

func (a *App) newFlashRunner(ctx context.Context, sess *Session, deps *Dependencies) *modeRunner {
	fc := a.cfg.FlashCrash
	positions := service.NewPositionManager(service.PositionConfig{
		TakeProfit:   fc.TakeProfit,
		StopLoss:     fc.StopLoss,
		MaxPositions: fc.MaxPositions,
	}, deps.Positions, deps.Bus, a.base.With(slog.String("component", "positions")))

	if deps.Positions != nil {
		n, err := positions.Restore(ctx)
		if err != nil {
			a.logger.WarnContext(ctx, "could not restore open positions", slog.String("error", err.Error()))
		} else if n > 0 {
			a.logger.InfoContext(ctx, "restored open positions", slog.Int("count", n))
		}
	}

	trader := executor.NewFlashTrader(executor.FlashConfig{
		TradeSize:     fc.TradeSize,
		PriceBuffer:   fc.PriceBuffer,
		MaxEntryPrice: a.cfg.Arb.MaxLegPrice,
	}, sess.Manager, a.detector(), positions, a.orderService(sess, deps), a.tradeGate(), a.base)

	if deps.Bus != nil {
		trader.SetBus(deps.Bus)
	}
	if deps.Notifier.Enabled() {
		trader.SetAlerter(deps.Notifier)
	}

	return &modeRunner{
		engine: trader,
		name:   "flash",
		stats:  func() any { return trader.Stats() },
	}
}

func (a *App) newMonitorRunner(sess *Session, deps *Dependencies) *modeRunner {
	mon := executor.NewMonitor(sess.Manager, a.detector(), a.cfg.Arb.MinSpread, a.base)
	if deps.Bus != nil {
		mon.SetBus(deps.Bus)
	}
	if deps.Notifier.Enabled() {
		mon.SetAlerter(deps.Notifier)
	}
	return &modeRunner{
		engine: mon,
		name:   "monitor",
		stats:  func() any { return mon.Stats() },
	}
}

func (a *App) detector() *strategy.FlashCrash {
	fc := a.cfg.FlashCrash
	tracker := strategy.NewPriceTracker(strategy.TrackerConfig{
		Lookback:      fc.Lookback.Duration,
		DropThreshold: fc.DropThreshold,
		MaxHistory:    fc.MaxHistory,
	})
	return strategy.NewFlashCrash(tracker, a.base)
}

func (a *App) tradeGate() *service.TradeGate {
	return service.NewTradeGate(service.GateConfig{
		MaxTrades: a.cfg.Arb.MaxTrades,
		Cooldown:  a.cfg.Arb.Cooldown.Duration,
	})
}

func (a *App) orderService(sess *Session, deps *Dependencies) *service.OrderService {
	var placer service.BatchPlacer
	if sess.Clob != nil {
		placer = sess.Clob
	}
	return service.NewOrderService(placer, deps.Limiter, service.OrderConfig{
		OrderType:  domain.OrderType(a.cfg.Arb.OrderType),
		FeeRateBps: int64(a.cfg.Arb.FeeRateBps),
		DryRun:     a.cfg.Arb.DryRun,
		RateLimit:  a.cfg.Redis.OrderRateLimit,
		RateWindow: time.Second,
	}, a.base.With(slog.String("component", "order_service")))
}

// runMode registers the observers, starts the market manager and runs the
// engine loop, the quote recorder, the status ticker and the optional HTTP
// server under one errgroup. The market manager is stopped on return.
func (a *App) runMode(ctx context.Context, sess *Session, r *modeRunner, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting mode", slog.String("mode", r.name))

	var rec *feed.QuoteRecorder
	if deps.Quotes != nil || deps.Bus != nil {
		rec = feed.NewQuoteRecorder(deps.Quotes, deps.Bus, a.base)
	}

	mgr := sess.Manager
	mgr.OnBook(r.OnBook)
	if rec != nil {
		mgr.OnBook(rec.OnBook)
	}
	if h, ok := r.engine.(marketChangeHandler); ok {
		mgr.OnMarketChange(h.OnMarketChange)
	}
	mgr.OnMarketChange(func(oldSlug, newSlug string) error {
		a.logger.Info("market changed", slog.String("from", oldSlug), slog.String("to", newSlug))
		return nil
	})
	mgr.OnConnect(func() { a.logger.Info("market stream connected") })
	mgr.OnDisconnect(func() { a.logger.Warn("market stream disconnected") })

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("app: start market manager: %w", err)
	}
	defer sess.Close()

	if !mgr.WaitForData(ctx, waitForDataTimeout) {
		a.logger.WarnContext(ctx, "no order book data yet, continuing", slog.Duration("waited", waitForDataTimeout))
	}

	if m := mgr.Current(); m != nil {
		msg := fmt.Sprintf("%s mode on %s (%s)", r.name, m.Slug, m.Question)
		if err := deps.Notifier.Notify(ctx, notify.EventSessionStart, "Session started", msg); err != nil {
			a.logger.WarnContext(ctx, "session start notification failed", slog.String("error", err.Error()))
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.Run(gctx)
	})

	if rec != nil {
		g.Go(func() error {
			return rec.Run(gctx)
		})
	}

	g.Go(func() error {
		return a.statusLoop(gctx, r)
	})

	if a.cfg.Server.Enabled {
		srv := a.newServer(sess, deps)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	return g.Wait()
}

// statusLoop logs the runner's status line every StatusInterval.
func (a *App) statusLoop(ctx context.Context, r *modeRunner) error {
	interval := a.cfg.StatusInterval.Duration
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.logger.Info("status", slog.String("line", r.StatusLine()))
		}
	}
}

func (a *App) newServer(sess *Session, deps *Dependencies) *server.Server {
	checks := maps.Clone(deps.Checks)
	checks["market_stream"] = func(context.Context) error {
		if !sess.Manager.IsConnected() {
			return errors.New("disconnected")
		}
		return nil
	}

	var limiter domain.RateLimiter
	if a.cfg.Server.RateLimit > 0 {
		limiter = deps.Limiter
	}
	return server.NewServer(server.Config{
		Addr:      a.cfg.Server.Addr,
		APIKey:    a.cfg.Server.APIKey,
		RateLimit: a.cfg.Server.RateLimit,
	}, server.Handlers{
		Health: handler.NewHealthHandler(checks, a.base),
		Status: handler.NewStatusHandler(a),
	}, limiter, a.base)
}

// finish logs the session summary, sends the session-end alert and
// archives the trade log. It runs after ctx is cancelled, on a detached
// context with its own deadline.
func (a *App) finish(ctx context.Context, r *modeRunner, deps *Dependencies) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	summary := r.Summary()
	a.logger.Info("session summary", slog.String("summary", summary))

	if err := deps.Notifier.Notify(fctx, notify.EventSessionEnd, "Session ended", summary); err != nil {
		a.logger.Warn("session end notification failed", slog.String("error", err.Error()))
	}

	if deps.Archiver == nil || r.trades == nil {
		return
	}
	path, err := deps.Archiver.ArchiveSession(fctx, a.sessionID, r.trades())
	if err != nil {
		a.logger.Error("session archive failed", slog.String("error", err.Error()))
		return
	}
	if path != "" {
		a.logger.Info("session archived", slog.String("path", path))
	}
}
