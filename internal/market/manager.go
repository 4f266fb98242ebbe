// Package market tracks which up/down market is currently tradeable and
// keeps the streaming subscription pointed at it.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/platform/polymarket"
)

const (
	DefaultCheckInterval = 30 * time.Second
	waitPollInterval     = 100 * time.Millisecond
)

// ErrManagerStopped is returned by Start once Stop has closed the stream.
var ErrManagerStopped = errors.New("market: manager stopped, build a new one")

// Discoverer finds the coin's current market. It returns nil when there is
// none.
type Discoverer interface {
	DiscoverMarket(ctx context.Context, coin, interval string) (*domain.MarketInfo, error)
}

// Stream is the part of the streaming client the manager drives.
type Stream interface {
	Subscribe(ids []string, replace bool) bool
	Run(ctx context.Context, autoReconnect bool) error
	Close() error
	Book(assetID string) (domain.OrderbookSnapshot, bool)
	OnBookUpdate(h polymarket.BookUpdateHandler)
	OnConnect(h func())
	OnDisconnect(h func())
}

// Observer signatures. Errors and panics from observers are logged and do
// not reach the stream or other observers.
type (
	BookObserver         func(snap domain.OrderbookSnapshot) error
	MarketChangeObserver func(oldSlug, newSlug string) error
	ConnectionObserver   func()
)

// Config controls discovery and switching.
type Config struct {
	Coin          string
	Interval      string // polymarket.Interval15m or Interval1h
	CheckInterval time.Duration
	AutoSwitch    bool
}

// DefaultConfig returns BTC 15-minute markets checked every 30s with
// auto-switching on.
func DefaultConfig() Config {
	return Config{
		Coin:          "BTC",
		Interval:      polymarket.Interval15m,
		CheckInterval: DefaultCheckInterval,
		AutoSwitch:    true,
	}
}

// Manager is the single source of truth for the tradeable market.
type Manager struct {
	cfg    Config
	disc   Discoverer
	stream Stream
	logger *slog.Logger

	mu      sync.RWMutex
	current *domain.MarketInfo

	connected atomic.Bool
	running   atomic.Bool
	stopped   atomic.Bool // set by Stop, the stream is closed for good

	obsMu           sync.RWMutex
	bookObs         []BookObserver
	marketChangeObs []MarketChangeObserver
	connectObs      []ConnectionObserver
	disconnectObs   []ConnectionObserver
	hooksInstalled  sync.Once

	lifecycleMu sync.Mutex
	cancelCheck context.CancelFunc
	cancelRun   context.CancelFunc
	checkDone   chan struct{}
	runDone     chan struct{}
}

// NewManager wires a manager to its discovery source and stream.
func NewManager(cfg Config, disc Discoverer, stream Stream, logger *slog.Logger) *Manager {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.Interval == "" {
		cfg.Interval = polymarket.Interval15m
	}
	return &Manager{
		cfg:    cfg,
		disc:   disc,
		stream: stream,
		logger: logger.With(slog.String("component", "market_manager"), slog.String("coin", cfg.Coin)),
	}
}

// OnBook registers an observer for every order book snapshot.
func (m *Manager) OnBook(o BookObserver) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.bookObs = append(m.bookObs, o)
}

// OnMarketChange registers an observer fired with (old slug, new slug) when
// the manager switches to a market with a different slug.
func (m *Manager) OnMarketChange(o MarketChangeObserver) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.marketChangeObs = append(m.marketChangeObs, o)
}

func (m *Manager) OnConnect(o ConnectionObserver) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.connectObs = append(m.connectObs, o)
}

func (m *Manager) OnDisconnect(o ConnectionObserver) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.disconnectObs = append(m.disconnectObs, o)
}

// Current returns the current market, or nil before the first discovery.
func (m *Manager) Current() *domain.MarketInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Manager) IsConnected() bool { return m.connected.Load() }
func (m *Manager) IsRunning() bool   { return m.running.Load() }

// Discover asks the discovery source for the current market. A missing or
// non-accepting market yields nil without error.
func (m *Manager) Discover(ctx context.Context) (*domain.MarketInfo, error) {
	info, err := m.disc.DiscoverMarket(ctx, m.cfg.Coin, m.cfg.Interval)
	if err != nil {
		return nil, fmt.Errorf("market: discover: %w", err)
	}
	if info == nil {
		return nil, nil
	}
	if !info.AcceptingOrders {
		m.logger.Info("market not accepting orders", slog.String("slug", info.Slug))
		return nil, nil
	}
	return info, nil
}

// Start discovers the market, subscribes to its tokens and launches the
// stream run loop and, with auto-switch, the periodic market check. A
// manager cannot be restarted after Stop; Start then returns
// ErrManagerStopped.
func (m *Manager) Start(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if m.stopped.Load() {
		return ErrManagerStopped
	}
	if m.running.Load() {
		return nil
	}

	info, err := m.Discover(ctx)
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("market: %w for %s", domain.ErrNoMarket, m.cfg.Coin)
	}
	m.setCurrent(info)

	m.hooksInstalled.Do(m.installHooks)
	m.stream.Subscribe(info.AssetIDs(), true)
	m.logger.Info("market selected",
		slog.String("slug", info.Slug),
		slog.String("question", info.Question),
		slog.String("ends", info.EndDate),
	)

	m.running.Store(true)

	runCtx, cancelRun := context.WithCancel(ctx)
	m.cancelRun = cancelRun
	m.runDone = make(chan struct{})
	go func() {
		defer close(m.runDone)
		if err := m.stream.Run(runCtx, true); err != nil {
			m.logger.Error("stream stopped", slog.String("error", err.Error()))
		}
	}()

	m.checkDone = make(chan struct{})
	if m.cfg.AutoSwitch {
		checkCtx, cancelCheck := context.WithCancel(ctx)
		m.cancelCheck = cancelCheck
		go func() {
			defer close(m.checkDone)
			m.checkLoop(checkCtx)
		}()
	} else {
		close(m.checkDone)
	}
	return nil
}

// Stop cancels the check loop and waits for it, then cancels the stream run
// loop and waits for it, and finally closes the stream. It is safe to call
// more than once. Stop is final.
func (m *Manager) Stop() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if !m.running.Swap(false) {
		return
	}
	m.stopped.Store(true)

	if m.cancelCheck != nil {
		m.cancelCheck()
	}
	<-m.checkDone

	m.cancelRun()
	<-m.runDone

	if err := m.stream.Close(); err != nil {
		m.logger.Debug("stream close", slog.String("error", err.Error()))
	}

	m.connected.Store(false)
	m.logger.Info("market manager stopped")
}

// WaitForData polls until the stream is connected and at least one side
// has a book, or timeout elapses.
func (m *Manager) WaitForData(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		if m.IsConnected() {
			for _, s := range domain.Sides {
				if _, ok := m.Book(s); ok {
					return true
				}
			}
		}
		if !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// Refresh re-discovers the market and switches to it when ShouldSwitch
// allows. It returns the market in effect afterwards, which may be nil.
func (m *Manager) Refresh(ctx context.Context) (*domain.MarketInfo, error) {
	old := m.Current()
	next, err := m.Discover(ctx)
	if err != nil {
		return old, err
	}
	if next == nil {
		return old, nil
	}

	if old != nil && old.SameMarket(*next) {
		m.setCurrent(next)
		return next, nil
	}
	if !ShouldSwitch(old, *next) {
		m.logger.Warn("ignoring older market from discovery",
			slog.String("current", old.Slug),
			slog.String("discovered", next.Slug),
		)
		return old, nil
	}

	m.stream.Subscribe(next.AssetIDs(), true)
	m.setCurrent(next)
	m.logger.Info("switched market", slog.String("slug", next.Slug), slog.String("ends", next.EndDate))

	if old != nil && old.Slug != next.Slug {
		m.fireMarketChange(old.Slug, next.Slug)
	}
	return next, nil
}

// ShouldSwitch decides whether next replaces old: always when there is no
// current market, never when the token sets match, and otherwise only if
// next is strictly later or either market has no sort key.
func ShouldSwitch(old *domain.MarketInfo, next domain.MarketInfo) bool {
	if old == nil {
		return true
	}
	if old.SameMarket(next) {
		return false
	}
	oldKey, okOld := old.SortKey()
	newKey, okNew := next.SortKey()
	if okOld && okNew && newKey <= oldKey {
		return false
	}
	return true
}

// Book returns the cached snapshot for a side of the current market.
func (m *Manager) Book(side domain.Side) (domain.OrderbookSnapshot, bool) {
	cur := m.Current()
	if cur == nil {
		return domain.OrderbookSnapshot{}, false
	}
	id := cur.TokenID(side)
	if id == "" {
		return domain.OrderbookSnapshot{}, false
	}
	return m.stream.Book(id)
}

// MidPrice is 0 when the side has no book.
func (m *Manager) MidPrice(side domain.Side) float64 {
	if b, ok := m.Book(side); ok {
		return b.MidPrice()
	}
	return 0
}

func (m *Manager) BestBid(side domain.Side) float64 {
	if b, ok := m.Book(side); ok {
		return b.BestBid()
	}
	return domain.NoBidPrice
}

// BestAsk is 1.0 when the side has no book.
func (m *Manager) BestAsk(side domain.Side) float64 {
	if b, ok := m.Book(side); ok {
		return b.BestAsk()
	}
	return domain.NoAskPrice
}

// Spread is 0 unless the side has a book with a bid.
func (m *Manager) Spread(side domain.Side) float64 {
	b, ok := m.Book(side)
	if !ok || b.BestBid() <= 0 {
		return 0
	}
	return b.BestAsk() - b.BestBid()
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (m *Manager) setCurrent(info *domain.MarketInfo) {
	m.mu.Lock()
	m.current = info
	m.mu.Unlock()
}

func (m *Manager) checkLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn("market check failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (m *Manager) installHooks() {
	m.stream.OnBookUpdate(m.dispatchBook)
	m.stream.OnConnect(func() {
		m.connected.Store(true)
		m.obsMu.RLock()
		obs := m.connectObs
		m.obsMu.RUnlock()
		for _, o := range obs {
			m.safe("connect", func() error { o(); return nil })
		}
	})
	m.stream.OnDisconnect(func() {
		m.connected.Store(false)
		m.obsMu.RLock()
		obs := m.disconnectObs
		m.obsMu.RUnlock()
		for _, o := range obs {
			m.safe("disconnect", func() error { o(); return nil })
		}
	})
}

// dispatchBook is the single fan-out point for book snapshots.
func (m *Manager) dispatchBook(snap domain.OrderbookSnapshot) {
	m.obsMu.RLock()
	obs := m.bookObs
	m.obsMu.RUnlock()
	for _, o := range obs {
		m.safe("book", func() error { return o(snap) })
	}
}

func (m *Manager) fireMarketChange(oldSlug, newSlug string) {
	m.obsMu.RLock()
	obs := m.marketChangeObs
	m.obsMu.RUnlock()
	for _, o := range obs {
		m.safe("market_change", func() error { return o(oldSlug, newSlug) })
	}
}

func (m *Manager) safe(kind string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("observer panicked", slog.String("observer", kind), slog.Any("panic", r))
		}
	}()
	if err := fn(); err != nil {
		m.logger.Warn("observer failed", slog.String("observer", kind), slog.String("error", err.Error()))
	}
}
