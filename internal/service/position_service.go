package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
)

var (
	ErrSideHeld     = errors.New("side already has an open position")
	ErrPositionsCap = errors.New("max positions reached")
)

// PositionConfig holds the exit thresholds applied to every new position.
type PositionConfig struct {
	TakeProfit   float64
	StopLoss     float64
	MaxPositions int
}

func DefaultPositionConfig() PositionConfig {
	return PositionConfig{TakeProfit: 0.10, StopLoss: 0.05, MaxPositions: 1}
}

// PositionManager owns the open positions, indexed by id and by side. At most
// one position per side is held.
type PositionManager struct {
	cfg    PositionConfig
	store  domain.PositionStore // optional
	bus    domain.SignalBus     // optional
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	positions map[string]domain.Position
	bySide    map[domain.Side]string

	opened      int
	closed      int
	wins        int
	losses      int
	realizedPnL float64
}

// NewPositionManager creates a PositionManager. store and bus may be nil.
func NewPositionManager(
	cfg PositionConfig,
	store domain.PositionStore,
	bus domain.SignalBus,
	logger *slog.Logger,
) *PositionManager {
	if cfg.MaxPositions <= 0 {
		cfg.MaxPositions = 1
	}
	return &PositionManager{
		cfg:       cfg,
		store:     store,
		bus:       bus,
		logger:    logger,
		now:       time.Now,
		positions: make(map[string]domain.Position),
		bySide:    make(map[domain.Side]string),
	}
}

func (m *PositionManager) Config() PositionConfig { return m.cfg }

// Open records a new position. It fails without changing state when the side
// is already held or the position cap is reached.
func (m *PositionManager) Open(ctx context.Context, side domain.Side, tokenID string, entryPrice, size float64, orderID string) (domain.Position, error) {
	m.mu.Lock()
	if _, held := m.bySide[side]; held {
		m.mu.Unlock()
		return domain.Position{}, fmt.Errorf("position_service: open %s: %w", side, ErrSideHeld)
	}
	if len(m.positions) >= m.cfg.MaxPositions {
		n := len(m.positions)
		m.mu.Unlock()
		return domain.Position{}, fmt.Errorf("position_service: open %s (%d/%d): %w", side, n, m.cfg.MaxPositions, ErrPositionsCap)
	}

	pos := domain.Position{
		ID:              uuid.NewString()[:8],
		Side:            side,
		TokenID:         tokenID,
		EntryPrice:      entryPrice,
		Size:            size,
		EntryTime:       m.now(),
		OrderID:         orderID,
		TakeProfitDelta: m.cfg.TakeProfit,
		StopLossDelta:   m.cfg.StopLoss,
	}
	m.positions[pos.ID] = pos
	m.bySide[side] = pos.ID
	m.opened++
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Create(ctx, pos); err != nil {
			m.logger.WarnContext(ctx, "position_service: persist open failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	m.publish(ctx, map[string]any{
		"event":       "position_opened",
		"position_id": pos.ID,
		"side":        string(side),
		"entry_price": pos.EntryPrice,
		"size":        pos.Size,
	})

	m.logger.InfoContext(ctx, "position_service: position opened",
		slog.String("position_id", pos.ID),
		slog.String("side", string(side)),
		slog.Float64("entry_price", entryPrice),
		slog.Float64("size", size),
		slog.Float64("take_profit", pos.TakeProfitPrice()),
		slog.Float64("stop_loss", pos.StopLossPrice()),
	)
	return pos, nil
}

// Close removes the position and books its realized P&L at exitPrice. A
// non-negative P&L counts as a win.
func (m *PositionManager) Close(ctx context.Context, id string, exitPrice float64) (domain.ClosedPosition, error) {
	m.mu.Lock()
	pos, ok := m.positions[id]
	if !ok {
		m.mu.Unlock()
		return domain.ClosedPosition{}, fmt.Errorf("position_service: close %q: %w", id, domain.ErrNotFound)
	}
	delete(m.positions, id)
	if m.bySide[pos.Side] == id {
		delete(m.bySide, pos.Side)
	}

	closed := domain.ClosedPosition{
		Position:    pos,
		ExitPrice:   exitPrice,
		RealizedPnL: pos.PnL(exitPrice),
		ClosedAt:    m.now(),
	}
	m.closed++
	m.realizedPnL += closed.RealizedPnL
	if closed.RealizedPnL >= 0 {
		m.wins++
	} else {
		m.losses++
	}
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Close(ctx, closed); err != nil {
			m.logger.WarnContext(ctx, "position_service: persist close failed",
				slog.String("position_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	m.publish(ctx, map[string]any{
		"event":        "position_closed",
		"position_id":  id,
		"side":         string(pos.Side),
		"exit_price":   exitPrice,
		"realized_pnl": closed.RealizedPnL,
	})

	m.logger.InfoContext(ctx, "position_service: position closed",
		slog.String("position_id", id),
		slog.String("side", string(pos.Side)),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("realized_pnl", closed.RealizedPnL),
	)
	return closed, nil
}

func (m *PositionManager) Get(id string) (domain.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	return p, ok
}

func (m *PositionManager) BySide(side domain.Side) (domain.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.bySide[side]
	if !ok {
		return domain.Position{}, false
	}
	return m.positions[id], true
}

func (m *PositionManager) HasPosition(side domain.Side) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.bySide[side]
	return ok
}

// Positions returns the open positions ordered by entry time.
func (m *PositionManager) Positions() []domain.Position {
	m.mu.Lock()
	out := make([]domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

// CheckExit evaluates one position against its thresholds. It does not close
// anything.
func (m *PositionManager) CheckExit(id string, current float64) (domain.PositionExit, bool) {
	pos, ok := m.Get(id)
	if !ok {
		return domain.PositionExit{}, false
	}
	kind := pos.Exit(current)
	if kind == domain.ExitNone {
		return domain.PositionExit{}, false
	}
	return domain.PositionExit{Position: pos, Kind: kind, PnL: pos.PnL(current)}, true
}

// CheckAllExits evaluates every open position against the price of its side.
// Sides without a positive price are skipped.
func (m *PositionManager) CheckAllExits(prices map[domain.Side]float64) []domain.PositionExit {
	var exits []domain.PositionExit
	for _, pos := range m.Positions() {
		price, ok := prices[pos.Side]
		if !ok || price <= 0 {
			continue
		}
		if exit, hit := m.CheckExit(pos.ID, price); hit {
			exits = append(exits, exit)
		}
	}
	return exits
}

// UnrealizedPnL sums open P&L for sides with a known positive price.
func (m *PositionManager) UnrealizedPnL(prices map[domain.Side]float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, pos := range m.positions {
		if price, ok := prices[pos.Side]; ok && price > 0 {
			total += pos.PnL(price)
		}
	}
	return total
}

func (m *PositionManager) TotalPnL(prices map[domain.Side]float64) float64 {
	unrealized := m.UnrealizedPnL(prices)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.realizedPnL + unrealized
}

func (m *PositionManager) Stats() domain.PositionStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := domain.PositionStats{
		TradesOpened:  m.opened,
		TradesClosed:  m.closed,
		OpenPositions: len(m.positions),
		RealizedPnL:   m.realizedPnL,
		Wins:          m.wins,
		Losses:        m.losses,
	}
	if m.closed > 0 {
		st.WinRate = float64(m.wins) / float64(m.closed) * 100
	}
	return st
}

// Clear drops every open position without booking P&L.
func (m *PositionManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = make(map[string]domain.Position)
	m.bySide = make(map[domain.Side]string)
}

func (m *PositionManager) ResetStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened, m.closed, m.wins, m.losses = 0, 0, 0, 0
	m.realizedPnL = 0
}

// Restore loads open positions from the store, typically after a restart.
// Positions whose side is already held are skipped.
func (m *PositionManager) Restore(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	open, err := m.store.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("position_service: list open: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, pos := range open {
		if _, held := m.bySide[pos.Side]; held {
			continue
		}
		m.positions[pos.ID] = pos
		m.bySide[pos.Side] = pos.ID
		n++
	}
	return n, nil
}

func (m *PositionManager) publish(ctx context.Context, evt map[string]any) {
	if m.bus == nil {
		return
	}
	payload, _ := json.Marshal(evt)
	if err := m.bus.Publish(ctx, "positions", payload); err != nil {
		m.logger.WarnContext(ctx, "position_service: publish event failed",
			slog.String("error", err.Error()),
		)
	}
}
