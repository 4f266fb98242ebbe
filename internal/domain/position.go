package domain

import "time"

// ExitKind says which threshold a position crossed.
type ExitKind string

const (
	ExitNone       ExitKind = ""
	ExitTakeProfit ExitKind = "take_profit"
	ExitStopLoss   ExitKind = "stop_loss"
)

// Position is an open single-side holding with take-profit and stop-loss
// deltas fixed at entry.
type Position struct {
	ID              string
	Side            Side
	TokenID         string
	EntryPrice      float64
	Size            float64
	EntryTime       time.Time
	OrderID         string
	TakeProfitDelta float64
	StopLossDelta   float64
}

func (p Position) TakeProfitPrice() float64 { return p.EntryPrice + p.TakeProfitDelta }
func (p Position) StopLossPrice() float64   { return p.EntryPrice - p.StopLossDelta }

// PnL is the unrealized profit at current.
func (p Position) PnL(current float64) float64 {
	return (current - p.EntryPrice) * p.Size
}

// PnLPercent is the price move relative to entry, in percent.
func (p Position) PnLPercent(current float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (current - p.EntryPrice) / p.EntryPrice * 100
}

func (p Position) HoldTime(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// Exit evaluates the thresholds, take-profit first.
func (p Position) Exit(current float64) ExitKind {
	if current >= p.TakeProfitPrice() {
		return ExitTakeProfit
	}
	if current <= p.StopLossPrice() {
		return ExitStopLoss
	}
	return ExitNone
}

// PositionExit is one crossed threshold reported by an exit check.
type PositionExit struct {
	Position Position
	Kind     ExitKind
	PnL      float64
}

// PositionStats summarises the position lifecycle counters.
type PositionStats struct {
	TradesOpened  int
	TradesClosed  int
	OpenPositions int
	RealizedPnL   float64
	Wins          int
	Losses        int
	WinRate       float64 // percent
}

// ClosedPosition is the persisted record of a closed position.
type ClosedPosition struct {
	Position
	ExitPrice   float64
	RealizedPnL float64
	ClosedAt    time.Time
}
