package domain

import (
	"context"
	"time"
)

// ArbTradeStore persists every paired trade attempt.
type ArbTradeStore interface {
	Insert(ctx context.Context, trade ArbTrade) error
	ListRecent(ctx context.Context, limit int) ([]ArbTrade, error)
	SumProfit(ctx context.Context, since time.Time) (float64, error)
}

// PositionStore persists the flash-crash position lifecycle.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Close(ctx context.Context, closed ClosedPosition) error
	ListOpen(ctx context.Context) ([]Position, error)
}
