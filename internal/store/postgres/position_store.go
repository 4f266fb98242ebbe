package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO positions (id, side, token_id, entry_price, size, take_profit_delta, stop_loss_delta, order_id, opened_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'open')`,
		p.ID, string(p.Side), p.TokenID, p.EntryPrice, p.Size,
		p.TakeProfitDelta, p.StopLossDelta, p.OrderID, p.EntryTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Close marks an open position closed. It returns domain.ErrNotFound when
// no open row matches.
func (s *PositionStore) Close(ctx context.Context, c domain.ClosedPosition) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE positions
		SET status = 'closed', exit_price = $2, realized_pnl = $3, closed_at = $4
		WHERE id = $1 AND status = 'open'`,
		c.ID, c.ExitPrice, c.RealizedPnL, c.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: close position %s: %w", c.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, side, token_id, entry_price, size, take_profit_delta, stop_loss_delta, order_id, opened_at
		FROM positions WHERE status = 'open' ORDER BY opened_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Position, error) {
		var p domain.Position
		var side string
		err := row.Scan(&p.ID, &side, &p.TokenID, &p.EntryPrice, &p.Size,
			&p.TakeProfitDelta, &p.StopLossDelta, &p.OrderID, &p.EntryTime)
		p.Side = domain.Side(side)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
