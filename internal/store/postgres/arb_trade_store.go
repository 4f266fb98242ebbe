package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
)

// ArbTradeStore implements domain.ArbTradeStore. Rows are tagged with the
// session that wrote them.
type ArbTradeStore struct {
	pool      *pgxpool.Pool
	sessionID string
}

func NewArbTradeStore(pool *pgxpool.Pool, sessionID string) *ArbTradeStore {
	return &ArbTradeStore{pool: pool, sessionID: sessionID}
}

const arbTradeCols = `id, market_slug, up_ask, down_ask, ask_sum, spread, size,
	up_price, down_price, up_order_ok, down_order_ok, up_order_id, down_order_id, traded_at`

// Insert stores one trade attempt whatever its outcome.
func (s *ArbTradeStore) Insert(ctx context.Context, t domain.ArbTrade) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO arb_trades (session_id, market_slug, up_ask, down_ask, ask_sum, spread, size,
			up_price, down_price, up_order_ok, down_order_ok, up_order_id, down_order_id, status, traded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		s.sessionID, t.MarketSlug, t.UpAsk, t.DownAsk, t.AskSum, t.Spread, t.Size,
		t.UpPrice, t.DownPrice, t.UpOrderOK, t.DownOrderOK, t.UpOrderID, t.DownOrderID,
		t.Status(), t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert arb_trade %s: %w", t.MarketSlug, err)
	}
	return nil
}

// ListRecent returns the newest trades first.
func (s *ArbTradeStore) ListRecent(ctx context.Context, limit int) ([]domain.ArbTrade, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+arbTradeCols+` FROM arb_trades ORDER BY traded_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list arb_trades: %w", err)
	}
	defer rows.Close()

	trades, err := pgx.CollectRows(rows, scanArbTrade)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan arb_trades: %w", err)
	}
	return trades, nil
}

// SumProfit totals spread*size over fully filled trades since the given time.
func (s *ArbTradeStore) SumProfit(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(spread * size), 0)
		FROM arb_trades
		WHERE up_order_ok AND down_order_ok AND traded_at >= $1`, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum arb profit: %w", err)
	}
	return total, nil
}

func scanArbTrade(row pgx.CollectableRow) (domain.ArbTrade, error) {
	var t domain.ArbTrade
	var id int64
	err := row.Scan(
		&id, &t.MarketSlug, &t.UpAsk, &t.DownAsk, &t.AskSum, &t.Spread, &t.Size,
		&t.UpPrice, &t.DownPrice, &t.UpOrderOK, &t.DownOrderOK, &t.UpOrderID, &t.DownOrderID,
		&t.Timestamp,
	)
	t.ID = int(id)
	return t, err
}

var _ domain.ArbTradeStore = (*ArbTradeStore)(nil)
