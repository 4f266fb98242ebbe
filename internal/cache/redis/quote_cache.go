package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
)

// DefaultQuoteTTL expires quotes of markets the bot stopped watching.
const DefaultQuoteTTL = 30 * time.Minute

// QuoteCache implements domain.QuoteCache using one hash per asset at
// "price:{assetID}" with fields bid, ask, mid and ts (unix nanoseconds).
type QuoteCache struct {
	c   *Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache. A non-positive ttl selects
// DefaultQuoteTTL.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	if ttl <= 0 {
		ttl = DefaultQuoteTTL
	}
	return &QuoteCache{c: c, ttl: ttl}
}

func (qc *QuoteCache) priceKey(assetID string) string {
	return qc.c.Key("price:" + assetID)
}

func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := qc.priceKey(q.AssetID)
	pipe := qc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"bid": strconv.FormatFloat(q.BestBid, 'f', -1, 64),
		"ask": strconv.FormatFloat(q.BestAsk, 'f', -1, 64),
		"mid": strconv.FormatFloat(q.MidPrice, 'f', -1, 64),
		"ts":  strconv.FormatInt(q.Time.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, qc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.AssetID, err)
	}
	return nil
}

// GetQuote returns domain.ErrNotFound when no quote is cached.
func (qc *QuoteCache) GetQuote(ctx context.Context, assetID string) (domain.Quote, error) {
	vals, err := qc.c.rdb.HGetAll(ctx, qc.priceKey(assetID)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", assetID, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, fmt.Errorf("redis: quote %s: %w", assetID, domain.ErrNotFound)
	}
	q, err := parseQuote(assetID, vals)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse quote %s: %w", assetID, err)
	}
	return q, nil
}

// GetQuotes fetches several quotes in one pipeline. Missing or unparsable
// entries are omitted.
func (qc *QuoteCache) GetQuotes(ctx context.Context, assetIDs []string) (map[string]domain.Quote, error) {
	out := make(map[string]domain.Quote, len(assetIDs))
	if len(assetIDs) == 0 {
		return out, nil
	}

	pipe := qc.c.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(assetIDs))
	for _, id := range assetIDs {
		cmds[id] = pipe.HGetAll(ctx, qc.priceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		if q, err := parseQuote(id, vals); err == nil {
			out[id] = q
		}
	}
	return out, nil
}

func parseQuote(assetID string, vals map[string]string) (domain.Quote, error) {
	q := domain.Quote{AssetID: assetID}
	fields := []struct {
		name string
		dst  *float64
	}{
		{"bid", &q.BestBid},
		{"ask", &q.BestAsk},
		{"mid", &q.MidPrice},
	}
	for _, f := range fields {
		s, ok := vals[f.name]
		if !ok {
			return domain.Quote{}, fmt.Errorf("missing field %q", f.name)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Quote{}, fmt.Errorf("field %q: %w", f.name, err)
		}
		*f.dst = v
	}
	if ts, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		q.Time = time.Unix(0, ts)
	}
	return q, nil
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
