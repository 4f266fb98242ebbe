package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type memCache struct {
	mu     sync.Mutex
	quotes map[string]domain.Quote
	err    error
}

func (c *memCache) SetQuote(_ context.Context, q domain.Quote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.quotes == nil {
		c.quotes = make(map[string]domain.Quote)
	}
	c.quotes[q.AssetID] = q
	return nil
}

func (c *memCache) GetQuote(_ context.Context, id string) (domain.Quote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.quotes[id]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return q, nil
}

func (c *memCache) GetQuotes(ctx context.Context, ids []string) (map[string]domain.Quote, error) {
	out := make(map[string]domain.Quote)
	for _, id := range ids {
		if q, err := c.GetQuote(ctx, id); err == nil {
			out[id] = q
		}
	}
	return out, nil
}

type memBus struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (b *memBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (b *memBus) StreamAppend(context.Context, string, []byte) error       { return nil }
func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func book(asset string, bid, ask float64) domain.OrderbookSnapshot {
	return domain.NewOrderbookSnapshot(asset, "0xcond", 1_700_000_000_000,
		[]domain.PriceLevel{{Price: bid, Size: 10}},
		[]domain.PriceLevel{{Price: ask, Size: 10}}, "")
}

func TestQuoteRecorder_CoalescesPerAsset(t *testing.T) {
	cache := &memCache{}
	bus := &memBus{}
	r := NewQuoteRecorder(cache, bus, testLogger)

	require.NoError(t, r.OnBook(book("tok-up", 0.40, 0.42)))
	require.NoError(t, r.OnBook(book("tok-up", 0.44, 0.46)))
	require.NoError(t, r.OnBook(book("tok-down", 0.52, 0.55)))

	r.flush(context.Background())
	assert.Equal(t, 2, r.Written())

	q, err := cache.GetQuote(context.Background(), "tok-up")
	require.NoError(t, err)
	assert.InDelta(t, 0.44, q.BestBid, 1e-12)
	assert.InDelta(t, 0.46, q.BestAsk, 1e-12)
	assert.InDelta(t, 0.45, q.MidPrice, 1e-12)

	require.Len(t, bus.msgs, 2)
	var ev quoteEvent
	require.NoError(t, json.Unmarshal(bus.msgs[0], &ev))
	assert.Equal(t, "quote", ev.Event)
	assert.Equal(t, "0xcond", ev.Market)
}

func TestQuoteRecorder_CacheErrorNotCounted(t *testing.T) {
	r := NewQuoteRecorder(&memCache{err: errors.New("down")}, nil, testLogger)
	require.NoError(t, r.OnBook(book("tok-up", 0.40, 0.42)))
	r.flush(context.Background())
	assert.Zero(t, r.Written())
}

func TestQuoteRecorder_RunFlushesOnShutdown(t *testing.T) {
	cache := &memCache{}
	r := NewQuoteRecorder(cache, nil, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.NoError(t, r.OnBook(book("tok-up", 0.40, 0.42)))
	require.Eventually(t, func() bool { return r.Written() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("recorder did not stop")
	}
}
