package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuote(t *testing.T) {
	q, err := parseQuote("tok", map[string]string{
		"bid": "0.45",
		"ask": "0.47",
		"mid": "0.46",
		"ts":  "1700000000000000000",
	})
	require.NoError(t, err)
	assert.Equal(t, "tok", q.AssetID)
	assert.InDelta(t, 0.45, q.BestBid, 1e-12)
	assert.InDelta(t, 0.47, q.BestAsk, 1e-12)
	assert.InDelta(t, 0.46, q.MidPrice, 1e-12)
	assert.True(t, q.Time.Equal(time.Unix(1_700_000_000, 0)))
}

func TestParseQuote_Invalid(t *testing.T) {
	_, err := parseQuote("tok", map[string]string{"bid": "0.45", "ask": "x", "mid": "0.5"})
	require.Error(t, err)

	_, err = parseQuote("tok", map[string]string{"bid": "0.45"})
	require.Error(t, err)
}

func TestClientKeyPrefix(t *testing.T) {
	c := &Client{prefix: "polybot:"}
	assert.Equal(t, "polybot:price:tok", NewQuoteCache(c, 0).priceKey("tok"))
	assert.Equal(t, "polybot:lock:session", NewLockManager(c).lockKey("session"))
	assert.Equal(t, "polybot:ratelimit:orders:0xabc", NewRateLimiter(c).rateLimitKey("orders:0xabc"))
}
