package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
)

func TestWindowSlug(t *testing.T) {
	g := NewGammaClient("", testLogger())
	at := time.Date(2026, 1, 1, 0, 7, 30, 0, time.UTC)

	assert.Equal(t, "btc-updown-15m-1767225600", g.WindowSlug("BTC", Interval15m, at))
	assert.Equal(t, "eth-updown-15m-1767226500", g.WindowSlug("eth", Interval15m, at.Add(15*time.Minute)))

	// 20:00 UTC is 3pm Eastern in January.
	hourly := time.Date(2026, 1, 1, 20, 10, 0, 0, time.UTC)
	assert.Equal(t, "bitcoin-up-or-down-january-1-3pm-et", g.WindowSlug("BTC", Interval1h, hourly))
}

const upDownEvent = `[{
	"id": "1",
	"title": "Bitcoin Up or Down",
	"slug": "%s",
	"endDate": "2026-01-01T00:30:00Z",
	"closed": false,
	"markets": [{
		"question": "Bitcoin Up or Down?",
		"outcomes": "[\"Up\", \"Down\"]",
		"outcomePrices": "[\"0.51\", \"0.49\"]",
		"clobTokenIds": "[\"111\", \"222\"]",
		"acceptingOrders": true
	}]
}]`

func TestDiscoverMarket_FallsBackToNextWindow(t *testing.T) {
	var (
		mu    sync.Mutex
		slugs []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events", r.URL.Path)
		slug := r.URL.Query().Get("slug")
		mu.Lock()
		slugs = append(slugs, slug)
		mu.Unlock()
		if slug == "btc-updown-15m-1767226500" {
			w.Write([]byte(`[{"slug":"` + slug + `","endDate":"2026-01-01T00:30:00Z","markets":[{"outcomes":["Up","Down"],"clobTokenIds":["111","222"]}]}]`))
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL, testLogger())
	g.now = func() time.Time { return time.Date(2026, 1, 1, 0, 7, 30, 0, time.UTC) }

	info, err := g.DiscoverMarket(context.Background(), "btc", Interval15m)
	require.NoError(t, err)
	require.NotNil(t, info)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"btc-updown-15m-1767225600", "btc-updown-15m-1767226500"}, slugs)
	assert.Equal(t, "btc-updown-15m-1767226500", info.Slug)
	assert.Equal(t, "111", info.TokenID(domain.SideUp))
	assert.Equal(t, "222", info.TokenID(domain.SideDown))
	assert.True(t, info.AcceptingOrders)
}

func TestDiscoverMarket_SkipsWindowNotAcceptingOrders(t *testing.T) {
	var (
		mu    sync.Mutex
		slugs []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slug := r.URL.Query().Get("slug")
		mu.Lock()
		slugs = append(slugs, slug)
		mu.Unlock()
		switch slug {
		case "btc-updown-15m-1767261600":
			w.Write([]byte(`[{"slug":"` + slug + `","markets":[{"outcomes":["Up","Down"],"clobTokenIds":["111","222"],"acceptingOrders":false}]}]`))
		case "btc-updown-15m-1767262500":
			w.Write([]byte(`[{"slug":"` + slug + `","markets":[{"outcomes":["Up","Down"],"clobTokenIds":["333","444"],"acceptingOrders":true}]}]`))
		default:
			w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL, testLogger())
	g.now = func() time.Time { return time.Date(2026, 1, 1, 10, 14, 50, 0, time.UTC) }

	info, err := g.DiscoverMarket(context.Background(), "btc", Interval15m)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "btc-updown-15m-1767262500", info.Slug)
	assert.True(t, info.AcceptingOrders)
	assert.Equal(t, "333", info.TokenID(domain.SideUp))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"btc-updown-15m-1767261600", "btc-updown-15m-1767262500"}, slugs)
}

func TestDiscoverMarket_OnlyClosedWindowReturnedAsIs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slug := r.URL.Query().Get("slug")
		if slug == "btc-updown-15m-1767261600" {
			w.Write([]byte(`[{"slug":"` + slug + `","markets":[{"outcomes":["Up","Down"],"clobTokenIds":["111","222"],"acceptingOrders":false}]}]`))
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL, testLogger())
	g.now = func() time.Time { return time.Date(2026, 1, 1, 10, 14, 50, 0, time.UTC) }

	info, err := g.DiscoverMarket(context.Background(), "btc", Interval15m)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "btc-updown-15m-1767261600", info.Slug)
	assert.False(t, info.AcceptingOrders)
}

func TestDiscoverMarket_NoEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL, testLogger())
	info, err := g.DiscoverMarket(context.Background(), "sol", Interval15m)
	require.NoError(t, err)
	assert.Nil(t, info)

	_, err = g.DiscoverMarket(context.Background(), "doge", Interval15m)
	assert.Error(t, err)
}

func TestMarketFromEvent(t *testing.T) {
	var events []APIEvent
	require.NoError(t, json.Unmarshal([]byte(fmt.Sprintf(upDownEvent, "btc-updown-15m-1")), &events))
	require.Len(t, events, 1)

	info, ok := MarketFromEvent(&events[0])
	require.True(t, ok)
	assert.Equal(t, "Bitcoin Up or Down", info.Question)
	assert.Equal(t, "2026-01-01T00:30:00Z", info.EndDate)
	assert.InDelta(t, 0.51, info.Prices[domain.SideUp], 1e-9)
	assert.InDelta(t, 0.49, info.Prices[domain.SideDown], 1e-9)
	assert.True(t, info.AcceptingOrders)

	closed := APIEvent{Slug: "x", Closed: true, Markets: []APIMarket{{
		Outcomes:     stringList{"Up", "Down"},
		ClobTokenIDs: stringList{"1", "2"},
	}}}
	info, ok = MarketFromEvent(&closed)
	require.True(t, ok)
	assert.False(t, info.AcceptingOrders)

	oneSided := APIEvent{Markets: []APIMarket{{Outcomes: stringList{"Up"}, ClobTokenIDs: stringList{"1"}}}}
	_, ok = MarketFromEvent(&oneSided)
	assert.False(t, ok)
}
