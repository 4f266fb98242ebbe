package polymarket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
)

// wsFake is a market-channel server. Every connection reports the frames it
// receives on msgs and writes whatever is pushed to out.
type wsFake struct {
	srv   *httptest.Server
	msgs  chan map[string]any
	out   chan string
	conns atomic.Int32
	// dropFirst closes the first connection right after its handshake.
	dropFirst bool
}

func newWSFake(t *testing.T, dropFirst bool) *wsFake {
	t.Helper()
	f := &wsFake{
		msgs:      make(chan map[string]any, 32),
		out:       make(chan string, 32),
		dropFirst: dropFirst,
	}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := f.conns.Add(1)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var m map[string]any
				if json.Unmarshal(data, &m) == nil {
					f.msgs <- m
				}
				if f.dropFirst && n == 1 {
					conn.Close()
					return
				}
			}
		}()

		for {
			select {
			case <-done:
				return
			case frame := <-f.out:
				if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *wsFake) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *wsFake) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case m := <-f.msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return nil
	}
}

func newTestWS(url string) *WSClient {
	return NewWSClient(WSConfig{URL: url, ReconnectInterval: 10 * time.Millisecond}, testLogger())
}

func ids(m map[string]any) []string {
	raw, _ := m["assets_ids"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		out = append(out, v.(string))
	}
	return out
}

const bookFrame = `{"event_type":"book","asset_id":"%s","market":"m","bids":[{"price":"0.40","size":"10"},{"price":"0.45","size":"1"}],"asks":[{"price":"0.60","size":"5"}],"timestamp":"1700000000000","hash":"h"}`

func book(asset string) string {
	return strings.Replace(bookFrame, "%s", asset, 1)
}

func TestWSClient_SubscribeGuards(t *testing.T) {
	c := newTestWS("ws://127.0.0.1:1")
	assert.False(t, c.Subscribe(nil, false))
	assert.True(t, c.Subscribe([]string{"a"}, false), "buffered while disconnected")
	assert.False(t, c.Unsubscribe([]string{"a"}), "unsubscribe needs a connection")
	assert.Equal(t, []string{"a"}, c.Subscribed())
	assert.Equal(t, StateDisconnected, c.State())
}

func TestWSClient_HandshakeAndBooks(t *testing.T) {
	f := newWSFake(t, false)
	c := newTestWS(f.url())

	got := make(chan domain.OrderbookSnapshot, 4)
	c.OnBookUpdate(func(b domain.OrderbookSnapshot) { panic("observer bug") })
	c.OnBookUpdate(func(b domain.OrderbookSnapshot) { got <- b })
	var errs atomic.Int32
	c.OnError(func(error) { errs.Add(1) })

	require.True(t, c.Subscribe([]string{"b", "a"}, false))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx, true) }()

	hs := f.next(t)
	assert.Equal(t, "MARKET", hs["type"])
	assert.Equal(t, []string{"a", "b"}, ids(hs))

	f.out <- "[" + book("a") + "]"
	f.out <- "PONG"
	f.out <- `{"event_type":"book",`
	f.out <- book("b")

	for _, want := range []string{"a", "b"} {
		select {
		case b := <-got:
			assert.Equal(t, want, b.AssetID)
			assert.InDelta(t, 0.45, b.BestBid(), 1e-9)
			assert.InDelta(t, 0.60, b.BestAsk(), 1e-9)
		case <-time.After(2 * time.Second):
			t.Fatalf("no book for %s", want)
		}
	}
	assert.Equal(t, StateConnected, c.State())
	assert.Len(t, c.Books(), 2)
	assert.Equal(t, int32(1), errs.Load(), "malformed frame reported once")

	require.NoError(t, c.Close())
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.Equal(t, StateDisconnected, c.State())
}

func TestWSClient_ReplaceSubscription(t *testing.T) {
	f := newWSFake(t, false)
	c := newTestWS(f.url())

	connected := make(chan struct{}, 1)
	c.OnConnect(func() { connected <- struct{}{} })
	c.Subscribe([]string{"old", "keep"}, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx, true)
	defer c.Close()

	<-connected
	f.next(t) // handshake

	f.out <- book("old")
	require.Eventually(t, func() bool { _, ok := c.Book("old"); return ok }, 2*time.Second, 5*time.Millisecond)

	require.True(t, c.Subscribe([]string{"keep", "new"}, true))

	unsub := f.next(t)
	assert.Equal(t, "unsubscribe", unsub["operation"])
	assert.Equal(t, []string{"old"}, ids(unsub))

	sub := f.next(t)
	assert.Equal(t, "subscribe", sub["operation"])
	assert.Equal(t, []string{"keep", "new"}, ids(sub))

	assert.Equal(t, []string{"keep", "new"}, c.Subscribed())
	_, ok := c.Book("old")
	assert.False(t, ok, "replace clears cached books")
}

func TestWSClient_Reconnects(t *testing.T) {
	f := newWSFake(t, true)
	c := newTestWS(f.url())

	var mu sync.Mutex
	var events []string
	record := func(e string) func() {
		return func() {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		}
	}
	c.OnConnect(record("connect"))
	c.OnDisconnect(record("disconnect"))
	c.Subscribe([]string{"a"}, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx, true)
	defer c.Close()

	assert.Equal(t, []string{"a"}, ids(f.next(t)))
	assert.Equal(t, []string{"a"}, ids(f.next(t)), "handshake resent after reconnect")
	assert.GreaterOrEqual(t, f.conns.Load(), int32(2))

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, []string{"connect", "disconnect", "connect"}, events[:3])
}

func TestWSClient_RunWithoutReconnect(t *testing.T) {
	c := newTestWS("ws://127.0.0.1:1")
	err := c.Run(context.Background(), false)
	assert.ErrorIs(t, err, domain.ErrWSDisconnect)
}
