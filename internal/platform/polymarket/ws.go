package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
)

const (
	// MarketWSURL is the public market channel of the CLOB WebSocket.
	MarketWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

	defaultReconnectInterval = 5 * time.Second
	defaultPingInterval      = 20 * time.Second
	// receiveMargin is added to the ping interval to get the receive timeout.
	receiveMargin = 5 * time.Second

	writeWait        = 10 * time.Second
	handshakeTimeout = 15 * time.Second
)

// ConnState is the streaming client's connection state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// BookUpdateHandler is called when a full orderbook snapshot is received.
type BookUpdateHandler func(domain.OrderbookSnapshot)

// PriceChangeHandler is called with every price_change frame.
type PriceChangeHandler func(market string, changes []domain.PriceChange)

// LastTradePriceHandler is called when a last trade price message is received.
type LastTradePriceHandler func(domain.LastTradePrice)

// WSConfig configures a WSClient. Zero values select the defaults.
type WSConfig struct {
	URL               string
	ReconnectInterval time.Duration
	PingInterval      time.Duration
}

// WSClient is a WebSocket client for the Polymarket CLOB market channel. It
// keeps one connection, rebuilds the per-token order books from snapshot
// frames and dispatches events to registered handlers. Handler panics are
// recovered and logged.
type WSClient struct {
	cfg    WSConfig
	logger *slog.Logger
	dialer websocket.Dialer

	state atomic.Int32

	mu         sync.Mutex
	conn       *websocket.Conn
	subscribed map[string]struct{}
	books      map[string]domain.OrderbookSnapshot

	writeMu sync.Mutex

	handlerMu          sync.RWMutex
	bookHandlers       []BookUpdateHandler
	priceHandlers      []PriceChangeHandler
	lastTradeHandlers  []LastTradePriceHandler
	connectHandlers    []func()
	disconnectHandlers []func()
	errorHandlers      []func(error)

	closeOnce sync.Once
	done      chan struct{}
}

// NewWSClient creates a client; nothing is dialled until Connect or Run.
func NewWSClient(cfg WSConfig, logger *slog.Logger) *WSClient {
	if cfg.URL == "" {
		cfg.URL = MarketWSURL
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	return &WSClient{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "polymarket_ws")),
		dialer:     websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		subscribed: make(map[string]struct{}),
		books:      make(map[string]domain.OrderbookSnapshot),
		done:       make(chan struct{}),
	}
}

// State returns the current connection state.
func (w *WSClient) State() ConnState {
	return ConnState(w.state.Load())
}

func (w *WSClient) IsConnected() bool {
	return w.State() == StateConnected
}

// Connect dials the endpoint. It reports failure instead of returning an
// error so that callers can simply retry.
func (w *WSClient) Connect(ctx context.Context) bool {
	select {
	case <-w.done:
		return false
	default:
	}

	w.state.Store(int32(StateConnecting))
	conn, _, err := w.dialer.DialContext(ctx, w.cfg.URL, nil)
	if err != nil {
		w.state.Store(int32(StateDisconnected))
		w.logger.Error("connect failed", slog.String("url", w.cfg.URL), slog.String("error", err.Error()))
		w.fireError(fmt.Errorf("polymarket/ws: connect: %w", err))
		return false
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	w.state.Store(int32(StateConnected))

	w.logger.Info("connected", slog.String("url", w.cfg.URL))
	w.fireConnect()
	return true
}

// Subscribe adds ids to the subscription set. With replace the previous set
// and its cached books are dropped first, and ids that are no longer wanted
// are unsubscribed. When not connected the set is only recorded and goes out
// with the next handshake.
func (w *WSClient) Subscribe(ids []string, replace bool) bool {
	if len(ids) == 0 {
		return false
	}

	w.mu.Lock()
	var stale []string
	if replace {
		want := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			want[id] = struct{}{}
		}
		for id := range w.subscribed {
			if _, ok := want[id]; !ok {
				stale = append(stale, id)
			}
		}
		sort.Strings(stale)
		w.subscribed = make(map[string]struct{}, len(ids))
		w.books = make(map[string]domain.OrderbookSnapshot)
	}
	for _, id := range ids {
		w.subscribed[id] = struct{}{}
	}
	w.mu.Unlock()

	if !w.IsConnected() {
		w.logger.Info("not connected, subscription buffered for handshake", slog.Int("assets", len(ids)))
		return true
	}

	if len(stale) > 0 {
		if err := w.send(wsOperation{AssetsIDs: stale, Operation: "unsubscribe"}); err != nil {
			w.logger.Error("unsubscribe failed", slog.String("error", err.Error()))
			w.fireError(err)
			return false
		}
	}
	if err := w.send(wsOperation{AssetsIDs: ids, Operation: "subscribe"}); err != nil {
		w.logger.Error("subscribe failed", slog.String("error", err.Error()))
		w.fireError(err)
		return false
	}
	w.logger.Info("subscribed", slog.Int("assets", len(ids)), slog.Int("unsubscribed", len(stale)))
	return true
}

// SubscribeMore adds ids without touching the existing subscriptions.
func (w *WSClient) SubscribeMore(ids []string) bool {
	return w.Subscribe(ids, false)
}

// Unsubscribe removes ids. It needs a live connection.
func (w *WSClient) Unsubscribe(ids []string) bool {
	if len(ids) == 0 || !w.IsConnected() {
		return false
	}
	w.mu.Lock()
	for _, id := range ids {
		delete(w.subscribed, id)
		delete(w.books, id)
	}
	w.mu.Unlock()

	if err := w.send(wsOperation{AssetsIDs: ids, Operation: "unsubscribe"}); err != nil {
		w.logger.Error("unsubscribe failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

// Subscribed returns the current subscription set, sorted.
func (w *WSClient) Subscribed() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.subscribed))
	for id := range w.subscribed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Book returns the cached snapshot for an asset.
func (w *WSClient) Book(assetID string) (domain.OrderbookSnapshot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.books[assetID]
	return b, ok
}

// Books returns a copy of the snapshot cache.
func (w *WSClient) Books() map[string]domain.OrderbookSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]domain.OrderbookSnapshot, len(w.books))
	for k, v := range w.books {
		out[k] = v
	}
	return out
}

// Run drives the connection until ctx is cancelled or Close is called. A
// dropped connection fires the disconnect handlers and, with autoReconnect,
// is redialled after the reconnect interval. Without autoReconnect the first
// failure is returned.
func (w *WSClient) Run(ctx context.Context, autoReconnect bool) error {
	for {
		if w.stopped(ctx) {
			return nil
		}

		if !w.Connect(ctx) {
			if !autoReconnect {
				return fmt.Errorf("polymarket/ws: %w: connect failed", domain.ErrWSDisconnect)
			}
			w.logger.Info("reconnecting", slog.Duration("in", w.cfg.ReconnectInterval))
			if !w.sleep(ctx, w.cfg.ReconnectInterval) {
				return nil
			}
			continue
		}

		err := w.session(ctx)

		w.dropConn()
		w.fireDisconnect()

		if w.stopped(ctx) {
			return nil
		}
		if !autoReconnect {
			return err
		}
		if err != nil {
			w.logger.Warn("connection lost", slog.String("error", err.Error()))
		}
		w.logger.Info("reconnecting", slog.Duration("in", w.cfg.ReconnectInterval))
		if !w.sleep(ctx, w.cfg.ReconnectInterval) {
			return nil
		}
	}
}

// Close stops Run and closes the connection. A pending read is abandoned.
func (w *WSClient) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		conn := w.conn
		w.conn = nil
		w.mu.Unlock()
		w.state.Store(int32(StateDisconnected))
		if conn != nil {
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			err = conn.Close()
		}
	})
	return err
}

// OnBookUpdate registers a handler for every "book" frame.
func (w *WSClient) OnBookUpdate(h BookUpdateHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.bookHandlers = append(w.bookHandlers, h)
}

func (w *WSClient) OnPriceChange(h PriceChangeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.priceHandlers = append(w.priceHandlers, h)
}

func (w *WSClient) OnLastTradePrice(h LastTradePriceHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.lastTradeHandlers = append(w.lastTradeHandlers, h)
}

func (w *WSClient) OnConnect(h func()) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.connectHandlers = append(w.connectHandlers, h)
}

func (w *WSClient) OnDisconnect(h func()) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.disconnectHandlers = append(w.disconnectHandlers, h)
}

func (w *WSClient) OnError(h func(error)) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.errorHandlers = append(w.errorHandlers, h)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// session sends the handshake and reads frames until the connection fails
// or the client is stopped.
func (w *WSClient) session(ctx context.Context) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("polymarket/ws: %w", domain.ErrWSDisconnect)
	}

	if ids := w.Subscribed(); len(ids) > 0 {
		w.logger.Info("sending handshake", slog.Int("assets", len(ids)))
		if err := w.send(wsHandshake{AssetsIDs: ids, Type: "MARKET"}); err != nil {
			return err
		}
	}

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- msg:
			case <-stop:
				return
			}
		}
	}()

	go w.pingLoop(conn, stop)

	timeout := w.cfg.PingInterval + receiveMargin
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			return nil
		case err := <-readErr:
			return fmt.Errorf("polymarket/ws: %w: %v", domain.ErrWSDisconnect, err)
		case msg := <-frames:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(timeout)
			w.handleFrame(msg)
		case <-timer.C:
			w.logger.Warn("receive timeout", slog.Duration("after", timeout))
			timer.Reset(timeout)
		}
	}
}

func (w *WSClient) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				w.logger.Debug("ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// handleFrame parses one text frame, which holds a JSON object or an array
// of them. Non-JSON keep-alive payloads are ignored and malformed JSON is
// logged and skipped.
func (w *WSClient) handleFrame(raw []byte) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || (raw[0] != '{' && raw[0] != '[') {
		return
	}

	if raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			w.parseError(err)
			return
		}
		for _, item := range items {
			w.dispatch(item)
		}
		return
	}
	w.dispatch(raw)
}

func (w *WSClient) dispatch(raw []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		w.parseError(err)
		return
	}

	switch env.EventType {
	case "book":
		var msg BookMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			w.parseError(err)
			return
		}
		snap := BookToDomainSnapshot(&msg)
		w.mu.Lock()
		w.books[snap.AssetID] = snap
		w.mu.Unlock()

		w.handlerMu.RLock()
		handlers := w.bookHandlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			w.safeCall("book", func() { h(snap) })
		}

	case "price_change":
		var msg PriceChangeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			w.parseError(err)
			return
		}
		changes := PriceChangesToDomain(&msg)

		w.handlerMu.RLock()
		handlers := w.priceHandlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			w.safeCall("price_change", func() { h(msg.Market, changes) })
		}

	case "last_trade_price":
		var msg LastTradeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			w.parseError(err)
			return
		}
		trade := LastTradeToDomain(&msg)

		w.handlerMu.RLock()
		handlers := w.lastTradeHandlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			w.safeCall("last_trade_price", func() { h(trade) })
		}
	}
}

func (w *WSClient) parseError(err error) {
	w.logger.Error("failed to parse frame", slog.String("error", err.Error()))
	w.fireError(fmt.Errorf("polymarket/ws: parse: %w", err))
}

// safeCall runs a handler and logs a panic instead of propagating it.
func (w *WSClient) safeCall(label string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("handler panicked", slog.String("handler", label), slog.Any("panic", r))
		}
	}()
	fn()
}

func (w *WSClient) fireConnect() {
	w.handlerMu.RLock()
	handlers := w.connectHandlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		w.safeCall("connect", h)
	}
}

func (w *WSClient) fireDisconnect() {
	w.handlerMu.RLock()
	handlers := w.disconnectHandlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		w.safeCall("disconnect", h)
	}
}

func (w *WSClient) fireError(err error) {
	w.handlerMu.RLock()
	handlers := w.errorHandlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		w.safeCall("error", func() { h(err) })
	}
}

// send writes one JSON text frame.
func (w *WSClient) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("polymarket/ws: marshal: %w", err)
	}

	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("polymarket/ws: %w", domain.ErrWSDisconnect)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("polymarket/ws: write: %w", err)
	}
	return nil
}

func (w *WSClient) dropConn() {
	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()
	w.state.Store(int32(StateDisconnected))
	if conn != nil {
		conn.Close()
	}
}

func (w *WSClient) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// sleep waits for d and reports false if the client was stopped meanwhile.
func (w *WSClient) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-w.done:
		return false
	case <-t.C:
		return true
	}
}
