package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/crypto"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
)

const (
	// DefaultClobURL is the production CLOB API root.
	DefaultClobURL = "https://clob.polymarket.com"

	defaultClobTimeout  = 30 * time.Second
	defaultRetryCount   = 3
	defaultRetryBackoff = time.Second
)

// ClobConfig configures a ClobClient. Zero durations and counts select the
// defaults.
type ClobConfig struct {
	BaseURL       string
	ChainID       int64
	SignatureType int
	Funder        string
	Timeout       time.Duration
	RetryCount    int
	RetryBackoff  time.Duration
}

// HTTPError is a non-2xx response. It unwraps to the matching domain
// sentinel for 401/403, 404 and 429.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrUnauthorized
	case http.StatusTooManyRequests:
		return domain.ErrRateLimited
	default:
		return nil
	}
}

type authMode int

const (
	authNone authMode = iota
	authL1
	authL2
)

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. It handles credential bootstrap, order placement,
// cancellation and queries. It is safe for concurrent use.
type ClobClient struct {
	cfg        ClobConfig
	httpClient *http.Client
	signer     *crypto.Signer
	builder    *crypto.HMACAuth
	logger     *slog.Logger

	mu    sync.RWMutex
	creds *crypto.HMACAuth
}

// NewClobClient creates a new CLOB REST client.
//
// signer may be nil for a read-only client. builder carries the optional
// builder credentials; when configured their headers are added to every L2
// request.
func NewClobClient(cfg ClobConfig, signer *crypto.Signer, builder *crypto.HMACAuth, logger *slog.Logger) *ClobClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultClobURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ChainID == 0 {
		cfg.ChainID = crypto.PolygonChainID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultClobTimeout
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = defaultRetryCount
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	return &ClobClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		signer:     signer,
		builder:    builder,
		logger:     logger.With(slog.String("component", "polymarket_clob")),
	}
}

// SetCredentials installs L2 API credentials.
func (c *ClobClient) SetCredentials(creds domain.ApiCredentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = &crypto.HMACAuth{Key: creds.APIKey, Secret: creds.Secret, Passphrase: creds.Passphrase}
}

// Credentials returns the installed L2 credentials, if any.
func (c *ClobClient) Credentials() (domain.ApiCredentials, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.creds.Configured() {
		return domain.ApiCredentials{}, false
	}
	return domain.ApiCredentials{APIKey: c.creds.Key, Secret: c.creds.Secret, Passphrase: c.creds.Passphrase}, true
}

// Address is the value sent as POLY_ADDRESS: the signer, else the funder.
func (c *ClobClient) Address() string {
	if c.signer != nil {
		return c.signer.Address().Hex()
	}
	return c.cfg.Funder
}

// --------------------------------------------------------------------------
// Credential bootstrap (L1)
// --------------------------------------------------------------------------

// CreateAPIKey creates new API credentials and installs them.
func (c *ClobClient) CreateAPIKey(ctx context.Context) (domain.ApiCredentials, error) {
	return c.apiKey(ctx, http.MethodPost, "/auth/api-key")
}

// DeriveAPIKey derives the existing API credentials and installs them.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) (domain.ApiCredentials, error) {
	return c.apiKey(ctx, http.MethodGet, "/auth/derive-api-key")
}

// CreateOrDeriveAPIKey tries to create credentials and falls back to
// deriving them when the key already exists.
func (c *ClobClient) CreateOrDeriveAPIKey(ctx context.Context) (domain.ApiCredentials, error) {
	creds, err := c.CreateAPIKey(ctx)
	if err == nil {
		return creds, nil
	}
	c.logger.Info("create api key failed, deriving", slog.String("error", err.Error()))
	return c.DeriveAPIKey(ctx)
}

func (c *ClobClient) apiKey(ctx context.Context, method, path string) (domain.ApiCredentials, error) {
	respBody, err := c.do(ctx, method, path, nil, nil, authL1)
	if err != nil {
		return domain.ApiCredentials{}, fmt.Errorf("polymarket/clob: %s %s: %w", method, path, err)
	}

	var resp apiCredsResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return domain.ApiCredentials{}, fmt.Errorf("polymarket/clob: decode api key: %w", err)
	}
	creds := domain.ApiCredentials{APIKey: resp.APIKey, Secret: resp.Secret, Passphrase: resp.Passphrase}
	if !creds.Valid() {
		return domain.ApiCredentials{}, fmt.Errorf("polymarket/clob: %w: incomplete api key response", domain.ErrUnauthorized)
	}
	c.SetCredentials(creds)
	return creds, nil
}

// --------------------------------------------------------------------------
// Market data (public)
// --------------------------------------------------------------------------

// GetOrderBook fetches the REST order book for a token.
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (domain.OrderbookSnapshot, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/book", url.Values{"token_id": {tokenID}}, nil, authNone)
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}

	var msg BookMessage
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}
	if msg.AssetID == "" {
		msg.AssetID = tokenID
	}
	return BookToDomainSnapshot(&msg), nil
}

// GetPrice fetches the last price for a token.
func (c *ClobClient) GetPrice(ctx context.Context, tokenID string) (float64, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/price", url.Values{"token_id": {tokenID}}, nil, authNone)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: get price %s: %w", tokenID, err)
	}

	var resp priceResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode price: %w", err)
	}
	return float64(resp.Price), nil
}

// --------------------------------------------------------------------------
// Orders (L2)
// --------------------------------------------------------------------------

// CreateOrder signs an order request with the client's signature type and
// funder.
func (c *ClobClient) CreateOrder(order domain.OrderRequest) (crypto.SignedOrder, error) {
	if c.signer == nil {
		return crypto.SignedOrder{}, fmt.Errorf("polymarket/clob: %w: no signer configured", domain.ErrSigningFailed)
	}
	return c.signer.SignOrder(order, c.cfg.SignatureType, c.cfg.Funder)
}

// PostOrder submits a signed order and returns the venue result. A rejected
// order is returned with Success false and no error.
func (c *ClobClient) PostOrder(ctx context.Context, order crypto.SignedOrder, orderType domain.OrderType) (domain.OrderResult, error) {
	body := orderEnvelope{Order: order, Owner: c.owner(), OrderType: string(orderType)}

	respBody, err := c.do(ctx, http.MethodPost, "/order", nil, body, authL2)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	return apiResult.toDomain(), nil
}

// PostOrders submits several signed orders in one request and returns the
// raw response body. See ParseBatchResponse.
func (c *ClobClient) PostOrders(ctx context.Context, orders []crypto.SignedOrder, orderType domain.OrderType) ([]byte, error) {
	if len(orders) == 0 {
		return nil, fmt.Errorf("polymarket/clob: %w: empty batch", domain.ErrInvalidOrder)
	}
	body := batchEnvelope{Orders: make([]any, len(orders)), Owner: c.owner(), OrderType: string(orderType)}
	for i := range orders {
		body.Orders[i] = orders[i]
	}

	respBody, err := c.do(ctx, http.MethodPost, "/orders", nil, body, authL2)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: post orders: %w", err)
	}
	return respBody, nil
}

// CancelOrder cancels a single order by its ID.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/order", nil, map[string]string{"orderID": orderID}, authL2)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}
	return nil
}

// CancelOrders cancels several orders by ID.
func (c *ClobClient) CancelOrders(ctx context.Context, orderIDs []string) error {
	_, err := c.do(ctx, http.MethodDelete, "/orders", nil, orderIDs, authL2)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel orders: %w", err)
	}
	return nil
}

// CancelAll cancels all open orders for the authenticated wallet.
func (c *ClobClient) CancelAll(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodDelete, "/cancel-all", nil, nil, authL2); err != nil {
		return fmt.Errorf("polymarket/clob: cancel all: %w", err)
	}
	return nil
}

// CancelMarketOrders cancels open orders for a market and/or asset. Empty
// arguments are omitted from the body.
func (c *ClobClient) CancelMarketOrders(ctx context.Context, market, assetID string) error {
	body := map[string]string{}
	if market != "" {
		body["market"] = market
	}
	if assetID != "" {
		body["asset_id"] = assetID
	}
	if _, err := c.do(ctx, http.MethodDelete, "/cancel-market-orders", nil, body, authL2); err != nil {
		return fmt.Errorf("polymarket/clob: cancel market orders: %w", err)
	}
	return nil
}

// GetOpenOrders returns open orders, optionally filtered by token.
func (c *ClobClient) GetOpenOrders(ctx context.Context, tokenID string, limit int) ([]APIOrder, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/data/orders", listQuery(tokenID, limit), nil, authL2)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: get open orders: %w", err)
	}

	var orders []APIOrder
	if err := decodeList(respBody, &orders); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode orders: %w", err)
	}
	return orders, nil
}

// GetOrder retrieves a single order by ID.
func (c *ClobClient) GetOrder(ctx context.Context, orderID string) (APIOrder, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/data/order/"+url.PathEscape(orderID), nil, nil, authL2)
	if err != nil {
		return APIOrder{}, fmt.Errorf("polymarket/clob: get order %s: %w", orderID, err)
	}

	var order APIOrder
	if err := json.Unmarshal(respBody, &order); err != nil {
		return APIOrder{}, fmt.Errorf("polymarket/clob: decode order: %w", err)
	}
	return order, nil
}

// GetTrades returns the wallet's fills, optionally filtered by token.
func (c *ClobClient) GetTrades(ctx context.Context, tokenID string, limit int) ([]APITrade, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/data/trades", listQuery(tokenID, limit), nil, authL2)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: get trades: %w", err)
	}

	var trades []APITrade
	if err := decodeList(respBody, &trades); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode trades: %w", err)
	}
	return trades, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *ClobClient) owner() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.creds != nil && c.creds.Key != "" {
		return c.creds.Key
	}
	return c.cfg.Funder
}

// do builds, authenticates, sends and reads a request against the CLOB API
// and returns the raw response body. Transport failures are retried with
// exponential backoff; HTTP errors are returned immediately.
func (c *ClobClient) do(ctx context.Context, method, path string, query url.Values, body any, auth authMode) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = encodeJSON(body); err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	var creds *crypto.HMACAuth
	if auth == authL2 {
		c.mu.RLock()
		creds = c.creds
		c.mu.RUnlock()
		if !creds.Configured() {
			return nil, fmt.Errorf("%w: api credentials not set", domain.ErrUnauthorized)
		}
	}
	if auth == authL1 && c.signer == nil {
		return nil, fmt.Errorf("%w: no signer configured", domain.ErrUnauthorized)
	}

	target := c.cfg.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.RetryCount; attempt++ {
		if attempt > 0 {
			wait := c.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			c.logger.Warn("retrying request",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", wait),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := c.newRequest(ctx, method, target, path, payload, auth, creds)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
			return nil, err
		}
		return respBody, nil
	}
	return nil, lastErr
}

func (c *ClobClient) newRequest(ctx context.Context, method, target, path string, payload []byte, auth authMode, creds *crypto.HMACAuth) (*http.Request, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	switch auth {
	case authL1:
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		var nonce int64
		sig, err := c.signer.SignAuth(ts, nonce)
		if err != nil {
			return nil, fmt.Errorf("sign auth message: %w", err)
		}
		req.Header.Set("POLY_ADDRESS", c.signer.Address().Hex())
		req.Header.Set("POLY_SIGNATURE", sig)
		req.Header.Set("POLY_TIMESTAMP", ts)
		req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	case authL2:
		headers, err := creds.L2Headers(c.Address(), method, path, string(payload))
		if err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if c.builder.Configured() {
			bh, err := c.builder.BuilderHeaders(method, path, string(payload))
			if err != nil {
				return nil, fmt.Errorf("sign builder request: %w", err)
			}
			for k, v := range bh {
				req.Header.Set(k, v)
			}
		}
	}
	return req, nil
}

// encodeJSON marshals compactly without HTML escaping so that the signed
// body matches the bytes on the wire.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// decodeList accepts either a bare array or an object wrapping it in "data".
func decodeList(body []byte, out any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return err
		}
		if len(wrapped.Data) == 0 || string(wrapped.Data) == "null" {
			return nil
		}
		trimmed = wrapped.Data
	}
	return json.Unmarshal(trimmed, out)
}

func listQuery(tokenID string, limit int) url.Values {
	q := url.Values{}
	if tokenID != "" {
		q.Set("token_id", tokenID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

// checkHTTPStatus maps non-2xx status codes to an *HTTPError that unwraps
// to the appropriate domain error.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	return &HTTPError{StatusCode: statusCode, Body: string(body)}
}

