package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/crypto"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
)

// DefaultRelayerURL is the production gasless relayer.
const DefaultRelayerURL = "https://relayer-v2.polymarket.com"

const defaultRelayerTimeout = 60 * time.Second

// RelayerResult is the relayer's answer to a submitted transaction.
type RelayerResult struct {
	TransactionID   string `json:"transactionID"`
	TransactionHash string `json:"transactionHash"`
	State           string `json:"state"`
}

// RelayerClient submits gasless Safe transactions through the Polymarket
// relayer. The relayer pays gas on the user's behalf, so the wallet does
// not need to hold MATIC. Requests are authenticated with builder
// credentials only.
type RelayerClient struct {
	baseURL    string
	httpClient *http.Client
	builder    *crypto.HMACAuth
	logger     *slog.Logger
}

// NewRelayerClient creates a relayer client. builder may be nil, in which
// case every call fails with domain.ErrUnauthorized.
func NewRelayerClient(baseURL string, builder *crypto.HMACAuth, logger *slog.Logger) *RelayerClient {
	if baseURL == "" {
		baseURL = DefaultRelayerURL
	}
	return &RelayerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultRelayerTimeout},
		builder:    builder,
		logger:     logger.With(slog.String("component", "polymarket_relayer")),
	}
}

// DeploySafe deploys the Safe wallet for safeAddress.
func (r *RelayerClient) DeploySafe(ctx context.Context, safeAddress string) (RelayerResult, error) {
	return r.post(ctx, "/deploy", map[string]string{"safeAddress": safeAddress})
}

// ApproveUSDC approves spender to move amount (base units) of USDC from the
// Safe.
func (r *RelayerClient) ApproveUSDC(ctx context.Context, safeAddress, spender string, amount int64) (RelayerResult, error) {
	return r.post(ctx, "/approve-usdc", map[string]string{
		"safeAddress": safeAddress,
		"spender":     spender,
		"amount":      strconv.FormatInt(amount, 10),
	})
}

// ApproveToken approves spender for an outcome token held by the Safe.
func (r *RelayerClient) ApproveToken(ctx context.Context, safeAddress, tokenID, spender string, amount int64) (RelayerResult, error) {
	return r.post(ctx, "/approve-token", map[string]string{
		"safeAddress": safeAddress,
		"tokenId":     tokenID,
		"spender":     spender,
		"amount":      strconv.FormatInt(amount, 10),
	})
}

func (r *RelayerClient) post(ctx context.Context, path string, body any) (RelayerResult, error) {
	if !r.builder.Configured() {
		return RelayerResult{}, fmt.Errorf("polymarket/relayer: %w: builder credentials not set", domain.ErrUnauthorized)
	}

	payload, err := encodeJSON(body)
	if err != nil {
		return RelayerResult{}, fmt.Errorf("polymarket/relayer: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return RelayerResult{}, fmt.Errorf("polymarket/relayer: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	headers, err := r.builder.BuilderHeaders(http.MethodPost, path, string(payload))
	if err != nil {
		return RelayerResult{}, fmt.Errorf("polymarket/relayer: sign: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return RelayerResult{}, fmt.Errorf("polymarket/relayer: %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return RelayerResult{}, fmt.Errorf("polymarket/relayer: read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return RelayerResult{}, fmt.Errorf("polymarket/relayer: %s: %w", path, err)
	}

	var result RelayerResult
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, &result); err != nil {
			return RelayerResult{}, fmt.Errorf("polymarket/relayer: decode: %w", err)
		}
	}
	r.logger.Info("relayer request accepted",
		slog.String("path", path),
		slog.String("transaction_id", result.TransactionID),
		slog.String("state", result.State),
	)
	return result, nil
}
