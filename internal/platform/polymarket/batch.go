package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/crypto"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
)

// ErrUnrecognizedBatchShape is returned when a batch response is neither an
// array, a {results|data: [...]} wrapper nor a single order result.
var ErrUnrecognizedBatchShape = errors.New("unrecognized batch response shape")

// BatchLeg is one order of a paired submission.
type BatchLeg struct {
	Side  domain.Side
	Order domain.OrderRequest
}

// ParseBatchResponse decodes a POST /orders response into exactly n results
// in submission order. Results missing from the response become failed
// entries.
func ParseBatchResponse(body []byte, n int) ([]domain.OrderResult, error) {
	items, err := batchItems(body)
	if err != nil {
		return nil, err
	}

	out := make([]domain.OrderResult, n)
	for i := range out {
		if i >= len(items) {
			out[i] = domain.OrderResult{ErrorMsg: fmt.Sprintf("no result for order %d", i)}
			continue
		}
		var r APIOrderResult
		if err := json.Unmarshal(items[i], &r); err != nil {
			out[i] = domain.OrderResult{ErrorMsg: fmt.Sprintf("undecodable result: %s", string(items[i]))}
			continue
		}
		out[i] = r.toDomain()
	}
	return out, nil
}

func batchItems(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("polymarket/clob: %w: empty body", ErrUnrecognizedBatchShape)
	}

	switch body[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("polymarket/clob: %w: %v", ErrUnrecognizedBatchShape, err)
		}
		return items, nil

	case '{':
		var wrapped struct {
			Results json.RawMessage `json:"results"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("polymarket/clob: %w: %v", ErrUnrecognizedBatchShape, err)
		}
		for _, inner := range []json.RawMessage{wrapped.Results, wrapped.Data} {
			inner = bytes.TrimSpace(inner)
			if len(inner) > 0 && inner[0] == '[' {
				var items []json.RawMessage
				if err := json.Unmarshal(inner, &items); err != nil {
					return nil, fmt.Errorf("polymarket/clob: %w: %v", ErrUnrecognizedBatchShape, err)
				}
				return items, nil
			}
		}

		var single APIOrderResult
		if err := json.Unmarshal(body, &single); err == nil && single.recognised() {
			return []json.RawMessage{body}, nil
		}
	}
	return nil, fmt.Errorf("polymarket/clob: %w: %.200s", ErrUnrecognizedBatchShape, string(body))
}

// PlaceBatch signs every leg and submits them in one POST /orders request.
// It always returns one LegResult per leg; when the request itself fails
// every leg is marked failed and the error is returned as well.
func (c *ClobClient) PlaceBatch(ctx context.Context, legs []BatchLeg, orderType domain.OrderType) ([]domain.LegResult, error) {
	results := make([]domain.LegResult, len(legs))
	for i, leg := range legs {
		results[i] = domain.LegResult{Side: leg.Side, TokenID: leg.Order.TokenID}
	}
	fail := func(err error) ([]domain.LegResult, error) {
		for i := range results {
			results[i].OK = false
			results[i].Err = err.Error()
		}
		return results, err
	}

	signed := make([]crypto.SignedOrder, len(legs))
	for i, leg := range legs {
		so, err := c.CreateOrder(leg.Order)
		if err != nil {
			return fail(fmt.Errorf("polymarket/clob: sign %s leg: %w", leg.Side, err))
		}
		signed[i] = so
	}

	body, err := c.PostOrders(ctx, signed, orderType)
	if err != nil {
		return fail(err)
	}

	parsed, err := ParseBatchResponse(body, len(legs))
	if err != nil {
		c.logger.Warn("unexpected batch response", slog.String("body", string(body)))
		return fail(err)
	}

	for i, r := range parsed {
		results[i].OK = r.Success
		results[i].OrderID = r.OrderID
		results[i].Status = r.Status
		results[i].Err = r.ErrorMsg
	}
	return results, nil
}
