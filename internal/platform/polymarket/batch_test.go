package polymarket

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
)

func TestParseBatchResponse_Shapes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"array", `[{"success":true,"orderID":"a"},{"success":false,"errorMsg":"not enough balance"}]`},
		{"results wrapper", `{"results":[{"success":true,"orderId":"a"},{"success":false,"errorMsg":"not enough balance"}]}`},
		{"data wrapper", `{"data":[{"success":true,"orderID":"a"},{"success":false,"errorMsg":"not enough balance"}]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseBatchResponse([]byte(tc.body), 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.True(t, got[0].Success)
			assert.Equal(t, "a", got[0].OrderID)
			assert.False(t, got[1].Success)
			assert.Equal(t, "not enough balance", got[1].ErrorMsg)
		})
	}
}

func TestParseBatchResponse_SingleObjectFillsMissingLegs(t *testing.T) {
	got, err := ParseBatchResponse([]byte(`{"success":true,"orderID":"only"}`), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Success)
	assert.Equal(t, "only", got[0].OrderID)
	assert.False(t, got[1].Success)
	assert.NotEmpty(t, got[1].ErrorMsg)
}

func TestParseBatchResponse_Unrecognized(t *testing.T) {
	for _, body := range []string{``, `"ok"`, `{"foo":1}`, `{"results":"x"}`, `[1,`} {
		_, err := ParseBatchResponse([]byte(body), 2)
		assert.ErrorIs(t, err, ErrUnrecognizedBatchShape, "body %q", body)
	}
}

func TestPlaceBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders", r.URL.Path)
		body, _ := io.ReadAll(r.Body)

		var env struct {
			Orders    []map[string]any `json:"orders"`
			Owner     string           `json:"owner"`
			OrderType string           `json:"orderType"`
		}
		require.NoError(t, json.Unmarshal(body, &env))
		require.Len(t, env.Orders, 2)
		assert.Equal(t, "1234567890", env.Orders[0]["tokenId"])
		assert.Equal(t, "9876543210", env.Orders[1]["tokenId"])
		assert.Equal(t, "api-key", env.Owner)
		assert.Equal(t, "GTC", env.OrderType)

		w.Write([]byte(`[{"success":true,"orderID":"u1","status":"matched"},{"success":false,"errorMsg":"FOK not filled"}]`))
	}))
	defer srv.Close()

	c := newTestClob(t, srv.URL, nil)
	c.SetCredentials(testCreds)

	up, err := domain.NewOrderRequest("1234567890", 0.47, 5, "BUY", "", 1, 0)
	require.NoError(t, err)
	down, err := domain.NewOrderRequest("9876543210", 0.50, 5, "BUY", "", 1, 0)
	require.NoError(t, err)

	legs, err := c.PlaceBatch(context.Background(), []BatchLeg{
		{Side: domain.SideUp, Order: up},
		{Side: domain.SideDown, Order: down},
	}, domain.OrderTypeGTC)
	require.NoError(t, err)
	require.Len(t, legs, 2)

	assert.Equal(t, domain.SideUp, legs[0].Side)
	assert.True(t, legs[0].OK)
	assert.Equal(t, "u1", legs[0].OrderID)
	assert.Equal(t, domain.SideDown, legs[1].Side)
	assert.False(t, legs[1].OK)
	assert.Equal(t, "FOK not filled", legs[1].Err)
}

func TestPlaceBatch_RequestFailureFailsEveryLeg(t *testing.T) {
	c := newTestClob(t, "http://127.0.0.1:1", nil)

	req, err := domain.NewOrderRequest("5550001", 0.5, 1, "BUY", "", 1, 0)
	require.NoError(t, err)

	legs, err := c.PlaceBatch(context.Background(), []BatchLeg{
		{Side: domain.SideUp, Order: req},
		{Side: domain.SideDown, Order: req},
	}, domain.OrderTypeGTC)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	require.Len(t, legs, 2)
	for _, l := range legs {
		assert.False(t, l.OK)
		assert.NotEmpty(t, l.Err)
	}
}
