package polymarket

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat accepts a JSON number or a numeric string. Empty or unparseable
// strings decode to zero.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexInt is flexFloat for integer fields such as millisecond timestamps.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var v flexFloat
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	*f = flexInt(int64(v))
	return nil
}

// stringList decodes either a JSON array of strings or a string holding a
// JSON-encoded array, which is how Gamma returns outcomes and clobTokenIds.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return err
		}
		inner = strings.TrimSpace(inner)
		if inner == "" {
			*l = nil
			return nil
		}
		data = []byte(inner)
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*l = out
	return nil
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrder represents an order as returned by the Polymarket CLOB API.
type APIOrder struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	Market       string    `json:"market"`
	AssetID      string    `json:"asset_id"`
	Side         string    `json:"side"`
	OrderType    string    `json:"order_type"`
	OriginalSize flexFloat `json:"original_size"`
	SizeMatched  flexFloat `json:"size_matched"`
	Price        flexFloat `json:"price"`
	Owner        string    `json:"owner"`
	MakerAddress string    `json:"maker_address"`
	Outcome      string    `json:"outcome"`
	Expiration   string    `json:"expiration"`
	CreatedAt    flexInt   `json:"created_at"`
}

// APITrade is one fill as returned by /data/trades.
type APITrade struct {
	ID           string    `json:"id"`
	TakerOrderID string    `json:"taker_order_id"`
	Market       string    `json:"market"`
	AssetID      string    `json:"asset_id"`
	Side         string    `json:"side"`
	Size         flexFloat `json:"size"`
	Price        flexFloat `json:"price"`
	FeeRateBps   string    `json:"fee_rate_bps"`
	Status       string    `json:"status"`
	MatchTime    string    `json:"match_time"`
	Outcome      string    `json:"outcome"`
	TraderSide   string    `json:"trader_side"`
}

// APIOrderResult is the response from placing an order via the CLOB API.
// The venue has used both orderID and orderId.
type APIOrderResult struct {
	Success     *bool  `json:"success"`
	ErrorMsg    string `json:"errorMsg"`
	OrderID     string `json:"orderID"`
	OrderIDAlt  string `json:"orderId"`
	Status      string `json:"status"`
	ShouldRetry bool   `json:"shouldRetry"`
}

func (r APIOrderResult) toDomain() domain.OrderResult {
	id := r.OrderID
	if id == "" {
		id = r.OrderIDAlt
	}
	return domain.OrderResult{
		Success:  r.Success != nil && *r.Success,
		ErrorMsg: r.ErrorMsg,
		OrderID:  id,
		Status:   r.Status,
	}
}

// recognised reports whether the object carried any order-result field.
func (r APIOrderResult) recognised() bool {
	return r.Success != nil || r.OrderID != "" || r.OrderIDAlt != "" || r.ErrorMsg != "" || r.Status != ""
}

// orderEnvelope is one entry of a POST /order or /orders body.
type orderEnvelope struct {
	Order     any    `json:"order"`
	Owner     string `json:"owner"`
	OrderType string `json:"orderType"`
}

type batchEnvelope struct {
	Orders    []any  `json:"orders"`
	Owner     string `json:"owner"`
	OrderType string `json:"orderType"`
}

type apiCredsResponse struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

type priceResponse struct {
	Price flexFloat `json:"price"`
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent represents an event as returned by the Polymarket Gamma API.
type APIEvent struct {
	ID      string      `json:"id"`
	Title   string      `json:"title"`
	Slug    string      `json:"slug"`
	Active  flexBool    `json:"active"`
	Closed  flexBool    `json:"closed"`
	EndDate string      `json:"endDate"`
	Markets []APIMarket `json:"markets"`
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID              string     `json:"id"`
	Question        string     `json:"question"`
	ConditionID     string     `json:"conditionId"`
	Slug            string     `json:"slug"`
	Active          flexBool   `json:"active"`
	Closed          flexBool   `json:"closed"`
	AcceptingOrders *flexBool  `json:"acceptingOrders"`
	EndDate         string     `json:"endDate"`
	Outcomes        stringList `json:"outcomes"`
	OutcomePrices   stringList `json:"outcomePrices"`
	ClobTokenIDs    stringList `json:"clobTokenIds"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// wsEnvelope is decoded first to route a frame by event_type.
type wsEnvelope struct {
	EventType string `json:"event_type"`
}

// BookMessage represents a full orderbook snapshot delivered over WebSocket
// (and by GET /book).
type BookMessage struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp flexInt        `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// WSPriceLevel is a single bid/ask level.
type WSPriceLevel struct {
	Price flexFloat `json:"price"`
	Size  flexFloat `json:"size"`
}

// PriceChangeMessage carries one or more level changes for a market.
type PriceChangeMessage struct {
	EventType    string            `json:"event_type"`
	Market       string            `json:"market"`
	PriceChanges []PriceChangeItem `json:"price_changes"`
	Timestamp    flexInt           `json:"timestamp"`
}

// PriceChangeItem is one entry of price_changes.
type PriceChangeItem struct {
	AssetID string     `json:"asset_id"`
	Price   flexFloat  `json:"price"`
	Size    flexFloat  `json:"size"`
	Side    string     `json:"side"`
	BestBid flexFloat  `json:"best_bid"`
	BestAsk *flexFloat `json:"best_ask"`
	Hash    string     `json:"hash"`
}

// LastTradeMessage is the most recent trade for an asset.
type LastTradeMessage struct {
	EventType  string    `json:"event_type"`
	AssetID    string    `json:"asset_id"`
	Market     string    `json:"market"`
	Price      flexFloat `json:"price"`
	Size       flexFloat `json:"size"`
	Side       string    `json:"side"`
	Timestamp  flexInt   `json:"timestamp"`
	FeeRateBps string    `json:"fee_rate_bps"`
}

// wsHandshake is sent once after connecting.
type wsHandshake struct {
	AssetsIDs []string `json:"assets_ids"`
	Type      string   `json:"type"`
}

// wsOperation changes the subscription set mid-session.
type wsOperation struct {
	AssetsIDs []string `json:"assets_ids"`
	Operation string   `json:"operation"`
}

// --------------------------------------------------------------------------
// Conversion helpers: API types -> domain types
// --------------------------------------------------------------------------

func levelsToDomain(in []WSPriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, l := range in {
		out = append(out, domain.PriceLevel{Price: float64(l.Price), Size: float64(l.Size)})
	}
	return out
}

// BookToDomainSnapshot converts a BookMessage to a sorted domain snapshot.
func BookToDomainSnapshot(b *BookMessage) domain.OrderbookSnapshot {
	return domain.NewOrderbookSnapshot(
		b.AssetID,
		b.Market,
		int64(b.Timestamp),
		levelsToDomain(b.Bids),
		levelsToDomain(b.Asks),
		b.Hash,
	)
}

// PriceChangesToDomain flattens a price_change frame.
func PriceChangesToDomain(m *PriceChangeMessage) []domain.PriceChange {
	out := make([]domain.PriceChange, 0, len(m.PriceChanges))
	for _, pc := range m.PriceChanges {
		ask := domain.NoAskPrice
		if pc.BestAsk != nil {
			ask = float64(*pc.BestAsk)
		}
		out = append(out, domain.PriceChange{
			AssetID: pc.AssetID,
			Market:  m.Market,
			Side:    pc.Side,
			Price:   float64(pc.Price),
			Size:    float64(pc.Size),
			BestBid: float64(pc.BestBid),
			BestAsk: ask,
			Hash:    pc.Hash,
		})
	}
	return out
}

// LastTradeToDomain converts a last_trade_price frame.
func LastTradeToDomain(m *LastTradeMessage) domain.LastTradePrice {
	return domain.LastTradePrice{
		AssetID:    m.AssetID,
		Market:     m.Market,
		Side:       m.Side,
		Price:      float64(m.Price),
		Size:       float64(m.Size),
		FeeRateBps: m.FeeRateBps,
		Timestamp:  int64(m.Timestamp),
	}
}
