package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
)

// DefaultGammaURL is the production Gamma API root.
const DefaultGammaURL = "https://gamma-api.polymarket.com"

// Supported discovery intervals.
const (
	Interval15m = "15m"
	Interval1h  = "1h"
)

var coinNames = map[string]string{
	"BTC": "bitcoin",
	"ETH": "ethereum",
	"SOL": "solana",
	"XRP": "xrp",
}

var monthNames = [...]string{
	"january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december",
}

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market discovery and metadata.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	et         *time.Location
	now        func() time.Time
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, logger *slog.Logger) *GammaClient {
	if baseURL == "" {
		baseURL = DefaultGammaURL
	}
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		et = time.FixedZone("ET", -5*60*60)
	}
	return &GammaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With(slog.String("component", "polymarket_gamma")),
		et:         et,
		now:        time.Now,
	}
}

// SupportedCoin reports whether coin has a discovery slug.
func SupportedCoin(coin string) bool {
	_, ok := coinNames[strings.ToUpper(coin)]
	return ok
}

// WindowSlug returns the event slug of the window containing t.
//
//	15m: btc-updown-15m-1767225600 (window start, unix seconds)
//	1h:  bitcoin-up-or-down-january-1-3pm-et
func (g *GammaClient) WindowSlug(coin, interval string, t time.Time) string {
	if interval == Interval1h {
		et := t.In(g.et).Truncate(time.Hour)
		hour := et.Hour() % 12
		if hour == 0 {
			hour = 12
		}
		ampm := "am"
		if et.Hour() >= 12 {
			ampm = "pm"
		}
		return fmt.Sprintf("%s-up-or-down-%s-%d-%d%s-et",
			coinNames[strings.ToUpper(coin)], monthNames[et.Month()-1], et.Day(), hour, ampm)
	}
	start := t.Truncate(15 * time.Minute)
	return fmt.Sprintf("%s-updown-15m-%d", strings.ToLower(coin), start.Unix())
}

func intervalDuration(interval string) time.Duration {
	if interval == Interval1h {
		return time.Hour
	}
	return 15 * time.Minute
}

// DiscoverMarket looks up the coin's market for the current window and
// falls back to the next one when the current event is missing or no longer
// accepts orders. It returns nil when neither event exists or lacks an
// up/down token pair. A closed event is returned only when no window
// accepts orders.
func (g *GammaClient) DiscoverMarket(ctx context.Context, coin, interval string) (*domain.MarketInfo, error) {
	if !SupportedCoin(coin) {
		return nil, fmt.Errorf("polymarket/gamma: unsupported coin %q", coin)
	}

	now := g.now()
	var (
		lastErr error
		closed  *domain.MarketInfo
	)
	for _, t := range []time.Time{now, now.Add(intervalDuration(interval))} {
		slug := g.WindowSlug(coin, interval, t)
		ev, err := g.GetEventBySlug(ctx, slug)
		if err != nil {
			g.logger.Warn("event lookup failed", slog.String("slug", slug), slog.String("error", err.Error()))
			lastErr = err
			continue
		}
		if ev == nil {
			continue
		}
		info, ok := MarketFromEvent(ev)
		if !ok {
			continue
		}
		if !info.AcceptingOrders {
			g.logger.Debug("event not accepting orders", slog.String("slug", slug))
			if closed == nil {
				closed = &info
			}
			continue
		}
		return &info, nil
	}
	if closed != nil {
		return closed, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}

// GetEventBySlug returns the first event with the given slug, or nil.
func (g *GammaClient) GetEventBySlug(ctx context.Context, slug string) (*APIEvent, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := g.doGet(ctx, "/events?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get event %s: %w", slug, err)
	}

	var events []APIEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

// GetEvents returns a paginated list of events from the Gamma API.
func (g *GammaClient) GetEvents(ctx context.Context, limit, offset int) ([]APIEvent, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	body, err := g.doGet(ctx, "/events?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get events: %w", err)
	}

	var events []APIEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}
	return events, nil
}

// MarketFromEvent maps the event's first market onto a MarketInfo. The
// second result is false when the up or down token is missing.
func MarketFromEvent(ev *APIEvent) (domain.MarketInfo, bool) {
	if ev == nil || len(ev.Markets) == 0 {
		return domain.MarketInfo{}, false
	}
	m := ev.Markets[0]

	info := domain.MarketInfo{
		Slug:     ev.Slug,
		Question: ev.Title,
		EndDate:  ev.EndDate,
		TokenIDs: make(map[domain.Side]string, 2),
		Prices:   map[domain.Side]float64{domain.SideUp: domain.DefaultMidPrice, domain.SideDown: domain.DefaultMidPrice},
	}
	if info.Question == "" {
		info.Question = m.Question
	}
	if info.EndDate == "" {
		info.EndDate = m.EndDate
	}

	for i, outcome := range m.Outcomes {
		side, err := domain.ParseSide(outcome)
		if err != nil || i >= len(m.ClobTokenIDs) {
			continue
		}
		info.TokenIDs[side] = m.ClobTokenIDs[i]
		if i < len(m.OutcomePrices) {
			if p, err := strconv.ParseFloat(m.OutcomePrices[i], 64); err == nil {
				info.Prices[side] = p
			}
		}
	}
	if info.TokenIDs[domain.SideUp] == "" || info.TokenIDs[domain.SideDown] == "" {
		return domain.MarketInfo{}, false
	}

	if m.AcceptingOrders != nil {
		info.AcceptingOrders = bool(*m.AcceptingOrders)
	} else {
		info.AcceptingOrders = !bool(m.Closed) && !bool(ev.Closed)
	}
	return info, true
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}
