// Package feed mirrors the live order books into the quote cache and the
// signal bus so other processes can read prices without a stream of their
// own.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
)

// QuotesChannel is the bus channel carrying quote events.
const QuotesChannel = "quotes"

// quoteEvent is the JSON published on QuotesChannel.
type quoteEvent struct {
	Event     string  `json:"event"`
	AssetID   string  `json:"asset_id"`
	Market    string  `json:"market"`
	BestBid   float64 `json:"best_bid"`
	BestAsk   float64 `json:"best_ask"`
	MidPrice  float64 `json:"mid_price"`
	Timestamp string  `json:"timestamp"`
}

// QuoteRecorder coalesces book updates per asset and writes the newest top
// of book on its own goroutine, so slow cache writes never stall the
// stream reader.
type QuoteRecorder struct {
	cache  domain.QuoteCache
	bus    domain.SignalBus
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]pendingQuote
	wake    chan struct{}
	written int
}

type pendingQuote struct {
	quote  domain.Quote
	market string
}

// NewQuoteRecorder returns a recorder. Either sink may be nil.
func NewQuoteRecorder(cache domain.QuoteCache, bus domain.SignalBus, logger *slog.Logger) *QuoteRecorder {
	return &QuoteRecorder{
		cache:   cache,
		bus:     bus,
		logger:  logger.With(slog.String("component", "quote_recorder")),
		pending: make(map[string]pendingQuote),
		wake:    make(chan struct{}, 1),
	}
}

// OnBook queues the snapshot's top of book. It never blocks.
func (r *QuoteRecorder) OnBook(snap domain.OrderbookSnapshot) error {
	q := domain.Quote{
		AssetID:  snap.AssetID,
		BestBid:  snap.BestBid(),
		BestAsk:  snap.BestAsk(),
		MidPrice: snap.MidPrice(),
		Time:     snap.Time(),
	}
	r.mu.Lock()
	r.pending[snap.AssetID] = pendingQuote{quote: q, market: snap.Market}
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run writes queued quotes until ctx is done, then flushes what is left
// with a short deadline.
func (r *QuoteRecorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			r.flush(flushCtx)
			cancel()
			return nil
		case <-r.wake:
			r.flush(ctx)
		}
	}
}

// Written is the number of quotes written so far.
func (r *QuoteRecorder) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

func (r *QuoteRecorder) flush(ctx context.Context) {
	r.mu.Lock()
	batch := r.pending
	r.pending = make(map[string]pendingQuote, len(batch))
	r.mu.Unlock()

	n := 0
	for _, p := range batch {
		if r.write(ctx, p) {
			n++
		}
	}

	r.mu.Lock()
	r.written += n
	r.mu.Unlock()
}

func (r *QuoteRecorder) write(ctx context.Context, p pendingQuote) bool {
	ok := true
	if r.cache != nil {
		if err := r.cache.SetQuote(ctx, p.quote); err != nil {
			r.logger.Warn("quote cache write failed",
				slog.String("asset_id", p.quote.AssetID),
				slog.String("error", err.Error()),
			)
			ok = false
		}
	}
	if r.bus != nil {
		payload, err := json.Marshal(quoteEvent{
			Event:     "quote",
			AssetID:   p.quote.AssetID,
			Market:    p.market,
			BestBid:   p.quote.BestBid,
			BestAsk:   p.quote.BestAsk,
			MidPrice:  p.quote.MidPrice,
			Timestamp: p.quote.Time.UTC().Format(time.RFC3339Nano),
		})
		if err == nil {
			err = r.bus.Publish(ctx, QuotesChannel, payload)
		}
		if err != nil {
			r.logger.Debug("quote publish failed", slog.String("error", err.Error()))
		}
	}
	return ok
}
