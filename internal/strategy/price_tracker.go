package strategy

import (
	"sync"
	"time"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
)

const (
	DefaultLookback      = 10 * time.Second
	DefaultDropThreshold = 0.30
	DefaultMaxHistory    = 100
)

// TrackerConfig controls flash-crash detection. Zero values select the
// defaults.
type TrackerConfig struct {
	Lookback      time.Duration
	DropThreshold float64 // absolute price drop, e.g. 0.30
	MaxHistory    int     // points kept per side
}

// PriceTracker keeps a bounded history of prices per side and detects sharp
// drops inside the lookback window. It is safe for concurrent use.
type PriceTracker struct {
	cfg TrackerConfig

	mu      sync.RWMutex
	history map[domain.Side]*ring
}

// NewPriceTracker creates a PriceTracker for the up and down sides.
func NewPriceTracker(cfg TrackerConfig) *PriceTracker {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.DropThreshold <= 0 {
		cfg.DropThreshold = DefaultDropThreshold
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	pt := &PriceTracker{cfg: cfg, history: make(map[domain.Side]*ring, 2)}
	for _, s := range domain.Sides {
		pt.history[s] = newRing(cfg.MaxHistory)
	}
	return pt
}

// Config returns the effective configuration.
func (pt *PriceTracker) Config() TrackerConfig { return pt.cfg }

// Record appends a price for side. Non-positive prices and unknown sides are
// ignored. Once MaxHistory points are held the oldest is dropped.
func (pt *PriceTracker) Record(side domain.Side, price float64, ts time.Time) {
	if price <= 0 {
		return
	}
	pt.mu.Lock()
	defer pt.mu.Unlock()
	r, ok := pt.history[side]
	if !ok {
		return
	}
	r.push(domain.PricePoint{Timestamp: ts, Price: price, Side: side})
}

// RecordPrices records several sides at the same timestamp.
func (pt *PriceTracker) RecordPrices(prices map[domain.Side]float64, ts time.Time) {
	for side, p := range prices {
		pt.Record(side, p, ts)
	}
}

// History returns the side's points, oldest first.
func (pt *PriceTracker) History(side domain.Side) []domain.PricePoint {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	r, ok := pt.history[side]
	if !ok {
		return nil
	}
	return r.slice()
}

func (pt *PriceTracker) Len(side domain.Side) int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	if r, ok := pt.history[side]; ok {
		return r.n
	}
	return 0
}

// Current returns the latest price for side, or 0.
func (pt *PriceTracker) Current(side domain.Side) float64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	r, ok := pt.history[side]
	if !ok || r.n == 0 {
		return 0
	}
	return r.at(r.n - 1).Price
}

// PriceAt returns the first recorded price no older than ago.
func (pt *PriceTracker) PriceAt(side domain.Side, ago time.Duration, now time.Time) (float64, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	r, ok := pt.history[side]
	if !ok {
		return 0, false
	}
	target := now.Add(-ago)
	for i := 0; i < r.n; i++ {
		if p := r.at(i); !p.Timestamp.Before(target) {
			return p.Price, true
		}
	}
	return 0, false
}

// DetectFlashCrash compares the latest price of side with the oldest point
// still inside the lookback window. It returns nil unless the drop reaches
// the threshold.
func (pt *PriceTracker) DetectFlashCrash(side domain.Side, now time.Time) *domain.FlashCrashEvent {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	r, ok := pt.history[side]
	if !ok || r.n < 2 {
		return nil
	}

	current := r.at(r.n - 1).Price
	old, found := 0.0, false
	for i := 0; i < r.n; i++ {
		p := r.at(i)
		if now.Sub(p.Timestamp) <= pt.cfg.Lookback {
			old, found = p.Price, true
			break
		}
	}
	if !found {
		return nil
	}

	drop := old - current
	if drop < pt.cfg.DropThreshold {
		return nil
	}
	return &domain.FlashCrashEvent{
		Side:      side,
		OldPrice:  old,
		NewPrice:  current,
		Drop:      drop,
		Timestamp: now,
	}
}

// DetectAll runs DetectFlashCrash for up then down.
func (pt *PriceTracker) DetectAll(now time.Time) []domain.FlashCrashEvent {
	var out []domain.FlashCrashEvent
	for _, s := range domain.Sides {
		if ev := pt.DetectFlashCrash(s, now); ev != nil {
			out = append(out, *ev)
		}
	}
	return out
}

// PriceRange returns the min and max price recorded within window.
func (pt *PriceTracker) PriceRange(side domain.Side, window time.Duration, now time.Time) (lo, hi float64) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	r, ok := pt.history[side]
	if !ok {
		return 0, 0
	}
	cutoff := now.Add(-window)
	first := true
	for i := 0; i < r.n; i++ {
		p := r.at(i)
		if p.Timestamp.Before(cutoff) {
			continue
		}
		if first {
			lo, hi, first = p.Price, p.Price, false
			continue
		}
		lo = min(lo, p.Price)
		hi = max(hi, p.Price)
	}
	return lo, hi
}

// Volatility is max minus min over window.
func (pt *PriceTracker) Volatility(side domain.Side, window time.Duration, now time.Time) float64 {
	lo, hi := pt.PriceRange(side, window, now)
	return hi - lo
}

// Clear drops the history of the given sides, or of every side when none
// are given.
func (pt *PriceTracker) Clear(sides ...domain.Side) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if len(sides) == 0 {
		sides = domain.Sides
	}
	for _, s := range sides {
		if r, ok := pt.history[s]; ok {
			r.reset()
		}
	}
}

// ring is a fixed-capacity FIFO of price points.
type ring struct {
	buf   []domain.PricePoint
	start int
	n     int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]domain.PricePoint, capacity)}
}

func (r *ring) push(p domain.PricePoint) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = p
		r.n++
		return
	}
	r.buf[r.start] = p
	r.start = (r.start + 1) % len(r.buf)
}

// at returns the i-th oldest point.
func (r *ring) at(i int) domain.PricePoint {
	return r.buf[(r.start+i)%len(r.buf)]
}

func (r *ring) slice() []domain.PricePoint {
	out := make([]domain.PricePoint, r.n)
	for i := range out {
		out[i] = r.at(i)
	}
	return out
}

func (r *ring) reset() {
	r.start, r.n = 0, 0
}
