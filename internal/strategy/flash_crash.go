package strategy

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
)

// FlashCrash feeds book mid prices into a PriceTracker and reports sharp
// drops. After an event a side stays quiet for one lookback window so a
// single crash is reported once.
type FlashCrash struct {
	tracker *PriceTracker
	logger  *slog.Logger

	mu       sync.Mutex
	lastFire map[domain.Side]time.Time
}

// NewFlashCrash creates a FlashCrash detector on top of tracker.
func NewFlashCrash(tracker *PriceTracker, logger *slog.Logger) *FlashCrash {
	return &FlashCrash{
		tracker:  tracker,
		logger:   logger.With(slog.String("strategy", "flash_crash")),
		lastFire: make(map[domain.Side]time.Time, 2),
	}
}

// Tracker exposes the underlying price history.
func (fc *FlashCrash) Tracker() *PriceTracker { return fc.tracker }

// OnBook records the snapshot's mid price under the side it belongs to in
// market and returns any new flash-crash events. Snapshots for tokens outside
// market are ignored.
func (fc *FlashCrash) OnBook(market *domain.MarketInfo, snap domain.OrderbookSnapshot, now time.Time) []domain.FlashCrashEvent {
	if market == nil {
		return nil
	}
	side, ok := market.SideOf(snap.AssetID)
	if !ok {
		return nil
	}
	fc.tracker.Record(side, snap.MidPrice(), now)

	var out []domain.FlashCrashEvent
	for _, ev := range fc.tracker.DetectAll(now) {
		if !fc.arm(ev.Side, now) {
			continue
		}
		fc.logger.Info("flash crash detected",
			slog.String("side", string(ev.Side)),
			slog.Float64("old_price", ev.OldPrice),
			slog.Float64("new_price", ev.NewPrice),
			slog.Float64("drop", ev.Drop),
			slog.Float64("drop_pct", ev.DropPercent()),
		)
		out = append(out, ev)
	}
	return out
}

// Reset clears history and suppression, e.g. after a market switch.
func (fc *FlashCrash) Reset() {
	fc.tracker.Clear()
	fc.mu.Lock()
	fc.lastFire = make(map[domain.Side]time.Time, 2)
	fc.mu.Unlock()
}

// arm reports whether side may fire at now and records the firing.
func (fc *FlashCrash) arm(side domain.Side, now time.Time) bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if last, ok := fc.lastFire[side]; ok && now.Sub(last) < fc.tracker.cfg.Lookback {
		return false
	}
	fc.lastFire[side] = now
	return true
}
