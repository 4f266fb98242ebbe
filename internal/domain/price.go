package domain

import "time"

// PricePoint is one recorded price for a side.
type PricePoint struct {
	Timestamp time.Time
	Price     float64
	Side      Side
}

// FlashCrashEvent is emitted when a side dropped by at least the configured
// threshold inside the lookback window.
type FlashCrashEvent struct {
	Side      Side
	OldPrice  float64
	NewPrice  float64
	Drop      float64
	Timestamp time.Time
}

// DropPercent is Drop relative to OldPrice, in percent.
func (e FlashCrashEvent) DropPercent() float64 {
	if e.OldPrice <= 0 {
		return 0
	}
	return e.Drop / e.OldPrice * 100
}
