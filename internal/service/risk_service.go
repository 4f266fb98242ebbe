package service

import (
	"fmt"
	"sync"
	"time"
)

// GateConfig holds the trade throttling limits.
type GateConfig struct {
	MaxTrades int
	Cooldown  time.Duration
}

// TradeGate enforces a hard cap on the number of trades and a minimum gap
// between consecutive trades.
type TradeGate struct {
	cfg GateConfig

	mu    sync.Mutex
	count int
	last  time.Time
}

func NewTradeGate(cfg GateConfig) *TradeGate {
	return &TradeGate{cfg: cfg}
}

// CanTrade reports whether a trade may be attempted at now. When it may not,
// reason names the failed check.
func (g *TradeGate) CanTrade(now time.Time) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cfg.MaxTrades > 0 && g.count >= g.cfg.MaxTrades {
		return false, fmt.Sprintf("max trades reached (%d/%d)", g.count, g.cfg.MaxTrades)
	}
	if !g.last.IsZero() {
		if elapsed := now.Sub(g.last); elapsed < g.cfg.Cooldown {
			return false, fmt.Sprintf("cooldown (%.1fs remaining)", (g.cfg.Cooldown - elapsed).Seconds())
		}
	}
	return true, ""
}

// Record counts an attempted trade and restarts the cooldown.
func (g *TradeGate) Record(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count++
	g.last = now
}

func (g *TradeGate) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

func (g *TradeGate) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cfg.MaxTrades <= 0 {
		return -1
	}
	return max(g.cfg.MaxTrades-g.count, 0)
}
