package strategy

import "github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"

// ArbOpportunity describes a pair of asks whose sum is below the $1.00
// payout of a complete up+down set.
type ArbOpportunity struct {
	UpAsk   float64
	DownAsk float64
	AskSum  float64
	Spread  float64 // 1 - AskSum, the profit per pair before fees
}

// ProfitFor is the locked-in profit for size pairs.
func (o ArbOpportunity) ProfitFor(size float64) float64 {
	return o.Spread * size
}

// AskSum adds the best asks of both books. An empty side counts as 1.0, so
// two empty books sum to 2.0.
func AskSum(up, down domain.OrderbookSnapshot) float64 {
	return up.BestAsk() + down.BestAsk()
}

// DetectArbitrage evaluates the two books and reports whether the spread
// reaches minSpread.
func DetectArbitrage(up, down domain.OrderbookSnapshot, minSpread float64) (ArbOpportunity, bool) {
	opp := ArbOpportunity{UpAsk: up.BestAsk(), DownAsk: down.BestAsk()}
	opp.AskSum = opp.UpAsk + opp.DownAsk
	opp.Spread = 1.0 - opp.AskSum
	return opp, opp.Spread >= minSpread
}
