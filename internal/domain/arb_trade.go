package domain

import "time"

// ArbTrade records one paired buy of both sides, whatever its outcome.
type ArbTrade struct {
	ID          int
	MarketSlug  string
	UpAsk       float64
	DownAsk     float64
	AskSum      float64
	Spread      float64
	Size        float64
	UpPrice     float64 // limit price sent for the up leg
	DownPrice   float64
	UpOrderOK   bool
	DownOrderOK bool
	UpOrderID   string
	DownOrderID string
	Timestamp   time.Time
}

// ProfitPerPair is spread times size.
func (t ArbTrade) ProfitPerPair() float64 {
	return t.Spread * t.Size
}

func (t ArbTrade) BothFilled() bool {
	return t.UpOrderOK && t.DownOrderOK
}

// Partial reports a one-legged fill, which leaves an open exposure.
func (t ArbTrade) Partial() bool {
	return t.UpOrderOK != t.DownOrderOK
}

// Status is a short label for logs and storage.
func (t ArbTrade) Status() string {
	switch {
	case t.BothFilled():
		return "filled"
	case t.Partial():
		return "partial"
	default:
		return "failed"
	}
}
