package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Side names one of the two complementary tokens of an up/down market.
type Side string

const (
	SideUp   Side = "up"
	SideDown Side = "down"
)

// Sides lists both sides in a fixed order.
var Sides = []Side{SideUp, SideDown}

// ParseSide accepts "up" or "down" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideUp:
		return SideUp, nil
	case SideDown:
		return SideDown, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideUp {
		return SideDown
	}
	return SideUp
}

// DefaultEndingSoon is the threshold used by IsEndingSoon callers that have
// no configured value.
const DefaultEndingSoon = 60 * time.Second

// MarketInfo is the result of one discovery of the active market. It is
// never mutated after construction.
type MarketInfo struct {
	Slug            string
	Question        string
	EndDate         string // ISO-8601, "Z" or offset suffix
	TokenIDs        map[Side]string
	Prices          map[Side]float64
	AcceptingOrders bool
}

// TokenID returns the token for the given side.
func (m MarketInfo) TokenID(side Side) string {
	return m.TokenIDs[side]
}

// AssetIDs returns the up and down token ids, skipping empty ones.
func (m MarketInfo) AssetIDs() []string {
	out := make([]string, 0, 2)
	for _, s := range Sides {
		if id := m.TokenIDs[s]; id != "" {
			out = append(out, id)
		}
	}
	return out
}

// SideOf maps a token id back to its side.
func (m MarketInfo) SideOf(tokenID string) (Side, bool) {
	for s, id := range m.TokenIDs {
		if id == tokenID {
			return s, true
		}
	}
	return "", false
}

// SameMarket reports whether both records describe the same tradeable market,
// i.e. their token id sets are equal. Slugs are ignored.
func (m MarketInfo) SameMarket(other MarketInfo) bool {
	a, b := m.tokenSet(), other.tokenSet()
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}

func (m MarketInfo) tokenSet() map[string]struct{} {
	set := make(map[string]struct{}, len(m.TokenIDs))
	for _, id := range m.TokenIDs {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

// EndTime parses EndDate.
func (m MarketInfo) EndTime() (time.Time, bool) {
	if m.EndDate == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(m.EndDate))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// EndTimestamp is EndDate as unix seconds.
func (m MarketInfo) EndTimestamp() (int64, bool) {
	t, ok := m.EndTime()
	if !ok {
		return 0, false
	}
	return t.Unix(), true
}

// SlugTimestamp returns the trailing all-digit slug segment, e.g. the window
// start in "btc-updown-15m-1765791900".
func (m MarketInfo) SlugTimestamp() (int64, bool) {
	i := strings.LastIndexByte(m.Slug, '-')
	if i < 0 || i == len(m.Slug)-1 {
		return 0, false
	}
	tail := m.Slug[i+1:]
	for _, r := range tail {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseInt(tail, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// SortKey orders markets in time: end timestamp first, slug timestamp as a
// fallback.
func (m MarketInfo) SortKey() (int64, bool) {
	if ts, ok := m.EndTimestamp(); ok {
		return ts, true
	}
	return m.SlugTimestamp()
}

// Countdown returns the minutes and seconds until the market ends. ok is
// false when the end date cannot be parsed. An ended market reports 0, 0.
func (m MarketInfo) Countdown(now time.Time) (mins, secs int, ok bool) {
	end, ok := m.EndTime()
	if !ok {
		return -1, -1, false
	}
	remaining := end.Sub(now)
	if remaining <= 0 {
		return 0, 0, true
	}
	total := int(remaining / time.Second)
	return total / 60, total % 60, true
}

// CountdownString formats Countdown as "MM:SS", "ENDED" or "--:--".
func (m MarketInfo) CountdownString(now time.Time) string {
	mins, secs, ok := m.Countdown(now)
	if !ok {
		return "--:--"
	}
	if mins == 0 && secs == 0 {
		return "ENDED"
	}
	return fmt.Sprintf("%02d:%02d", mins, secs)
}

// IsEndingSoon reports whether the market ends within threshold. An ended
// market is also ending soon.
func (m MarketInfo) IsEndingSoon(now time.Time, threshold time.Duration) bool {
	mins, secs, ok := m.Countdown(now)
	if !ok {
		return false
	}
	return time.Duration(mins*60+secs)*time.Second <= threshold
}

// HasEnded reports whether the end date is in the past.
func (m MarketInfo) HasEnded(now time.Time) bool {
	end, ok := m.EndTime()
	if !ok {
		return false
	}
	return !now.Before(end)
}
