package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// USDCDecimals is the fixed-point scale of order amounts.
const USDCDecimals = 6

const usdcScale = 1e6

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// ParseOrderSide accepts BUY or SELL in any case.
func ParseOrderSide(s string) (OrderSide, error) {
	switch OrderSide(strings.ToUpper(strings.TrimSpace(s))) {
	case OrderSideBuy:
		return OrderSideBuy, nil
	case OrderSideSell:
		return OrderSideSell, nil
	}
	return "", fmt.Errorf("%w: side %q", ErrInvalidOrder, s)
}

// Code is the numeric side used in the signed payload.
func (s OrderSide) Code() int {
	if s == OrderSideSell {
		return 1
	}
	return 0
}

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeGTD OrderType = "GTD" // Good-Till-Date
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
	OrderTypeFAK OrderType = "FAK" // Fill-And-Kill
)

// OrderRequest is a validated order before signing.
type OrderRequest struct {
	TokenID    string
	Price      float64
	Size       float64
	Side       OrderSide
	Maker      string
	Nonce      int64
	FeeRateBps int64
}

// NewOrderRequest validates the parameters. The token id must be a decimal
// integer, price must be in (0, 1] and size positive. A zero nonce is replaced with the current unix time.
func NewOrderRequest(tokenID string, price, size float64, side, maker string, nonce, feeRateBps int64) (OrderRequest, error) {
	s, err := ParseOrderSide(side)
	if err != nil {
		return OrderRequest{}, err
	}
	if tokenID == "" {
		return OrderRequest{}, fmt.Errorf("%w: empty token id", ErrInvalidOrder)
	}
	if !isDecimal(tokenID) {
		return OrderRequest{}, fmt.Errorf("%w: tokenId %q must be a decimal integer", ErrInvalidOrder, tokenID)
	}
	if math.IsNaN(price) || price <= 0 || price > 1 {
		return OrderRequest{}, fmt.Errorf("%w: price %v outside (0, 1]", ErrInvalidOrder, price)
	}
	if math.IsNaN(size) || size <= 0 {
		return OrderRequest{}, fmt.Errorf("%w: size %v must be positive", ErrInvalidOrder, size)
	}
	if nonce == 0 {
		nonce = time.Now().Unix()
	}
	return OrderRequest{
		TokenID:    tokenID,
		Price:      price,
		Size:       size,
		Side:       s,
		Maker:      maker,
		Nonce:      nonce,
		FeeRateBps: feeRateBps,
	}, nil
}

// MakerAmount is size*price in 6-decimal USDC units, truncated.
func (o OrderRequest) MakerAmount() int64 {
	return toUnits(o.Size * o.Price)
}

// TakerAmount is size in 6-decimal units, truncated.
func (o OrderRequest) TakerAmount() int64 {
	return toUnits(o.Size)
}

func (o OrderRequest) SideCode() int {
	return o.Side.Code()
}

// toUnits truncates to 6 decimals, absorbing float noise such as
// 2.3999999999 for 2.4.
func toUnits(v float64) int64 {
	return int64(math.Floor(v*usdcScale + 1e-6))
}

// OrderResult is the venue response to a single order submission.
type OrderResult struct {
	Success  bool
	ErrorMsg string
	OrderID  string
	Status   string
}

// LegResult is the outcome of one leg of a batch submission.
type LegResult struct {
	Side    Side
	TokenID string
	OK      bool
	OrderID string
	Status  string
	Err     string
}

// isDecimal reports whether s is made only of ASCII digits.
func isDecimal(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
