package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/platform/polymarket"
)

type fakePlacer struct {
	legs    []polymarket.BatchLeg
	typ     domain.OrderType
	results []domain.LegResult
	err     error
	calls   int
}

func (p *fakePlacer) PlaceBatch(_ context.Context, legs []polymarket.BatchLeg, orderType domain.OrderType) ([]domain.LegResult, error) {
	p.calls++
	p.legs = legs
	p.typ = orderType
	return p.results, p.err
}

func (p *fakePlacer) Address() string { return "0xmaker" }

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (l *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

var pairLegs = []LegOrder{
	{Side: domain.SideUp, TokenID: "1001", Price: 0.48, Size: 5},
	{Side: domain.SideDown, TokenID: "1002", Price: 0.49, Size: 5},
}

func TestOrderService_SubmitLegs(t *testing.T) {
	placer := &fakePlacer{results: []domain.LegResult{
		{Side: domain.SideUp, TokenID: "1001", OK: true, OrderID: "a"},
		{Side: domain.SideDown, TokenID: "1002", Err: "not enough balance"},
	}}
	svc := NewOrderService(placer, nil, OrderConfig{}, testLogger())

	got, err := svc.SubmitLegs(context.Background(), pairLegs)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].OK)
	assert.False(t, got[1].OK)

	require.Len(t, placer.legs, 2)
	assert.Equal(t, domain.OrderTypeGTC, placer.typ)
	assert.Equal(t, domain.OrderSideBuy, placer.legs[0].Order.Side)
	assert.Equal(t, "0xmaker", placer.legs[0].Order.Maker)
	assert.Equal(t, placer.legs[0].Order.Nonce, placer.legs[1].Order.Nonce)
	assert.Equal(t, int64(2_400_000), placer.legs[0].Order.MakerAmount())
}

func TestOrderService_InvalidLegSendsNothing(t *testing.T) {
	placer := &fakePlacer{}
	svc := NewOrderService(placer, nil, OrderConfig{}, testLogger())

	legs := []LegOrder{pairLegs[0], {Side: domain.SideDown, TokenID: "1002", Price: 1.2, Size: 5}}
	got, err := svc.SubmitLegs(context.Background(), legs)
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
	require.Len(t, got, 2)
	assert.False(t, got[0].OK)
	assert.NotEmpty(t, got[0].Err)
	assert.Zero(t, placer.calls)
}

func TestOrderService_NonDecimalTokenRejectedBeforeSigning(t *testing.T) {
	placer := &fakePlacer{}
	svc := NewOrderService(placer, nil, OrderConfig{}, testLogger())

	legs := []LegOrder{pairLegs[0], {Side: domain.SideDown, TokenID: "down-token", Price: 0.49, Size: 5}}
	got, err := svc.SubmitLegs(context.Background(), legs)
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.ErrorContains(t, err, "down-token")
	require.Len(t, got, 2)
	assert.Zero(t, placer.calls)
}

func TestOrderService_RateLimited(t *testing.T) {
	placer := &fakePlacer{}
	limiter := &fakeLimiter{allow: false}
	svc := NewOrderService(placer, limiter, OrderConfig{RateLimit: 2}, testLogger())

	_, err := svc.SubmitLegs(context.Background(), pairLegs)
	require.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, []string{"orders:0xmaker"}, limiter.keys)
	assert.Zero(t, placer.calls)
}

func TestOrderService_LimiterErrorFailsOpen(t *testing.T) {
	placer := &fakePlacer{results: []domain.LegResult{{OK: true}, {OK: true}}}
	limiter := &fakeLimiter{err: errors.New("redis down")}
	svc := NewOrderService(placer, limiter, OrderConfig{RateLimit: 2}, testLogger())

	_, err := svc.SubmitLegs(context.Background(), pairLegs)
	require.NoError(t, err)
	assert.Equal(t, 1, placer.calls)
}

func TestOrderService_PlacerErrorMarksEveryLeg(t *testing.T) {
	placer := &fakePlacer{err: errors.New("connection reset")}
	svc := NewOrderService(placer, nil, OrderConfig{}, testLogger())

	got, err := svc.SubmitLegs(context.Background(), pairLegs)
	require.Error(t, err)
	require.Len(t, got, 2)
	for _, r := range got {
		assert.False(t, r.OK)
		assert.Contains(t, r.Err, "connection reset")
	}
}

func TestOrderService_DryRun(t *testing.T) {
	svc := NewOrderService(nil, nil, OrderConfig{DryRun: true}, testLogger())
	got, err := svc.SubmitLegs(context.Background(), pairLegs)
	require.NoError(t, err)
	for _, r := range got {
		assert.True(t, r.OK)
		assert.Equal(t, "simulated", r.Status)
	}
}
