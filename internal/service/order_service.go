package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/platform/polymarket"
)

// BatchPlacer signs and submits several orders in one request.
type BatchPlacer interface {
	PlaceBatch(ctx context.Context, legs []polymarket.BatchLeg, orderType domain.OrderType) ([]domain.LegResult, error)
	Address() string
}

// LegOrder is one order the caller wants placed. An empty OrderSide means BUY.
type LegOrder struct {
	Side      domain.Side
	OrderSide domain.OrderSide
	TokenID   string
	Price     float64
	Size      float64
}

// OrderConfig controls how legs are submitted.
type OrderConfig struct {
	OrderType  domain.OrderType
	FeeRateBps int64
	DryRun     bool // simulate fills without touching the exchange
	RateLimit  int  // orders per RateWindow, 0 disables
	RateWindow time.Duration
}

// OrderService turns leg orders into a signed batch submission.
type OrderService struct {
	placer  BatchPlacer
	limiter domain.RateLimiter // optional
	cfg     OrderConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewOrderService creates an OrderService. limiter may be nil.
func NewOrderService(placer BatchPlacer, limiter domain.RateLimiter, cfg OrderConfig, logger *slog.Logger) *OrderService {
	if cfg.OrderType == "" {
		cfg.OrderType = domain.OrderTypeGTC
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Second
	}
	return &OrderService{
		placer:  placer,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// SubmitLegs validates every leg and submits them together. The result slice
// always has one entry per leg. Validation failures reject the whole batch
// before anything is sent.
func (s *OrderService) SubmitLegs(ctx context.Context, legs []LegOrder) ([]domain.LegResult, error) {
	results := make([]domain.LegResult, len(legs))
	for i, leg := range legs {
		results[i] = domain.LegResult{Side: leg.Side, TokenID: leg.TokenID}
	}
	failAll := func(err error) ([]domain.LegResult, error) {
		for i := range results {
			results[i].Err = err.Error()
		}
		return results, err
	}

	maker := ""
	if s.placer != nil {
		maker = s.placer.Address()
	}
	nonce := s.now().Unix()
	batch := make([]polymarket.BatchLeg, len(legs))
	for i, leg := range legs {
		side := leg.OrderSide
		if side == "" {
			side = domain.OrderSideBuy
		}
		req, err := domain.NewOrderRequest(leg.TokenID, leg.Price, leg.Size, string(side), maker, nonce, s.cfg.FeeRateBps)
		if err != nil {
			return failAll(fmt.Errorf("order_service: %s leg: %w", leg.Side, err))
		}
		batch[i] = polymarket.BatchLeg{Side: leg.Side, Order: req}
	}

	if s.cfg.DryRun {
		for i, leg := range legs {
			results[i].OK = true
			results[i].OrderID = fmt.Sprintf("dry-%d-%s", nonce, leg.Side)
			results[i].Status = "simulated"
		}
		s.logger.InfoContext(ctx, "order_service: dry run batch", slog.Int("legs", len(legs)))
		return results, nil
	}

	if s.placer == nil {
		return failAll(fmt.Errorf("order_service: %w: no exchange client", domain.ErrUnauthorized))
	}

	if s.limiter != nil && s.cfg.RateLimit > 0 {
		allowed, err := s.limiter.Allow(ctx, "orders:"+maker, s.cfg.RateLimit, s.cfg.RateWindow)
		if err != nil {
			s.logger.WarnContext(ctx, "order_service: rate limiter unavailable",
				slog.String("error", err.Error()),
			)
		} else if !allowed {
			return failAll(fmt.Errorf("order_service: %w", domain.ErrRateLimited))
		}
	}

	start := s.now()
	out, err := s.placer.PlaceBatch(ctx, batch, s.cfg.OrderType)
	if err != nil {
		s.logger.ErrorContext(ctx, "order_service: batch submission failed",
			slog.Int("legs", len(legs)),
			slog.String("error", err.Error()),
		)
		if len(out) == len(legs) {
			return out, err
		}
		return failAll(err)
	}

	for _, r := range out {
		s.logger.InfoContext(ctx, "order_service: leg result",
			slog.String("side", string(r.Side)),
			slog.Bool("ok", r.OK),
			slog.String("order_id", r.OrderID),
			slog.String("status", r.Status),
			slog.String("error", r.Err),
			slog.Duration("latency", s.now().Sub(start)),
		)
	}
	return out, nil
}
