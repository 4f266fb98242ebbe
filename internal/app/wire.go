package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	s3blob "github.com/vladmeeros/polymarket-arbitrage-bot/internal/blob/s3"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/cache/redis"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/config"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/notify"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/server/handler"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/store/postgres"
)

// Dependencies bundles the optional infrastructure sinks. A nil field means
// the sink is not configured; the bot trades without it.
type Dependencies struct {
	// Stores
	Trades    domain.ArbTradeStore
	Positions domain.PositionStore

	// Caches
	Quotes  domain.QuoteCache
	Bus     domain.SignalBus
	Locks   *redis.LockManager
	Limiter domain.RateLimiter

	// Blob storage
	Archiver domain.SessionArchiver

	// Notifications
	Notifier *notify.Notifier

	// Health checks for the status server, keyed by dependency name.
	Checks map[string]handler.Check
}

// Wire connects every configured sink and returns the bundle together with
// a cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, sessionID string, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Trades = postgres.NewArbTradeStore(pool, sessionID)
		deps.Positions = postgres.NewPositionStore(pool)
		deps.Checks["postgres"] = pool.Ping
		logger.InfoContext(ctx, "postgres connected")
	}

	// --- Redis ---
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Quotes = redis.NewQuoteCache(redisClient, 0)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient.Ping
		logger.InfoContext(ctx, "redis connected", slog.String("prefix", cfg.Redis.KeyPrefix))
	}

	// --- S3 session archive ---
	if cfg.S3.Enabled() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), logger)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	httpClient := &http.Client{Timeout: 10 * time.Second}
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			httpClient,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(httpClient, cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
