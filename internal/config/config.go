// Package config defines the bot's configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by POLYBOT_* environment variables.
type Config struct {
	Mode           string           `toml:"mode"`
	LogLevel       string           `toml:"log_level"`
	StatusInterval duration         `toml:"status_interval"`
	Wallet         WalletConfig     `toml:"wallet"`
	Polymarket     PolymarketConfig `toml:"polymarket"`
	Builder        BuilderConfig    `toml:"builder"`
	Market         MarketConfig     `toml:"market"`
	Arb            ArbConfig        `toml:"arb"`
	FlashCrash     FlashCrashConfig `toml:"flash_crash"`
	Postgres       PostgresConfig   `toml:"postgres"`
	Redis          RedisConfig      `toml:"redis"`
	S3             S3Config         `toml:"s3"`
	Notify         NotifyConfig     `toml:"notify"`
	Server         ServerConfig     `toml:"server"`
}

// WalletConfig holds the signing key source. Either PrivateKey or
// EncryptedKeyPath plus KeyPassword. CredentialsFile, when set, holds
// pre-generated L2 API credentials and skips key derivation at startup.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	SafeAddress      string `toml:"safe_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	CredentialsFile  string `toml:"credentials_file"`
}

// PolymarketConfig holds API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	RelayerHost   string `toml:"relayer_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
}

// BuilderConfig holds builder-program credentials for gasless mode.
type BuilderConfig struct {
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// Enabled reports whether all three credentials are present.
func (b BuilderConfig) Enabled() bool {
	return b.ApiKey != "" && b.ApiSecret != "" && b.ApiPassphrase != ""
}

// MarketConfig selects which up/down market family to follow.
type MarketConfig struct {
	Coin          string   `toml:"coin"`
	Interval      string   `toml:"interval"` // "15m" or "1h"
	CheckInterval duration `toml:"check_interval"`
	AutoSwitch    bool     `toml:"auto_switch"`
}

// ArbConfig drives the paired-buy engine.
type ArbConfig struct {
	TradeSize   float64  `toml:"trade_size"`
	MinSpread   float64  `toml:"min_spread"`
	PriceBuffer float64  `toml:"price_buffer"`
	MaxLegPrice float64  `toml:"max_leg_price"`
	Cooldown    duration `toml:"cooldown"`
	MaxTrades   int      `toml:"max_trades"`
	OrderType   string   `toml:"order_type"`
	FeeRateBps  int      `toml:"fee_rate_bps"`
	DryRun      bool     `toml:"dry_run"`
}

// FlashCrashConfig drives detection and the flash trader.
type FlashCrashConfig struct {
	Lookback      duration `toml:"lookback"`
	DropThreshold float64  `toml:"drop_threshold"`
	MaxHistory    int      `toml:"max_history"`
	TradeSize     float64  `toml:"trade_size"`
	PriceBuffer   float64  `toml:"price_buffer"`
	TakeProfit    float64  `toml:"take_profit"`
	StopLoss      float64  `toml:"stop_loss"`
	MaxPositions  int      `toml:"max_positions"`
}

// PostgresConfig enables trade and position persistence when DSN or Host
// is set.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.DSN) != "" || p.Host != ""
}

// RedisConfig enables the quote mirror, signal bus, session lock and order
// rate limiter when Addr is set.
type RedisConfig struct {
	Addr           string `toml:"addr"`
	Password       string `toml:"password"`
	DB             int    `toml:"db"`
	PoolSize       int    `toml:"pool_size"`
	MaxRetries     int    `toml:"max_retries"`
	TLSEnabled     bool   `toml:"tls_enabled"`
	KeyPrefix      string `toml:"key_prefix"`
	SessionLock    bool   `toml:"session_lock"`
	OrderRateLimit int    `toml:"order_rate_limit"` // batches per second, 0 disables
}

func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// S3Config enables the session archive when Bucket is set.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

func (s S3Config) Enabled() bool { return s.Bucket != "" }

// NotifyConfig holds chat credentials and the event filter.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds the status API parameters.
type ServerConfig struct {
	Enabled   bool   `toml:"enabled"`
	Addr      string `toml:"addr"`
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit"`
}

// duration decodes TOML strings such as "5s" or "30m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration. Infrastructure sinks are
// off until an address, DSN or bucket is given.
func Defaults() Config {
	return Config{
		Mode:           "arb",
		LogLevel:       "info",
		StatusInterval: duration{10 * time.Second},
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			RelayerHost:   "https://relayer-v2.polymarket.com",
			ChainID:       137,
			SignatureType: 2,
		},
		Market: MarketConfig{
			Coin:          "BTC",
			Interval:      "15m",
			CheckInterval: duration{30 * time.Second},
			AutoSwitch:    true,
		},
		Arb: ArbConfig{
			TradeSize:   5.0,
			MinSpread:   0.02,
			PriceBuffer: 0.01,
			MaxLegPrice: 0.99,
			Cooldown:    duration{5 * time.Second},
			MaxTrades:   10,
			OrderType:   "GTC",
		},
		FlashCrash: FlashCrashConfig{
			Lookback:      duration{10 * time.Second},
			DropThreshold: 0.30,
			MaxHistory:    100,
			TradeSize:     5.0,
			PriceBuffer:   0.01,
			TakeProfit:    0.10,
			StopLoss:      0.05,
			MaxPositions:  1,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			Database:      "polybot",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:    10,
			MaxRetries:  3,
			KeyPrefix:   "polybot:",
			SessionLock: true,
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"partial_fill", "flash_crash", "session_end"},
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8000",
		},
	}
}

var validModes = map[string]bool{
	"arb":     true,
	"flash":   true,
	"monitor": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validOrderTypes = map[string]bool{
	"GTC": true,
	"FOK": true,
	"GTD": true,
	"FAK": true,
}

// NeedsWallet reports whether the mode places orders.
func (c *Config) NeedsWallet() bool {
	return c.Mode != "monitor"
}

// Validate returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if !validModes[c.Mode] {
		add("unknown mode %q (valid: arb, flash, monitor)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if c.NeedsWallet() && !c.Arb.DryRun {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			add("wallet: private_key or encrypted_key_path must be set for mode %s", c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			add("wallet: key_password (or POLYBOT_KEY_PASSWORD) is required with encrypted_key_path")
		}
	}

	if c.Polymarket.ClobHost == "" {
		add("polymarket: clob_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		add("polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType < 0 || c.Polymarket.SignatureType > 2 {
		add("polymarket: signature_type must be 0 (EOA), 1 (proxy) or 2 (Safe), got %d", c.Polymarket.SignatureType)
	}

	bk, bs, bp := c.Builder.ApiKey != "", c.Builder.ApiSecret != "", c.Builder.ApiPassphrase != ""
	if (bk || bs || bp) && !(bk && bs && bp) {
		add("builder: api_key, api_secret and api_passphrase must all be set together")
	}

	if strings.TrimSpace(c.Market.Coin) == "" {
		add("market: coin must not be empty")
	}
	if c.Market.Interval != "15m" && c.Market.Interval != "1h" {
		add("market: interval must be 15m or 1h, got %q", c.Market.Interval)
	}

	if c.Arb.TradeSize <= 0 {
		add("arb: trade_size must be > 0")
	}
	if c.Arb.MinSpread < 0 || c.Arb.MinSpread >= 1 {
		add("arb: min_spread must be in [0, 1)")
	}
	if c.Arb.PriceBuffer < 0 {
		add("arb: price_buffer must be >= 0")
	}
	if c.Arb.MaxLegPrice <= 0 || c.Arb.MaxLegPrice > 1 {
		add("arb: max_leg_price must be in (0, 1]")
	}
	if c.Arb.Cooldown.Duration < 0 {
		add("arb: cooldown must be >= 0")
	}
	if !validOrderTypes[strings.ToUpper(c.Arb.OrderType)] {
		add("arb: unknown order_type %q (valid: GTC, FOK, GTD, FAK)", c.Arb.OrderType)
	}

	if c.FlashCrash.DropThreshold <= 0 || c.FlashCrash.DropThreshold >= 1 {
		add("flash_crash: drop_threshold must be in (0, 1)")
	}
	if c.FlashCrash.Lookback.Duration <= 0 {
		add("flash_crash: lookback must be > 0")
	}
	if c.FlashCrash.TradeSize <= 0 {
		add("flash_crash: trade_size must be > 0")
	}
	if c.FlashCrash.TakeProfit <= 0 || c.FlashCrash.StopLoss <= 0 {
		add("flash_crash: take_profit and stop_loss must be > 0")
	}
	if c.FlashCrash.MaxPositions < 1 {
		add("flash_crash: max_positions must be >= 1")
	}

	if c.Postgres.Enabled() {
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if c.Redis.Enabled() && c.Redis.PoolSize < 1 {
		add("redis: pool_size must be >= 1")
	}
	if c.S3.Enabled() && c.S3.Region == "" {
		add("s3: region must not be empty")
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		add("server: addr must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
