package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults, loads .env when present
// and applies POLYBOT_* overrides. An empty path or a missing file leaves
// the defaults in place. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	cfg.Arb.OrderType = strings.ToUpper(cfg.Arb.OrderType)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets without touching the
// file. Unset or empty variables leave the field alone.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "POLYBOT_MODE")
	setStr(&cfg.LogLevel, "POLYBOT_LOG_LEVEL")
	setDuration(&cfg.StatusInterval, "POLYBOT_STATUS_INTERVAL")

	setStr(&cfg.Wallet.PrivateKey, "POLYBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.PrivateKey, "POLY_PRIVATE_KEY")
	setStr(&cfg.Wallet.SafeAddress, "POLYBOT_WALLET_SAFE_ADDRESS")
	setStr(&cfg.Wallet.SafeAddress, "POLY_SAFE_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYBOT_KEY_PASSWORD")
	setStr(&cfg.Wallet.CredentialsFile, "POLYBOT_WALLET_CREDENTIALS_FILE")

	setStr(&cfg.Polymarket.ClobHost, "POLYBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYBOT_POLYMARKET_WS_HOST")
	setStr(&cfg.Polymarket.RelayerHost, "POLYBOT_POLYMARKET_RELAYER_HOST")
	setInt(&cfg.Polymarket.ChainID, "POLYBOT_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "POLYBOT_POLYMARKET_SIGNATURE_TYPE")

	setStr(&cfg.Builder.ApiKey, "POLYBOT_BUILDER_API_KEY")
	setStr(&cfg.Builder.ApiSecret, "POLYBOT_BUILDER_API_SECRET")
	setStr(&cfg.Builder.ApiPassphrase, "POLYBOT_BUILDER_API_PASSPHRASE")

	setStr(&cfg.Market.Coin, "POLYBOT_MARKET_COIN")
	setStr(&cfg.Market.Interval, "POLYBOT_MARKET_INTERVAL")
	setDuration(&cfg.Market.CheckInterval, "POLYBOT_MARKET_CHECK_INTERVAL")
	setBool(&cfg.Market.AutoSwitch, "POLYBOT_MARKET_AUTO_SWITCH")

	setFloat64(&cfg.Arb.TradeSize, "POLYBOT_ARB_TRADE_SIZE")
	setFloat64(&cfg.Arb.MinSpread, "POLYBOT_ARB_MIN_SPREAD")
	setFloat64(&cfg.Arb.PriceBuffer, "POLYBOT_ARB_PRICE_BUFFER")
	setDuration(&cfg.Arb.Cooldown, "POLYBOT_ARB_COOLDOWN")
	setInt(&cfg.Arb.MaxTrades, "POLYBOT_ARB_MAX_TRADES")
	setStr(&cfg.Arb.OrderType, "POLYBOT_ARB_ORDER_TYPE")
	setBool(&cfg.Arb.DryRun, "POLYBOT_ARB_DRY_RUN")

	setDuration(&cfg.FlashCrash.Lookback, "POLYBOT_FLASH_CRASH_LOOKBACK")
	setFloat64(&cfg.FlashCrash.DropThreshold, "POLYBOT_FLASH_CRASH_DROP_THRESHOLD")
	setFloat64(&cfg.FlashCrash.TradeSize, "POLYBOT_FLASH_CRASH_TRADE_SIZE")
	setFloat64(&cfg.FlashCrash.TakeProfit, "POLYBOT_FLASH_CRASH_TAKE_PROFIT")
	setFloat64(&cfg.FlashCrash.StopLoss, "POLYBOT_FLASH_CRASH_STOP_LOSS")

	setStr(&cfg.Postgres.DSN, "POLYBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.Host, "POLYBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYBOT_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "POLYBOT_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "POLYBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "POLYBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "POLYBOT_REDIS_KEY_PREFIX")
	setBool(&cfg.Redis.SessionLock, "POLYBOT_REDIS_SESSION_LOCK")
	setInt(&cfg.Redis.OrderRateLimit, "POLYBOT_REDIS_ORDER_RATE_LIMIT")

	setStr(&cfg.S3.Endpoint, "POLYBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYBOT_S3_FORCE_PATH_STYLE")

	setStr(&cfg.Notify.TelegramToken, "POLYBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYBOT_NOTIFY_EVENTS")

	setBool(&cfg.Server.Enabled, "POLYBOT_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "POLYBOT_SERVER_ADDR")
	setStr(&cfg.Server.APIKey, "POLYBOT_SERVER_API_KEY")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
