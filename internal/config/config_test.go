package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidateInDryRun(t *testing.T) {
	cfg := Defaults()
	cfg.Arb.DryRun = true
	require.NoError(t, cfg.Validate())

	assert.False(t, cfg.Postgres.Enabled())
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.S3.Enabled())
	assert.False(t, cfg.Builder.Enabled())
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.Market.Interval = "5m"
	cfg.Arb.TradeSize = 0
	cfg.Arb.OrderType = "IOC"
	cfg.Builder.ApiKey = "only-key"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "yolo"`)
	assert.Contains(t, msg, "market: interval must be 15m or 1h")
	assert.Contains(t, msg, "arb: trade_size must be > 0")
	assert.Contains(t, msg, `unknown order_type "IOC"`)
	assert.Contains(t, msg, "builder: api_key, api_secret and api_passphrase")
}

func TestValidate_WalletRules(t *testing.T) {
	cfg := Defaults()
	require.ErrorContains(t, cfg.Validate(), "wallet: private_key or encrypted_key_path")

	cfg.Wallet.EncryptedKeyPath = "key.json"
	require.ErrorContains(t, cfg.Validate(), "key_password")

	cfg.Wallet.KeyPassword = "hunter22"
	require.NoError(t, cfg.Validate())

	mon := Defaults()
	mon.Mode = "monitor"
	require.NoError(t, mon.Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "polybot.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "flash"
log_level = "DEBUG"

[market]
coin = "ETH"
interval = "1h"
check_interval = "45s"

[arb]
cooldown = "3s"
order_type = "fok"

[redis]
addr = "localhost:6379"
`), 0o600))

	t.Setenv("POLYBOT_MARKET_COIN", "SOL")
	t.Setenv("POLYBOT_KEY_PASSWORD", "from-env")
	t.Setenv("POLYBOT_NOTIFY_EVENTS", "partial_fill, ,flash_crash")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "flash", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "SOL", cfg.Market.Coin)
	assert.Equal(t, "1h", cfg.Market.Interval)
	assert.Equal(t, 45*time.Second, cfg.Market.CheckInterval.Duration)
	assert.Equal(t, 3*time.Second, cfg.Arb.Cooldown.Duration)
	assert.Equal(t, "FOK", cfg.Arb.OrderType)
	assert.Equal(t, "from-env", cfg.Wallet.KeyPassword)
	assert.Equal(t, []string{"partial_fill", "flash_crash"}, cfg.Notify.Events)
	assert.True(t, cfg.Redis.Enabled())
	assert.InDelta(t, 0.02, cfg.Arb.MinSpread, 1e-12)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "arb", cfg.Mode)
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[arb]\ncooldown = \"soon\"\n"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xabc"
	cfg.Builder.ApiSecret = "s"
	cfg.Server.APIKey = "k"
	cfg.Postgres.DSN = "postgres://u:p@h/db"

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Wallet.PrivateKey)
	assert.Equal(t, redacted, out.Builder.ApiSecret)
	assert.Equal(t, redacted, out.Server.APIKey)
	assert.Equal(t, redacted, out.Postgres.DSN)
	assert.Empty(t, out.Wallet.KeyPassword)
	assert.Equal(t, "0xabc", cfg.Wallet.PrivateKey)

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "partial_fill", cfg.Notify.Events[0])
}
