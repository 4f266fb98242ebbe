package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/config"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/crypto"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/market"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/platform/polymarket"
)

// usdcApproveAll is the allowance granted to the exchange by SetupWallet.
const usdcApproveAll = int64(1) << 62

// Session owns the exchange-facing objects of one bot run: the signer, the
// CLOB client with its L2 credentials, the optional relayer client and the
// market manager with its stream. It is built once and handed to the mode
// runner.
type Session struct {
	Signer  *crypto.Signer            // nil when no key is loaded
	Clob    *polymarket.ClobClient    // nil when no key is loaded
	Relayer *polymarket.RelayerClient // nil without builder credentials
	Stream  *polymarket.WSClient
	Manager *market.Manager

	safeAddress string
	logger      *slog.Logger
}

// NewSession loads the signing key when the mode places live orders, derives
// the L2 API credentials and builds the market manager. It does not start
// any goroutine.
func NewSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Session, error) {
	s := &Session{
		safeAddress: cfg.Wallet.SafeAddress,
		logger:      logger.With(slog.String("component", "session")),
	}

	var builder *crypto.HMACAuth
	if cfg.Builder.Enabled() {
		builder = &crypto.HMACAuth{
			Key:        cfg.Builder.ApiKey,
			Secret:     cfg.Builder.ApiSecret,
			Passphrase: cfg.Builder.ApiPassphrase,
		}
		s.Relayer = polymarket.NewRelayerClient(cfg.Polymarket.RelayerHost, builder, logger)
	}

	if cfg.NeedsWallet() && !cfg.Arb.DryRun {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("session: load key: %w", err)
		}
		signer, err := crypto.NewSigner(key, int64(cfg.Polymarket.ChainID), "")
		if err != nil {
			return nil, fmt.Errorf("session: signer: %w", err)
		}
		s.Signer = signer
		s.Clob = polymarket.NewClobClient(polymarket.ClobConfig{
			BaseURL:       cfg.Polymarket.ClobHost,
			ChainID:       int64(cfg.Polymarket.ChainID),
			SignatureType: cfg.Polymarket.SignatureType,
			Funder:        cfg.Wallet.SafeAddress,
		}, signer, builder, logger)

		creds, err := s.apiCredentials(ctx, cfg.Wallet.CredentialsFile)
		if err != nil {
			return nil, err
		}
		s.Clob.SetCredentials(creds)
		s.logger.InfoContext(ctx, "exchange credentials ready",
			slog.String("address", s.Clob.Address()),
			slog.Bool("builder", builder != nil),
		)
	}

	s.Stream = polymarket.NewWSClient(polymarket.WSConfig{URL: cfg.Polymarket.WsHost}, logger)
	gamma := polymarket.NewGammaClient(cfg.Polymarket.GammaHost, logger)
	s.Manager = market.NewManager(market.Config{
		Coin:          cfg.Market.Coin,
		Interval:      cfg.Market.Interval,
		CheckInterval: cfg.Market.CheckInterval.Duration,
		AutoSwitch:    cfg.Market.AutoSwitch,
	}, gamma, s.Stream, logger)

	return s, nil
}

// apiCredentials reads the L2 credentials from path when it is set and
// valid, and derives them from the signing key otherwise.
func (s *Session) apiCredentials(ctx context.Context, path string) (domain.ApiCredentials, error) {
	if path != "" {
		creds, err := domain.LoadApiCredentials(path)
		if err != nil {
			return domain.ApiCredentials{}, fmt.Errorf("session: %w", err)
		}
		if creds.Valid() {
			return creds, nil
		}
		s.logger.WarnContext(ctx, "credentials file incomplete, deriving from key", slog.String("path", path))
	}
	creds, err := s.Clob.CreateOrDeriveAPIKey(ctx)
	if err != nil {
		return domain.ApiCredentials{}, fmt.Errorf("session: api credentials: %w", err)
	}
	return creds, nil
}

// Trading reports whether the session can place live orders.
func (s *Session) Trading() bool { return s.Clob != nil }

// SetupWallet deploys the Safe through the relayer and approves the
// exchange to spend its USDC.
func (s *Session) SetupWallet(ctx context.Context) error {
	if s.Relayer == nil {
		return fmt.Errorf("session: setup wallet: builder credentials are required")
	}
	if s.safeAddress == "" {
		return fmt.Errorf("session: setup wallet: wallet.safe_address is required")
	}

	res, err := s.Relayer.DeploySafe(ctx, s.safeAddress)
	if err != nil {
		return fmt.Errorf("session: deploy safe: %w", err)
	}
	s.logger.InfoContext(ctx, "safe deployed", slog.String("tx", res.TransactionHash))

	res, err = s.Relayer.ApproveUSDC(ctx, s.safeAddress, crypto.DefaultExchangeAddress, usdcApproveAll)
	if err != nil {
		return fmt.Errorf("session: approve usdc: %w", err)
	}
	s.logger.InfoContext(ctx, "usdc approved", slog.String("tx", res.TransactionHash))
	return nil
}

// Close stops the market manager: the check loop first, then the stream run
// loop, then the stream itself. The session cannot be started again.
func (s *Session) Close() {
	start := time.Now()
	s.Manager.Stop()
	s.logger.Debug("session closed", slog.Duration("took", time.Since(start)))
}
