// Package app provides the top-level lifecycle of the bot. It wires the
// optional infrastructure, builds the exchange session, selects the mode
// runner and supervises the long-lived goroutines until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/config"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/server/handler"
)

const sessionLockTTL = 30 * time.Second

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg       *config.Config
	base      *slog.Logger // handed to components, which add their own "component"
	logger    *slog.Logger
	sessionID string
	startedAt time.Time
	closers   []func()

	mu      sync.RWMutex
	session *Session
	runner  *modeRunner
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	id := uuid.NewString()
	return &App{
		cfg:       cfg,
		base:      logger,
		logger:    logger.With(slog.String("component", "app"), slog.String("session", id)),
		sessionID: id,
		startedAt: time.Now(),
	}
}

// SessionID identifies this run in the trade store and the archive.
func (a *App) SessionID() string { return a.sessionID }

// Run wires the dependencies, takes the single-instance lock, builds the
// session and runs the configured mode until ctx is cancelled. A clean
// shutdown returns nil.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("coin", a.cfg.Market.Coin),
		slog.String("interval", a.cfg.Market.Interval),
		slog.Bool("dry_run", a.cfg.Arb.DryRun),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.sessionID, a.base)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if deps.Locks != nil && a.cfg.Redis.SessionLock {
		key := "session:" + a.cfg.Market.Coin + ":" + a.cfg.Market.Interval
		release, err := deps.Locks.Hold(ctx, key, sessionLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return fmt.Errorf("app: another bot is already running %s: %w", key, err)
			}
			return fmt.Errorf("app: session lock: %w", err)
		}
		a.closers = append(a.closers, release)
	}

	sess, err := NewSession(ctx, a.cfg, a.base)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	r, err := a.newRunner(ctx, sess, deps)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	a.mu.Lock()
	a.session = sess
	a.runner = r
	a.mu.Unlock()

	err = a.runMode(ctx, sess, r, deps)
	a.finish(ctx, r, deps)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// SetupWallet builds a session and runs the one-off Safe deployment and
// USDC approval.
func (a *App) SetupWallet(ctx context.Context) error {
	sess, err := NewSession(ctx, a.cfg, a.base)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return sess.SetupWallet(ctx)
}

// Status implements handler.StatusSource.
func (a *App) Status() handler.Status {
	st := handler.Status{
		Mode:    a.cfg.Mode,
		Coin:    a.cfg.Market.Coin,
		Session: a.sessionID,
		Uptime:  time.Since(a.startedAt).Round(time.Second).String(),
	}

	a.mu.RLock()
	sess, r := a.session, a.runner
	a.mu.RUnlock()

	if sess != nil {
		st.Connected = sess.Manager.IsConnected()
		if m := sess.Manager.Current(); m != nil {
			st.Market = &handler.MarketStatus{Slug: m.Slug, Question: m.Question, EndDate: m.EndDate}
		}
	}
	if r != nil {
		st.Line = r.StatusLine()
		st.Engine = r.stats()
	}
	return st
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
