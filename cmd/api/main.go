// Package main is the entry point for the PlateMask billing sync API server.
//
// It loads configuration, connects the PostgreSQL pool, wires the webhook
// ingestion pipeline (verifier, normalizer, resolver, reconciler) and the
// entitlement read API, and serves HTTP with graceful shutdown on SIGINT or
// SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"platemask/internal/api/handlers"
	"platemask/internal/billing"
	"platemask/internal/config"
	"platemask/internal/core"
	"platemask/internal/db"
	"platemask/internal/external"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("platemask billing sync starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// Webhook ingestion pipeline.
	verifier := &external.StripeVerifier{Tolerance: cfg.Billing.WebhookTolerance}
	stripeClient := external.NewStripeClient(
		&http.Client{Timeout: 20 * time.Second},
		external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
			Logger:    logger,
		},
	)

	catalog := billing.NewCatalog(cfg.Billing.PlanPrices, logger)
	normalizer := billing.NewNormalizer(cfg.Billing.RecognizedEvents, logger)
	resolver := billing.NewAccountResolver(
		db.NewAccountRepo(store.Pool(), logger),
		stripeClient,
		cfg.Billing.CustomerLookupTimeout,
		logger,
	)
	reconciler := billing.NewReconciler(store, catalog, logger)

	webhookHandler := handlers.NewStripeWebhookHandler(
		verifier,
		normalizer,
		resolver,
		reconciler,
		cfg.Billing.StripeWebhookSecret.Unmask(),
		logger,
	)

	// Read API over the projection.
	entitlements := billing.NewEntitlementService(db.NewEntitlementRepo(store.Pool(), logger), logger)
	readHandler := handlers.NewBillingReadHandler(entitlements, catalog, logger)

	router := core.NewRouter(logger, store,
		webhookHandler.RegisterRoutes,
		readHandler.RegisterRoutes,
	)

	return serve(ctx, cfg, router, logger)
}

// openStore connects the pgx pool with the configured tuning and verifies
// connectivity before the server starts accepting traffic.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*db.Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting database pool: %w", err)
	}

	store := db.NewStore(pool, logger)
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("database ping: %w", err)
	}
	return store, nil
}

// serve runs the HTTP server until ctx is cancelled (shutdown signal) or the
// listener fails, then drains in-flight requests within the shutdown timeout.
func serve(ctx context.Context, cfg *config.Config, handler http.Handler, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// newLogger builds the process-wide JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
