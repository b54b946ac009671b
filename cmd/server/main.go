package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/facerate/internal/adapter/backend"
	"github.com/pscheid92/facerate/internal/adapter/httpserver"
	"github.com/pscheid92/facerate/internal/adapter/imagestore"
	"github.com/pscheid92/facerate/internal/adapter/metrics"
	"github.com/pscheid92/facerate/internal/app"
	"github.com/pscheid92/facerate/internal/domain"
	"github.com/pscheid92/facerate/internal/platform/config"
	"github.com/pscheid92/facerate/internal/platform/logging"
	"github.com/pscheid92/facerate/internal/platform/retry"
)

const (
	startupTimeout        = 30 * time.Second
	shutdownTimeout       = 10 * time.Second
	sessionEvictionPeriod = 5 * time.Minute
)

func runGracefulShutdown(srv *httpserver.Server, sessions *app.Sessions) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		sessions.Stop()
		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupBackend(cfg *config.Config, m *metrics.StoreMetrics) *backend.Backend {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	b, err := backend.Open(ctx, cfg, m)
	if err != nil {
		slog.Error("Failed to open ratings store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	return b
}

func setupImages(cfg *config.Config) *imagestore.Dir {
	images, err := imagestore.Open(cfg.ImagesDir)
	if err != nil {
		slog.Error("Failed to open images directory", "path", cfg.ImagesDir, "error", err)
		os.Exit(1)
	}
	return images
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "backend", cfg.StoreBackend, "commit_mode", cfg.CommitMode)

	registry := metrics.NewRegistry()
	storeMetrics := metrics.NewStoreMetrics(registry)
	viewMetrics := metrics.NewViewMetrics(registry)
	ratingMetrics := metrics.NewRatingMetrics(registry)
	httpMetrics := metrics.NewHTTPMetrics(registry)

	store := setupBackend(cfg, storeMetrics)
	defer func() { _ = store.Close() }()

	images := setupImages(cfg)
	defer func() { _ = images.Close() }()

	gateway := app.NewGateway(store.Store, app.GatewayConfig{
		PageSize: cfg.StorePageSize,
		Retry: retry.Policy{
			MaxAttempts:      cfg.StoreRetryAttempts,
			InitialBackoff:   cfg.StoreRetryBackoff,
			RateLimitBackoff: cfg.StoreRateLimitBackoff,
		},
	}, storeMetrics)

	commitMode := domain.ParseCommitMode(cfg.CommitMode)
	if commitMode == domain.CommitModeTable {
		slog.Warn("Table commit mode rewrites the whole table on every rating; concurrent raters can overwrite each other")
	}
	if commitMode == domain.CommitModeRow && !gateway.SupportsConditional() {
		slog.Warn("Store has no conditional write; a rating racing another between check and write may be overwritten", "backend", store.Name)
	}

	view := app.NewView(gateway, clock, viewMetrics)
	rater := app.NewRater(view, gateway, images, app.RaterConfig{
		SelectionMaxAge: cfg.SelectionMaxAge,
		TrackExclusions: cfg.TrackLocalExclusions,
		CommitMode:      commitMode,
	}, ratingMetrics)

	sessions := app.NewSessions(clock, cfg.SessionIdleTimeout, ratingMetrics)
	sessions.StartEvictionTimer(sessionEvictionPeriod)

	healthChecks := []httpserver.HealthCheck{
		{Name: store.Name, Check: gateway.Ping},
		{Name: "images", Check: images.Ping},
	}

	srv, err := httpserver.NewServer(cfg, rater, sessions, view, images, httpMetrics, metrics.Handler(registry), healthChecks)
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	done := runGracefulShutdown(srv, sessions)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
