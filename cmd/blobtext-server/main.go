// blobtext server
//
// Features:
// - Explorer API over a virtual filesystem projected from a flat blob store
// - Optimistic mutations with rollback, SSE state events
// - Blob API exposing the configured gateway (memory, local, S3, PostgreSQL)
// - Prometheus metrics & structured logging (zap)
// - Optional JWT auth
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/blobtext/internal/api"
	"github.com/fruitsalade/blobtext/internal/auth"
	"github.com/fruitsalade/blobtext/internal/blobapi"
	"github.com/fruitsalade/blobtext/internal/config"
	"github.com/fruitsalade/blobtext/internal/events"
	"github.com/fruitsalade/blobtext/internal/explorer"
	"github.com/fruitsalade/blobtext/internal/gateway"
	"github.com/fruitsalade/blobtext/internal/logging"
	"github.com/fruitsalade/blobtext/internal/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("blobtext server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("gateway", cfg.Gateway))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage gateway
	gw, err := gateway.New(ctx, cfg.GatewayConfig())
	if err != nil {
		logging.Fatal("gateway init failed", zap.Error(err))
	}
	defer gw.Close()

	// Explorer + SSE
	broadcaster := events.NewBroadcaster()
	ex := explorer.New(gw,
		explorer.WithPublisher(broadcaster),
		explorer.WithPruneStale(cfg.PruneStale))
	if err := ex.Fetch(ctx); err != nil {
		// The listing is retried on the next refresh.
		logging.Warn("initial fetch failed", zap.Error(err))
	}

	// Auth (optional)
	var authHandler *auth.Auth
	if cfg.JWTSecret != "" {
		authHandler = auth.New(cfg.JWTSecret)
		logging.Info("JWT auth enabled")
	}

	srv := api.NewServer(ex, broadcaster, api.Config{
		Auth:           authHandler,
		MaxContentSize: cfg.MaxContentSize,
		Backend:        gw.Type(),
	})

	var mounts []func(*http.ServeMux)
	if cfg.BlobAPIEnabled && cfg.Gateway != "remote" {
		blobCfg := blobapi.Config{
			ObjectBaseURL:  cfg.ObjectBaseURL(),
			MaxContentSize: cfg.MaxContentSize,
		}
		if authHandler != nil {
			blobCfg.Protect = authHandler.Middleware
		}
		mounts = append(mounts, blobapi.New(gw, blobCfg).Register)
		logging.Info("blob API enabled", zap.String("objects", cfg.ObjectBaseURL()))
	}

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(mounts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
	logging.Info("server stopped")
}
