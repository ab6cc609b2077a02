package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/commerce-concierge/internal/api/router"
	appbootstrap "github.com/wolfman30/commerce-concierge/internal/app/bootstrap"
	appconfig "github.com/wolfman30/commerce-concierge/internal/config"
	"github.com/wolfman30/commerce-concierge/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/commerce-concierge/internal/http/middleware"
	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting commerce-concierge API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	metricsHandler, registry := setupMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := appbootstrap.Build(ctx, cfg, logger, appbootstrap.Options{Registerer: registry})
	if err != nil {
		logger.Error("failed to build turn engine", "error", err)
		os.Exit(1)
	}

	var limiter *httpmiddleware.RateLimiter
	if cfg.TurnRatePerSecond > 0 {
		limiter = httpmiddleware.NewRateLimiter(cfg.TurnRatePerSecond, cfg.TurnBurst)
		go evictIdleBuckets(ctx, limiter, 10*time.Minute)
	}

	// Setup router
	r := router.New(&router.Config{
		Logger:               logger,
		Turns:                handlers.NewTurnsHandler(rt.Dispatcher, rt.States, logger),
		MetricsHandler:       metricsHandler,
		ServiceAuthSecret:    cfg.ServiceJWTSecret,
		AllowUnauthenticated: cfg.Env == "development",
		RateLimiter:          limiter,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := rt.Close(shutdownCtx); err != nil {
		logger.Error("runtime shutdown incomplete", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (http.Handler, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), registry
}

func evictIdleBuckets(ctx context.Context, limiter *httpmiddleware.RateLimiter, idle time.Duration) {
	ticker := time.NewTicker(idle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Evict(idle)
		}
	}
}
