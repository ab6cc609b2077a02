package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	appbootstrap "github.com/wolfman30/commerce-concierge/internal/app/bootstrap"
	appconfig "github.com/wolfman30/commerce-concierge/internal/config"
	conversationworker "github.com/wolfman30/commerce-concierge/internal/worker/conversation"
	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := appbootstrap.Options{Registerer: prometheus.DefaultRegisterer}
	if err := conversationworker.Run(ctx, cfg, logger, opts); err != nil {
		logger.Error("conversation worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("conversation worker stopped")
}
