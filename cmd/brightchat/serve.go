package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"brightchat/internal/config"
	"brightchat/internal/forwarder"
	"brightchat/internal/server"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (widget + /api/chat)",
		Long:  "Serves the chat widget and forwards POST /api/chat to the webhook. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fwd := forwarder.New(forwarder.Config{
		URL:     cfg.Webhook.URL,
		Timeout: time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Endpoint
	}

	srv := server.New(server.Config{
		Addr:        cfg.Server.Addr(),
		Forwarder:   fwd,
		StaticDir:   cfg.Server.StaticDir,
		MetricsPath: metricsPath,
		Version:     version,
		Logger:      logger,
	})

	logger.Info("forwarding chat messages",
		"webhook", config.Sanitize(cfg).Webhook.URL,
		"timeout_seconds", cfg.Webhook.TimeoutSeconds,
	)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
