package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"brightchat/internal/config"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "brightchat",
		Short: "BrightChat: chat widget backend for Mr. Bright",
		Long: `BrightChat serves the Mr. Bright chat widget and relays each message
to the automation webhook, returning the webhook's reply to the widget.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json or config.yaml (default: ~/.brightchat/config.json)")

	root.AddCommand(serveCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(sessionCmd())
	root.AddCommand(initCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(smokeCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file, falling back to defaults when it does
// not exist, and reconfigures the global logger from it. The returned
// closer releases the log file, if any.
func loadConfig() (*config.Config, func(), error) {
	cfgPath := resolveConfigPath()
	cfg, found, err := config.LoadOrDefaults(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	closer, err := setupLogger(cfg.General)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		logger.Debug("config not found, using defaults", "path", cfgPath)
	}
	return cfg, closer, nil
}

// setupLogger replaces the global logger with one at the configured level,
// optionally teeing to a log file.
func setupLogger(g config.GeneralConfig) (func(), error) {
	var out io.Writer = os.Stderr
	closer := func() {}

	if g.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(g.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(g.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closer = func() { f.Close() }
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: parseLevel(g.LogLevel)}))
	slog.SetDefault(logger)
	return closer, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
