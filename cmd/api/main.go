// AngelaMos | 2026
// main.go

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/carterperez-dev/templates/auth-service/internal/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("auth service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log, cfg.IsDevelopment())
	slog.SetDefault(logger)

	logger.Info("starting auth service",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
		"token_store", cfg.Store.Driver,
	)

	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	return a.serve(ctx)
}

// newLogger accepts the level names slog itself parses and falls back to
// info for anything else.
func newLogger(cfg config.LogConfig, addSource bool) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: addSource}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
