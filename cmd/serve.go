package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amiantos/ursceal/internal/config"
	"github.com/amiantos/ursceal/internal/engine"
	"github.com/amiantos/ursceal/internal/server"
	"github.com/amiantos/ursceal/internal/store/sqlite"
	"github.com/amiantos/ursceal/internal/telemetry"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func configDefaultPath() string {
	return config.ExpandHome("~/.ursceal/config.yaml")
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func runServe() error {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer shutdownTelemetry(context.Background())

	dbPath := cfg.DatabasePath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create data root: %w", err)
	}
	stores, err := sqlite.NewStores(dbPath)
	if err != nil {
		return err
	}
	defer stores.Close()
	slog.Info("database ready", "path", dbPath)

	eng := engine.New(stores, slog.Default())
	srv := server.New(cfg, stores, eng)

	// Config edits (CORS origins, rate limits) apply without a restart.
	go func() {
		if err := config.Watch(ctx, cfgPath, srv.ApplyConfig); err != nil {
			slog.Warn("config.watch_unavailable", "error", err)
		}
	}()

	return srv.Start(ctx)
}
