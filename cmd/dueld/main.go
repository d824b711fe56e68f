package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexgmz/dueld/config"
	"github.com/alexgmz/dueld/internal/adapters/httpapi"
	"github.com/alexgmz/dueld/internal/adapters/notify"
	"github.com/alexgmz/dueld/internal/adapters/storage"
	"github.com/alexgmz/dueld/internal/application/duel"
	"github.com/alexgmz/dueld/internal/domain"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	list := flag.Bool("list", false, "print the duel table and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	console := notify.NewConsole()
	svc := duel.New(store, console, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *list {
		runList(ctx, svc, console)
		return
	}

	slog.Info("dueld starting",
		"config", *configPath,
		"port", cfg.API.Port,
		"dsn", cfg.Storage.DSN,
		"fee_bps", cfg.Protocol.FeeBps,
	)

	if err := ensureInitialized(ctx, svc, cfg); err != nil {
		slog.Error("failed to initialize protocol", "err", err)
		os.Exit(1)
	}

	server := httpapi.NewServer(svc, cfg.API.OracleRatePerSec, cfg.API.OracleBurst)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.API.Port)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server exited with error", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutdown error", "err", err)
		}
	}

	slog.Info("dueld stopped cleanly")
}

// ensureInitialized creates the registry from config on first boot so the
// daemon is usable without a manual initialize call. A second boot finds
// the existing row and leaves it alone.
func ensureInitialized(ctx context.Context, svc *duel.Service, cfg *config.Config) error {
	_, err := svc.GetProtocol(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotInitialized) {
		return err
	}

	_, err = svc.Initialize(ctx,
		cfg.Protocol.Authority,
		cfg.Protocol.Treasury,
		cfg.Protocol.Oracle,
		cfg.Protocol.FeeBps,
	)
	return err
}

func runList(ctx context.Context, svc *duel.Service, console *notify.Console) {
	if p, err := svc.GetProtocol(ctx); err == nil {
		console.PrintProtocol(p)
	}

	duels, err := svc.ListDuels(ctx)
	if err != nil {
		slog.Error("failed to list duels", "err", err)
		os.Exit(1)
	}
	console.PrintDuels(duels)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
