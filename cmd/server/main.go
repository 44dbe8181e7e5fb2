package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mcoot/lemonslots/internal/api"
	"github.com/mcoot/lemonslots/internal/config"
	"github.com/mcoot/lemonslots/internal/factory"
)

func main() {
	configPath := flag.String("config", os.Getenv("LEMON_CONFIG"), "Path to YAML config file (env: LEMON_CONFIG)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath string) error {
	settings, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level, err := settings.SlogLevel()
	if err != nil {
		return err
	}

	// Set up logging with JSON output
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Create application factory
	app, err := factory.New(ctx, factory.ConfigFromSettings(settings, logger))
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}()

	if settings.Admin.KeyHash == "" {
		logger.Warn("admin key hash not configured - admin routes are disabled")
	}

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		Logger:         logger,
		Clock:          app.Clock,
		Directory:      app.Directory,
		SpinEngine:     app.SpinEngine,
		GrantService:   app.GrantService,
		Reconciliation: app.Reconciliation,
		Leaderboard:    app.Leaderboard,
		Hub:            app.Hub,
		Metrics:        app.Metrics,
		AdminKeyHash:   settings.Admin.KeyHash,
	})

	// Create server
	serverConfig := api.DefaultServerConfig()
	serverConfig.Port = settings.HTTP.Port
	serverConfig.ShutdownTimeout = settings.HTTP.ShutdownTimeout
	server := api.NewServer(router, serverConfig, logger)

	logger.Info("server starting",
		slog.String("addr", server.Addr()),
		slog.String("storage", settings.Storage.Type),
		slog.String("settlement", settings.Spin.Settlement),
		slog.String("serializer", settings.Spin.Serializer))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Run(gctx)
	})
	g.Go(func() error {
		return server.Serve(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}
