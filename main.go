package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stellarfest/gamehall/gamehall"
	"github.com/stellarfest/gamehall/gamehall/database"
	"github.com/stellarfest/gamehall/gamehall/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the configuration file")
	flag.Parse()

	cfg, err := gamehall.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	slog.SetDefault(slog.New(logger.NewHandler(cfg.Log.Level)))
	slog.Info("Starting GameHall event server",
		slog.String("version", version),
		slog.String("commit", commit),
		slog.String("type", "sys"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dialStart := time.Now()
	db, err := database.New(ctx, cfg.DB)
	if err != nil {
		slog.Error("Database connection failed",
			slog.String("error", err.Error()),
			slog.Duration("took", time.Since(dialStart)),
			slog.String("type", "db"),
		)
		os.Exit(1)
	}
	slog.Info("Database connected",
		slog.Duration("took", time.Since(dialStart)),
		slog.String("type", "db"),
	)

	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Schema initialization failed",
			slog.String("error", err.Error()),
			slog.String("type", "db"),
		)
		os.Exit(1)
	}

	app, err := gamehall.NewApp(cfg, db)
	if err != nil {
		slog.Error("Application setup failed",
			slog.String("error", err.Error()),
			slog.String("type", "sys"),
		)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start(runCtx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("Server stopped unexpectedly",
				slog.String("error", err.Error()),
				slog.String("type", "sys"),
			)
			os.Exit(1)
		}
	case <-runCtx.Done():
		slog.Info("Shutdown signal received", slog.String("type", "sys"))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	app.Shutdown(shutdownCtx)

	slog.Info("Goodbye", slog.String("type", "sys"))
}
