package gamehall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stellarfest/gamehall/gamehall/database"
	"github.com/stellarfest/gamehall/gamehall/database/repositories"
	"github.com/stellarfest/gamehall/gamehall/economy"
	"github.com/stellarfest/gamehall/gamehall/handlers"
	"github.com/stellarfest/gamehall/gamehall/logger"
	"github.com/stellarfest/gamehall/gamehall/period"
	"github.com/stellarfest/gamehall/gamehall/realtime"
)

// App wires the store, the period state machines, the transaction engine and
// the HTTP/websocket surface together.
type App struct {
	Cfg *Config
	DB  *database.DB

	PeriodRepo  repositories.PeriodRepository
	CatalogRepo repositories.CatalogRepository
	Ledger      *repositories.LedgerRepository

	Catalog *economy.Catalog
	Engine  *economy.Engine
	Periods *period.Machine
	Hub     *realtime.Hub
	Sweeper *period.Sweeper

	server *http.Server
}

func NewApp(cfg *Config, db *database.DB) (*App, error) {
	app := &App{Cfg: cfg, DB: db}

	bunDB := db.BunDB()
	app.PeriodRepo = repositories.NewPeriodRepository(bunDB)
	app.CatalogRepo = repositories.NewCatalogRepository(bunDB)
	app.Ledger = repositories.NewLedgerRepository(bunDB)

	catalog, err := economy.NewCatalog(app.CatalogRepo)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog: %w", err)
	}
	app.Catalog = catalog

	app.Hub = realtime.NewHub()
	app.Periods = period.NewMachine(app.PeriodRepo, app.Hub)
	app.Sweeper = period.NewSweeper(app.Periods)

	engineCfg := economy.DefaultConfig()
	if cfg.Economy.GachaCost > 0 {
		engineCfg.GachaCost = cfg.Economy.GachaCost
	}
	if cfg.Economy.GachaCurrency != "" {
		engineCfg.GachaCurrency = economy.Currency(cfg.Economy.GachaCurrency)
	}
	app.Engine = economy.NewEngine(app.Ledger, app.Catalog, app.Periods, engineCfg)

	handler := handlers.New(app.Periods, app.Engine, app.CatalogRepo, app.Hub)
	app.server = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return app, nil
}

// Start runs the sweeper and the HTTP server, blocking until the server
// stops.
func (a *App) Start(ctx context.Context) error {
	if err := a.Sweeper.Start(ctx); err != nil {
		return err
	}

	logger.LogSystem("Server listening", slog.String("addr", a.Cfg.Server.Addr))
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) Shutdown(ctx context.Context) {
	a.Sweeper.Stop()
	if err := a.server.Shutdown(ctx); err != nil {
		logger.LogError("Server shutdown failed", err)
	}
	a.Hub.Close()
	a.DB.Close()
}
