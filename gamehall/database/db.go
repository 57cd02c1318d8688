package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/stellarfest/gamehall/gamehall/database/models"
	"github.com/stellarfest/gamehall/gamehall/logger"
)

const (
	defaultConnTimeout   = 5 * time.Second
	defaultMaxRetries    = 3
	defaultRetryInterval = time.Second
	schemaVersion        = 1 // bump when schema/seed data changes
)

type DBConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	Database     string `toml:"database"`
	PoolSize     int    `toml:"pool_size"`
	MaxIdleConns int    `toml:"max_idle_conns"`
	MaxLifetime  int    `toml:"max_lifetime"`
}

type DB struct {
	pool  *pgxpool.Pool
	bunDB *bun.DB
}

func New(ctx context.Context, cfg DBConfig) (*DB, error) {
	var conn net.Conn
	var err error

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	for i := 0; i < defaultMaxRetries; i++ {
		conn, err = net.DialTimeout("tcp", addr, defaultConnTimeout)
		if err == nil {
			break
		}
		time.Sleep(defaultRetryInterval)
	}
	if err != nil {
		return nil, fmt.Errorf("database server unreachable after %d attempts: %w", defaultMaxRetries, err)
	}
	defer conn.Close()

	poolConfig, err := pgxpool.ParseConfig(buildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if cfg.PoolSize > 0 {
		poolConfig.MaxConns = int32(cfg.PoolSize)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = time.Duration(cfg.MaxLifetime) * time.Second
	}

	return createDB(ctx, poolConfig)
}

func buildConnString(cfg DBConfig) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?connect_timeout=5",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
	)
}

func createDB(ctx context.Context, poolConfig *pgxpool.Config) (*DB, error) {
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{pool: pool, bunDB: newBunDB(pool)}, nil
}

func (db *DB) GetPool() *pgxpool.Pool {
	return db.pool
}

func (db *DB) BunDB() *bun.DB {
	return db.bunDB
}

func newBunDB(pool *pgxpool.Pool) *bun.DB {
	sslMode := os.Getenv("PG_SSLMODE")
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		pool.Config().ConnConfig.User,
		pool.Config().ConnConfig.Password,
		pool.Config().ConnConfig.Host,
		pool.Config().ConnConfig.Port,
		pool.Config().ConnConfig.Database,
		sslMode,
	)

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func (db *DB) ExecWithLog(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	start := time.Now()
	result, err := db.pool.Exec(ctx, sql, args...)
	logger.LogQuery(sql, time.Since(start), err)
	return result, err
}

func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
	if db.bunDB != nil {
		db.bunDB.Close()
	}
}

// Ping verifies both database connections are working
func (db *DB) Ping(ctx context.Context) error {
	if err := db.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pgxpool ping failed: %w", err)
	}
	if err := db.bunDB.PingContext(ctx); err != nil {
		return fmt.Errorf("bun ping failed: %w", err)
	}
	return nil
}

// InitializeSchema creates all required tables, indexes and seed data.
func (db *DB) InitializeSchema(ctx context.Context) error {
	fastInit := os.Getenv("DB_FAST_INIT") == "1"
	if fastInit {
		if err := db.ensureAppMeta(ctx); err == nil {
			if v, _ := db.getAppMeta(ctx, "schema_version"); v == fmt.Sprintf("%d", schemaVersion) {
				slog.Info("Fast DB init: schema up-to-date, skipping initialization",
					slog.String("mode", "DB_FAST_INIT"),
					slog.Int("schema_version", schemaVersion))
				return nil
			}
		}
	}

	tables := []interface{}{
		(*models.Period)(nil),
		(*models.Account)(nil),
		(*models.Item)(nil),
		(*models.InventoryEntry)(nil),
		(*models.Recipe)(nil),
		(*models.UpgradeCostTier)(nil),
		(*models.UserProgress)(nil),
		(*models.LedgerLog)(nil),
	}

	for _, model := range tables {
		_, err := db.bunDB.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		// One live period per economy, enforced by the store rather than by
		// application-level find-then-update.
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_periods_one_active ON periods(economy) WHERE status IN ('ON_GOING', 'PAUSED');",
		"CREATE INDEX IF NOT EXISTS idx_periods_economy_status ON periods(economy, status);",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_user_currency ON accounts(user_id, currency);",
		"CREATE INDEX IF NOT EXISTS idx_accounts_user_id ON accounts(user_id);",
		"CREATE INDEX IF NOT EXISTS idx_inventory_entries_user_id ON inventory_entries(user_id);",
		"CREATE INDEX IF NOT EXISTS idx_items_family ON items(family);",
		"CREATE INDEX IF NOT EXISTS idx_recipes_output ON recipes(output_item_id);",
		"CREATE INDEX IF NOT EXISTS idx_ledger_logs_user_id ON ledger_logs(user_id);",
		"CREATE INDEX IF NOT EXISTS idx_ledger_logs_user_resource ON ledger_logs(user_id, resource);",
		"CREATE INDEX IF NOT EXISTS idx_upgrade_cost_tiers_level ON upgrade_cost_tiers(level);",
	}

	for _, idx := range indexes {
		if _, err := db.ExecWithLog(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := db.InitializeItemData(ctx); err != nil {
		return fmt.Errorf("failed to initialize item data: %w", err)
	}
	if err := db.InitializeRecipeData(ctx); err != nil {
		return fmt.Errorf("failed to initialize recipe data: %w", err)
	}
	if err := db.InitializeTierData(ctx); err != nil {
		return fmt.Errorf("failed to initialize upgrade tier data: %w", err)
	}
	if err := db.InitializePeriodData(ctx); err != nil {
		return fmt.Errorf("failed to initialize period data: %w", err)
	}

	if err := db.ensureAppMeta(ctx); err == nil {
		_ = db.setAppMeta(ctx, "schema_version", fmt.Sprintf("%d", schemaVersion))
	}

	return nil
}

func (db *DB) ensureAppMeta(ctx context.Context) error {
	_, err := db.ExecWithLog(ctx, `CREATE TABLE IF NOT EXISTS app_meta (key TEXT PRIMARY KEY, value TEXT)`)
	return err
}

func (db *DB) getAppMeta(ctx context.Context, key string) (string, error) {
	row := db.pool.QueryRow(ctx, `SELECT value FROM app_meta WHERE key = $1`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		return "", err
	}
	return v, nil
}

func (db *DB) setAppMeta(ctx context.Context, key, value string) error {
	sql := `INSERT INTO app_meta(key, value) VALUES($1, $2)
	        ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	_, err := db.pool.Exec(ctx, sql, key, value)
	return err
}

func stock(n int64) *int64 { return &n }

// InitializeItemData seeds the static item catalog. Existing rows are left
// untouched so live stock counters survive restarts.
func (db *DB) InitializeItemData(ctx context.Context) error {
	items := []*models.Item{
		// Trading: raw materials
		{ID: "wood", Name: "Timber", Description: "Freshly cut lumber.", Family: models.FamilyRaw, Currency: "lumen", BuyPrice: 100, SellPrice: 80},
		{ID: "water", Name: "Spring Water", Description: "A flask of clean water.", Family: models.FamilyRaw, Currency: "lumen", BuyPrice: 60, SellPrice: 48},
		{ID: "ore", Name: "Iron Ore", Description: "Unrefined ore.", Family: models.FamilyRaw, Currency: "lumen", BuyPrice: 150, SellPrice: 120},
		{ID: "herb", Name: "Moon Herb", Description: "A bundle of fragrant herbs.", Family: models.FamilyRaw, Currency: "lumen", BuyPrice: 90, SellPrice: 72},

		// Trading: crafted materials
		{ID: "plank", Name: "Polished Plank", Description: "Worked lumber, ready for assembly.", Family: models.FamilyCraft, Currency: "lumen", SellPrice: 600},
		{ID: "elixir", Name: "Herbal Elixir", Description: "Distilled from moon herbs.", Family: models.FamilyCraft, Currency: "lumen", SellPrice: 500},

		// Trading: maps
		{ID: "treasure_map", Name: "Treasure Map", Description: "Leads somewhere worth going.", Family: models.FamilyMap, Currency: "eternite", SellPrice: 2000},

		// Trading: black market
		{ID: "ancient_relic", Name: "Ancient Relic", Description: "Of dubious provenance. Limited supply.", Family: models.FamilyBlackMarket, Currency: "eternite", BuyPrice: 12000, SellPrice: 9000, Stock: stock(25)},

		// Rally: small items
		{ID: "flag_scrap", Name: "Flag Scrap", Description: "A torn piece of a team flag.", Family: models.FamilySmall, Currency: "lumen", SellPrice: 150},
		{ID: "banner_pole", Name: "Banner Pole", Description: "A sturdy pole.", Family: models.FamilySmall, Currency: "lumen", SellPrice: 250},
		{ID: "sigil_cloth", Name: "Sigil Cloth", Description: "Embroidered cloth bearing a team sigil.", Family: models.FamilySmall, Currency: "lumen", SellPrice: 200},

		// Rally: big item
		{ID: "war_banner", Name: "War Banner", Description: "A fully assembled rally banner.", Family: models.FamilyBig, Currency: "eternite", SellPrice: 5000},

		// Gacha rewards
		{ID: "lucky_charm", Name: "Lucky Charm", Description: "Said to bring fortune.", Family: models.FamilyGachaReward, Currency: "eternite", SellPrice: 50},
		{ID: "mystery_crate", Name: "Mystery Crate", Description: "Rattles when shaken.", Family: models.FamilyGachaReward, Currency: "eternite", SellPrice: 80},
		{ID: "golden_ticket", Name: "Golden Ticket", Description: "Shiny and rare.", Family: models.FamilyGachaReward, Currency: "eternite", SellPrice: 120},
	}

	for _, item := range items {
		_, err := db.bunDB.NewInsert().
			Model(item).
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to seed item %s: %w", item.ID, err)
		}
	}

	slog.Info("Item catalog initialized", slog.Int("count", len(items)))
	return nil
}

// InitializeRecipeData seeds the immutable recipe catalog.
func (db *DB) InitializeRecipeData(ctx context.Context) error {
	recipes := []*models.Recipe{
		{ID: "plank", OutputItemID: "plank", OutputQty: 1, Inputs: []models.RecipeInput{
			{ItemID: "wood", Quantity: 10},
			{ItemID: "water", Quantity: 5},
		}},
		{ID: "elixir", OutputItemID: "elixir", OutputQty: 1, Inputs: []models.RecipeInput{
			{ItemID: "herb", Quantity: 8},
			{ItemID: "water", Quantity: 10},
		}},
		// Two map variants with different craft-item combinations.
		{ID: "treasure_map_a", OutputItemID: "treasure_map", OutputQty: 1, Inputs: []models.RecipeInput{
			{ItemID: "plank", Quantity: 3},
			{ItemID: "elixir", Quantity: 2},
		}},
		{ID: "treasure_map_b", OutputItemID: "treasure_map", OutputQty: 1, Inputs: []models.RecipeInput{
			{ItemID: "plank", Quantity: 5},
		}},
		{ID: "war_banner", OutputItemID: "war_banner", OutputQty: 1, Inputs: []models.RecipeInput{
			{ItemID: "flag_scrap", Quantity: 4},
			{ItemID: "banner_pole", Quantity: 1},
			{ItemID: "sigil_cloth", Quantity: 2},
		}},
	}

	for _, recipe := range recipes {
		_, err := db.bunDB.NewInsert().
			Model(recipe).
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to seed recipe %s: %w", recipe.ID, err)
		}
	}

	slog.Info("Recipe catalog initialized", slog.Int("count", len(recipes)))
	return nil
}

func tierLink(id int64) *int64 { return &id }

// InitializeTierData seeds the access-card cost ladder. Tiers reference the
// next step explicitly instead of relying on contiguous ids.
func (db *DB) InitializeTierData(ctx context.Context) error {
	tiers := []*models.UpgradeCostTier{
		{ID: 1, Level: 1, Currency: "eternite", Cost: 5000, NextTierID: tierLink(2)},
		{ID: 2, Level: 2, Currency: "eternite", Cost: 12000, ItemCosts: []models.RecipeInput{
			{ItemID: "plank", Quantity: 2},
		}, NextTierID: tierLink(3)},
		{ID: 3, Level: 3, Currency: "eternite", Cost: 30000, ItemCosts: []models.RecipeInput{
			{ItemID: "treasure_map", Quantity: 1},
		}},
	}

	for _, tier := range tiers {
		_, err := db.bunDB.NewInsert().
			Model(tier).
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to seed tier %d: %w", tier.ID, err)
		}
	}

	slog.Info("Upgrade cost tiers initialized", slog.Int("count", len(tiers)))
	return nil
}

// InitializePeriodData seeds the configured periods for both economies.
// Lifecycle state on existing rows is never overwritten.
func (db *DB) InitializePeriodData(ctx context.Context) error {
	periods := []*models.Period{
		{Economy: models.EconomyTrading, Label: "Trading Period 1", DurationMinutes: 20, Status: models.PeriodNotStarted},
		{Economy: models.EconomyTrading, Label: "Trading Period 2", DurationMinutes: 20, Status: models.PeriodNotStarted},
		{Economy: models.EconomyTrading, Label: "Trading Period 3", DurationMinutes: 20, Status: models.PeriodNotStarted},
		{Economy: models.EconomyRally, Label: "Rally Wave 1", DurationMinutes: 15, Status: models.PeriodNotStarted},
		{Economy: models.EconomyRally, Label: "Rally Wave 2", DurationMinutes: 15, Status: models.PeriodNotStarted},
	}

	for _, period := range periods {
		exists, err := db.bunDB.NewSelect().
			Model((*models.Period)(nil)).
			Where("economy = ? AND label = ?", period.Economy, period.Label).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("failed to check period %s: %w", period.Label, err)
		}
		if exists {
			continue
		}
		if _, err := db.bunDB.NewInsert().Model(period).Exec(ctx); err != nil {
			return fmt.Errorf("failed to seed period %s: %w", period.Label, err)
		}
	}

	slog.Info("Periods initialized", slog.Int("count", len(periods)))
	return nil
}
