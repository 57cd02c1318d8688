package economy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarfest/gamehall/gamehall/database/models"
)

// memStore is an in-memory LedgerStore with the same commit-time
// re-validation semantics as the SQL implementation.
type memStore struct {
	balances  map[string]map[Currency]Amount
	inventory map[string]map[string]int64
	progress  map[string]Progress
	stock     map[string]int64
	logs      map[string][]models.LedgerLog

	// failApplies makes the next n Apply calls lose the commit race.
	failApplies int
	applyCalls  int

	// onSnapshot runs after a snapshot is built, letting a test commit a
	// rival mutation between an action's read and its apply.
	onSnapshot func()
}

func newMemStore() *memStore {
	return &memStore{
		balances:  make(map[string]map[Currency]Amount),
		inventory: make(map[string]map[string]int64),
		progress:  make(map[string]Progress),
		stock:     make(map[string]int64),
		logs:      make(map[string][]models.LedgerLog),
	}
}

func (s *memStore) setBalance(userID string, c Currency, v Amount) {
	if s.balances[userID] == nil {
		s.balances[userID] = make(map[Currency]Amount)
	}
	s.balances[userID][c] = v
}

func (s *memStore) setItem(userID, itemID string, qty int64) {
	if s.inventory[userID] == nil {
		s.inventory[userID] = make(map[string]int64)
	}
	s.inventory[userID][itemID] = qty
}

func (s *memStore) Snapshot(_ context.Context, userID string) (*Snapshot, error) {
	snap := &Snapshot{
		UserID:    userID,
		Balances:  make(map[Currency]Amount),
		Inventory: make(map[string]int64),
		Progress:  Progress{Level: 1},
	}
	for c, v := range s.balances[userID] {
		snap.Balances[c] = v
	}
	for id, q := range s.inventory[userID] {
		snap.Inventory[id] = q
	}
	if p, ok := s.progress[userID]; ok {
		snap.Progress = p
	}
	snap.Logs = append(snap.Logs, s.logs[userID]...)
	if s.onSnapshot != nil {
		s.onSnapshot()
	}
	return snap, nil
}

func (s *memStore) Apply(ctx context.Context, plan *Plan) (*Snapshot, error) {
	s.applyCalls++
	if s.failApplies > 0 {
		s.failApplies--
		return nil, ErrTransactionConflict
	}

	// Validate every decrement before touching anything so a rejected plan
	// leaves no partial state behind.
	for _, d := range plan.BalanceDeltas {
		if d.Delta < 0 && s.balances[plan.UserID][d.Currency] < -d.Delta {
			return nil, ErrTransactionConflict
		}
	}
	for _, d := range plan.InventoryDeltas {
		if d.Delta < 0 && s.inventory[plan.UserID][d.ItemID] < -d.Delta {
			return nil, ErrTransactionConflict
		}
	}
	for _, d := range plan.StockDeltas {
		if d.Delta < 0 && s.stock[d.ItemID] < -d.Delta {
			return nil, ErrTransactionConflict
		}
	}
	if plan.SetProgress {
		p, exists := s.progress[plan.UserID]
		if plan.ProgressExists {
			if !exists || p.Level != plan.PriorLevel {
				return nil, ErrTransactionConflict
			}
		} else if exists {
			return nil, ErrTransactionConflict
		}
	}

	for _, d := range plan.BalanceDeltas {
		s.setBalance(plan.UserID, d.Currency, s.balances[plan.UserID][d.Currency]+d.Delta)
	}
	for _, d := range plan.InventoryDeltas {
		s.setItem(plan.UserID, d.ItemID, s.inventory[plan.UserID][d.ItemID]+d.Delta)
	}
	for _, d := range plan.StockDeltas {
		s.stock[d.ItemID] += d.Delta
	}
	if plan.SetProgress {
		p := s.progress[plan.UserID]
		if !plan.ProgressExists {
			p = Progress{Level: 1, Initialized: true}
		}
		p.Level += plan.LevelDelta
		p.NextTierID = plan.NextTierID
		s.progress[plan.UserID] = p
	}
	for _, l := range plan.Logs {
		s.logs[plan.UserID] = append(s.logs[plan.UserID], models.LedgerLog{
			UserID:    plan.UserID,
			Resource:  l.Resource,
			Amount:    l.Amount,
			Direction: l.Direction,
			Reason:    l.Reason,
		})
	}
	return s.Snapshot(ctx, plan.UserID)
}

// memCatalog is an in-memory CatalogStore.
type memCatalog struct {
	items   map[string]*models.Item
	recipes map[string]*models.Recipe
	tiers   map[int64]*models.UpgradeCostTier
	first   *models.UpgradeCostTier
	store   *memStore // live stock reads
}

func (c *memCatalog) Item(_ context.Context, id string) (*models.Item, error) {
	item, ok := c.items[id]
	if !ok {
		return nil, nil
	}
	if c.store != nil {
		if stock, ok := c.store.stock[id]; ok {
			clone := *item
			clone.Stock = &stock
			return &clone, nil
		}
	}
	return item, nil
}

func (c *memCatalog) ItemsByFamily(_ context.Context, family string) ([]*models.Item, error) {
	var out []*models.Item
	// Deterministic order so the gacha roll maps to a stable reward.
	for _, id := range []string{"wood", "water", "plank", "lucky_charm", "mystery_crate", "golden_ticket", "relic"} {
		if item, ok := c.items[id]; ok && item.Family == family {
			out = append(out, item)
		}
	}
	return out, nil
}

func (c *memCatalog) Recipe(_ context.Context, id string) (*models.Recipe, error) {
	return c.recipes[id], nil
}

func (c *memCatalog) Tier(_ context.Context, id int64) (*models.UpgradeCostTier, error) {
	return c.tiers[id], nil
}

func (c *memCatalog) FirstTier(_ context.Context) (*models.UpgradeCostTier, error) {
	return c.first, nil
}

type stubGate struct {
	running map[string]bool
}

func (g *stubGate) IsRunning(_ context.Context, economy string) (bool, error) {
	return g.running[economy], nil
}

func ptrInt64(v int64) *int64 { return &v }

func testFixture(t *testing.T) (*Engine, *memStore, *memCatalog, *stubGate) {
	t.Helper()
	store := newMemStore()
	cat := &memCatalog{
		store: store,
		items: map[string]*models.Item{
			"wood":          {ID: "wood", Name: "Wood", Family: models.FamilyRaw, Currency: "lumen", BuyPrice: 10, SellPrice: 6},
			"water":         {ID: "water", Name: "Water", Family: models.FamilyRaw, Currency: "lumen", BuyPrice: 4, SellPrice: 2},
			"plank":         {ID: "plank", Name: "Plank", Family: models.FamilyCraft, Currency: "lumen", SellPrice: 80},
			"relic":         {ID: "relic", Name: "Ancient Relic", Family: models.FamilyBlackMarket, Currency: "eternite", BuyPrice: 12000},
			"lucky_charm":   {ID: "lucky_charm", Name: "Lucky Charm", Family: models.FamilyGachaReward},
			"mystery_crate": {ID: "mystery_crate", Name: "Mystery Crate", Family: models.FamilyGachaReward},
			"golden_ticket": {ID: "golden_ticket", Name: "Golden Ticket", Family: models.FamilyGachaReward},
		},
		recipes: map[string]*models.Recipe{
			"plank": {ID: "plank", OutputItemID: "plank", OutputQty: 1, Inputs: []models.RecipeInput{
				{ItemID: "wood", Quantity: 10},
				{ItemID: "water", Quantity: 5},
			}},
		},
		tiers: map[int64]*models.UpgradeCostTier{
			1: {ID: 1, Level: 1, Currency: "eternite", Cost: 5000, NextTierID: ptrInt64(2)},
			2: {ID: 2, Level: 2, Currency: "eternite", Cost: 12000, ItemCosts: []models.RecipeInput{{ItemID: "plank", Quantity: 2}}},
		},
	}
	cat.first = cat.tiers[1]
	catalog, err := NewCatalog(cat)
	require.NoError(t, err)
	gate := &stubGate{running: map[string]bool{models.EconomyTrading: true, models.EconomyRally: true}}
	return NewEngine(store, catalog, gate, DefaultConfig()), store, cat, gate
}

func TestBuyItemInsufficientBalance(t *testing.T) {
	engine, store, _, _ := testFixture(t)
	ctx := context.Background()

	_, err := engine.BuyItem(ctx, "alice", "wood", 10)

	var shortfall *InsufficientBalanceError
	require.ErrorAs(t, err, &shortfall)
	assert.Equal(t, Amount(100), shortfall.Required)
	assert.Equal(t, Amount(0), shortfall.Available)
	assert.Equal(t, "Insufficient Lumens. Cost: 100, Balance: 0", shortfall.Error())

	// A failed action must leave nothing behind, not even a log row.
	snap, err := store.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, snap.Inventory)
	assert.Empty(t, snap.Logs)
}

func TestBuyItemDebitsAndCredits(t *testing.T) {
	engine, store, _, _ := testFixture(t)
	ctx := context.Background()
	store.setBalance("alice", CurrencyLumen, 100)

	snap, err := engine.BuyItem(ctx, "alice", "wood", 7)
	require.NoError(t, err)

	assert.Equal(t, Amount(30), snap.Balance(CurrencyLumen))
	assert.Equal(t, int64(7), snap.Owned("wood"))
	require.Len(t, snap.Logs, 2)
	assert.Equal(t, models.DirectionDebit, snap.Logs[0].Direction)
	assert.Equal(t, models.DirectionCredit, snap.Logs[1].Direction)
}

func TestBuyItemRejectsNonPurchasableFamily(t *testing.T) {
	engine, store, _, _ := testFixture(t)
	store.setBalance("alice", CurrencyLumen, 1000)

	_, err := engine.BuyItem(context.Background(), "alice", "plank", 1)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestBuyItemStockExhausted(t *testing.T) {
	engine, store, _, _ := testFixture(t)
	store.setBalance("alice", CurrencyEternite, 100000)
	store.stock["relic"] = 2

	_, err := engine.BuyItem(context.Background(), "alice", "relic", 3)
	assert.ErrorIs(t, err, ErrStockExhausted)

	snap, err := engine.BuyItem(context.Background(), "alice", "relic", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Owned("relic"))
	assert.Equal(t, int64(0), store.stock["relic"])
}

func TestSellItemRequiresOwnership(t *testing.T) {
	engine, store, _, _ := testFixture(t)
	store.setItem("alice", "wood", 3)

	_, err := engine.SellItem(context.Background(), "alice", "wood", 5)

	var shortfall *InsufficientInventoryError
	require.ErrorAs(t, err, &shortfall)
	assert.Equal(t, int64(5), shortfall.Required)
	assert.Equal(t, int64(3), shortfall.Available)
}

func TestSellItemUsesCatalogPrice(t *testing.T) {
	engine, store, _, _ := testFixture(t)
	store.setItem("alice", "wood", 5)

	snap, err := engine.SellItem(context.Background(), "alice", "wood", 5)
	require.NoError(t, err)
	assert.Equal(t, Amount(30), snap.Balance(CurrencyLumen))
	assert.Equal(t, int64(0), snap.Owned("wood"))
}

func TestCraftReportsFirstUnmetInput(t *testing.T) {
	engine, store, _, _ := testFixture(t)
	store.setItem("alice", "wood", 10)
	store.setItem("alice", "water", 4)

	_, err := engine.CraftItem(context.Background(), "alice", "plank", 1)

	var shortfall *InsufficientInventoryError
	require.ErrorAs(t, err, &shortfall)
	assert.Equal(t, "water", shortfall.ItemID)
	assert.Equal(t, int64(5), shortfall.Required)
	assert.Equal(t, int64(4), shortfall.Available)

	// No input may be consumed on a rejected craft.
	snap, _ := store.Snapshot(context.Background(), "alice")
	assert.Equal(t, int64(10), snap.Owned("wood"))
	assert.Equal(t, int64(4), snap.Owned("water"))
}

func TestCraftConsumesInputsAtomically(t *testing.T) {
	engine, store, _, _ := testFixture(t)
	store.setItem("alice", "wood", 25)
	store.setItem("alice", "water", 11)

	snap, err := engine.CraftItem(context.Background(), "alice", "plank", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.Owned("wood"))
	assert.Equal(t, int64(1), snap.Owned("water"))
	assert.Equal(t, int64(2), snap.Owned("plank"))
}

func TestCraftRejectsWrongOutputFamily(t *testing.T) {
	engine, store, cat, _ := testFixture(t)
	store.setItem("alice", "wood", 100)
	cat.recipes["fake_map"] = &models.Recipe{
		ID: "fake_map", OutputItemID: "plank", OutputQty: 1,
		Inputs: []models.RecipeInput{{ItemID: "wood", Quantity: 1}},
	}

	_, err := engine.CraftMap(context.Background(), "alice", "fake_map", 1)
	assert.ErrorIs(t, err, ErrRecipeNotFound)
}

func TestGachaDrawExactDebitAndSingleReward(t *testing.T) {
	engine, store, _, _ := testFixture(t)
	store.setBalance("alice", CurrencyEternite, 10)
	engine.intn = func(n int) int { return 1 } // mystery_crate

	snap, err := engine.GachaDraw(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, Amount(0), snap.Balance(CurrencyEternite))
	assert.Equal(t, int64(1), snap.Owned("mystery_crate"))

	_, err = engine.GachaDraw(context.Background(), "alice")
	var shortfall *InsufficientBalanceError
	assert.ErrorAs(t, err, &shortfall)
}

func TestGachaDrawCoversWholeCatalog(t *testing.T) {
	engine, store, _, _ := testFixture(t)
	store.setBalance("alice", CurrencyEternite, 10*1000)

	roll := 0
	engine.intn = func(n int) int {
		r := roll % n
		roll++
		return r
	}
	for i := 0; i < 999; i++ {
		_, err := engine.GachaDraw(context.Background(), "alice")
		require.NoError(t, err)
	}

	snap, _ := store.Snapshot(context.Background(), "alice")
	assert.Equal(t, int64(333), snap.Owned("lucky_charm"))
	assert.Equal(t, int64(333), snap.Owned("mystery_crate"))
	assert.Equal(t, int64(333), snap.Owned("golden_ticket"))
	// 999 draws at cost 10 against a 10,000 balance.
	assert.Equal(t, Amount(10), snap.Balance(CurrencyEternite))
}

func TestBuyThenSellNeverProfits(t *testing.T) {
	engine, store, _, _ := testFixture(t)
	ctx := context.Background()
	store.setBalance("alice", CurrencyLumen, 1000)

	_, err := engine.BuyItem(ctx, "alice", "wood", 10)
	require.NoError(t, err)
	snap, err := engine.SellItem(ctx, "alice", "wood", 10)
	require.NoError(t, err)

	assert.LessOrEqual(t, snap.Balance(CurrencyLumen), Amount(1000))
}

// The audit trail must reconcile: per resource, the sum of signed log
// amounts equals the current balance or quantity.
func TestLedgerReconciliation(t *testing.T) {
	engine, _, _, _ := testFixture(t)
	ctx := context.Background()

	_, err := engine.GrantReward(ctx, "alice", CurrencyLumen, 500, "seed")
	require.NoError(t, err)
	_, err = engine.BuyItem(ctx, "alice", "wood", 20)
	require.NoError(t, err)
	_, err = engine.BuyItem(ctx, "alice", "water", 10)
	require.NoError(t, err)
	_, err = engine.CraftItem(ctx, "alice", "plank", 2)
	require.NoError(t, err)
	snap, err := engine.SellItem(ctx, "alice", "plank", 1)
	require.NoError(t, err)

	sums := make(map[string]int64)
	for _, row := range snap.Logs {
		sums[row.Resource] += row.Amount
	}
	for currency, balance := range snap.Balances {
		assert.Equal(t, balance, sums[string(currency)], "currency %s", currency)
	}
	for itemID, qty := range snap.Inventory {
		assert.Equal(t, qty, sums[itemID], "item %s", itemID)
	}
}

func TestConvertFloorsAndDebits(t *testing.T) {
	engine, store, _, _ := testFixture(t)
	store.setBalance("alice", CurrencyEternite, 10)

	snap, err := engine.Convert(context.Background(), "alice", CurrencyEternite, CurrencyLumen, 7)
	require.NoError(t, err)
	assert.Equal(t, Amount(3), snap.Balance(CurrencyEternite))
	assert.Equal(t, Amount(140), snap.Balance(CurrencyLumen))
}

func TestUpgradeWalksTheLadder(t *testing.T) {
	engine, store, _, _ := testFixture(t)
	ctx := context.Background()
	store.setBalance("alice", CurrencyEternite, 20000)
	store.setItem("alice", "plank", 2)

	snap, err := engine.Upgrade(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Progress.Level)
	require.NotNil(t, snap.Progress.NextTierID)
	assert.Equal(t, int64(2), *snap.Progress.NextTierID)
	assert.Equal(t, Amount(15000), snap.Balance(CurrencyEternite))

	snap, err = engine.Upgrade(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Progress.Level)
	assert.Nil(t, snap.Progress.NextTierID)
	assert.Equal(t, int64(0), snap.Owned("plank"))

	_, err = engine.Upgrade(ctx, "alice")
	assert.ErrorIs(t, err, ErrMaxLevelReached)
}

// Two upgrades built from the same snapshot may not both land: the loser
// surfaces a conflict, pays nothing and the level advances exactly once.
func TestConcurrentUpgradeLoserConflicts(t *testing.T) {
	engine, store, _, _ := testFixture(t)
	ctx := context.Background()
	store.setBalance("alice", CurrencyEternite, 20000)

	// A rival first upgrade commits between this call's snapshot read and
	// its apply.
	rivalDone := false
	store.onSnapshot = func() {
		if !rivalDone {
			rivalDone = true
			store.progress["alice"] = Progress{Level: 2, NextTierID: ptrInt64(2), Initialized: true}
		}
	}

	_, err := engine.Upgrade(ctx, "alice")
	assert.ErrorIs(t, err, ErrTransactionConflict)

	snap, err := store.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Progress.Level)
	// The losing upgrade debited nothing.
	assert.Equal(t, Amount(20000), snap.Balance(CurrencyEternite))
}

// Same race one rung up the ladder: both readers see level 2, the second
// commit is rejected by the level re-validation instead of skipping tier 3.
func TestConcurrentUpgradeLevelRevalidated(t *testing.T) {
	engine, store, _, _ := testFixture(t)
	ctx := context.Background()
	store.setBalance("alice", CurrencyEternite, 50000)
	store.setItem("alice", "plank", 2)
	store.progress["alice"] = Progress{Level: 2, NextTierID: ptrInt64(2), Initialized: true}

	rivalDone := false
	store.onSnapshot = func() {
		if !rivalDone {
			rivalDone = true
			store.progress["alice"] = Progress{Level: 3, Initialized: true}
		}
	}

	_, err := engine.Upgrade(ctx, "alice")
	assert.ErrorIs(t, err, ErrTransactionConflict)

	snap, err := store.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Progress.Level)
	assert.Equal(t, Amount(50000), snap.Balance(CurrencyEternite))
	assert.Equal(t, int64(2), snap.Owned("plank"))
}

func TestActionsRequireRunningPeriod(t *testing.T) {
	engine, store, _, gate := testFixture(t)
	ctx := context.Background()
	store.setBalance("alice", CurrencyLumen, 1000)
	gate.running[models.EconomyTrading] = false

	_, err := engine.BuyItem(ctx, "alice", "wood", 1)
	assert.ErrorIs(t, err, ErrGameNotRunning)

	_, err = engine.GachaDraw(ctx, "alice")
	assert.ErrorIs(t, err, ErrGameNotRunning)
}

func TestFeesAndRewardsWorkWhilePaused(t *testing.T) {
	engine, store, _, gate := testFixture(t)
	ctx := context.Background()
	gate.running[models.EconomyTrading] = false
	gate.running[models.EconomyRally] = false
	store.setBalance("bob", CurrencyEternite, 500)

	snap, err := engine.PayFee(ctx, "bob", CurrencyEternite, 200, "zone entry")
	require.NoError(t, err)
	assert.Equal(t, Amount(300), snap.Balance(CurrencyEternite))

	snap, err = engine.GrantReward(ctx, "bob", CurrencyLumen, 50, "quiz winner")
	require.NoError(t, err)
	assert.Equal(t, Amount(50), snap.Balance(CurrencyLumen))
	require.Len(t, snap.Logs, 2)
	assert.Equal(t, "zone entry", snap.Logs[0].Reason)
}

func TestApplyRetriesOnceOnConflict(t *testing.T) {
	engine, store, _, _ := testFixture(t)
	store.setBalance("alice", CurrencyLumen, 100)

	store.failApplies = 1
	snap, err := engine.BuyItem(context.Background(), "alice", "wood", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Owned("wood"))
	assert.Equal(t, 2, store.applyCalls)

	store.failApplies = 2
	store.applyCalls = 0
	_, err = engine.BuyItem(context.Background(), "alice", "wood", 1)
	assert.ErrorIs(t, err, ErrTransactionConflict)
	assert.Equal(t, 2, store.applyCalls)
}

func TestDispatchCapabilityAndEnvelope(t *testing.T) {
	engine, store, _, _ := testFixture(t)
	ctx := context.Background()
	store.setBalance("alice", CurrencyLumen, 100)

	res := engine.Dispatch(ctx, RolePlayer, "alice", ActionPayFee, ActionParams{
		Currency: CurrencyLumen, Amount: 10,
	})
	assert.False(t, res.Success)
	assert.Equal(t, ErrNotPermitted.Error(), res.Error)

	res = engine.Dispatch(ctx, RoleGuard, "alice", ActionPayFee, ActionParams{
		Currency: CurrencyLumen, Amount: 10, Reason: "checkpoint",
	})
	require.True(t, res.Success)
	assert.Equal(t, Amount(90), res.Data.Balance(CurrencyLumen))

	res = engine.Dispatch(ctx, RolePlayer, "alice", ActionBuyItem, ActionParams{
		ItemID: "wood", Quantity: 0,
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "quantity must be positive")
}

func TestDispatchUnknownAction(t *testing.T) {
	engine, _, _, _ := testFixture(t)
	res := engine.Dispatch(context.Background(), RoleAdmin, "alice", ActionKind("steal"), ActionParams{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown action")
}
