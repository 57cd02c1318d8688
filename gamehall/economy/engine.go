package economy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/stellarfest/gamehall/gamehall/database/models"
)

// PeriodGate answers whether an economy's period is currently running. The
// engine consumes it as a fail-fast precondition.
type PeriodGate interface {
	IsRunning(ctx context.Context, economy string) (bool, error)
}

// Config carries the tunable economy knobs loaded from the config file.
type Config struct {
	GachaCost     Amount
	GachaCurrency Currency
}

func DefaultConfig() Config {
	return Config{GachaCost: 10, GachaCurrency: CurrencyEternite}
}

// Engine validates and atomically applies every economy action. All
// randomized or derived work happens before the store transaction opens; the
// store re-validates each decrement at commit time.
type Engine struct {
	store   LedgerStore
	catalog *Catalog
	periods PeriodGate
	cfg     Config
	intn    func(n int) int
}

func NewEngine(store LedgerStore, catalog *Catalog, periods PeriodGate, cfg Config) *Engine {
	return &Engine{
		store:   store,
		catalog: catalog,
		periods: periods,
		cfg:     cfg,
		intn:    rand.IntN,
	}
}

// Snapshot returns the user's current ledger view without mutating anything.
func (e *Engine) Snapshot(ctx context.Context, userID string) (*Snapshot, error) {
	return e.store.Snapshot(ctx, userID)
}

func (e *Engine) gate(ctx context.Context, kind ActionKind) error {
	spec := actionTable[kind]
	if !spec.RequiresRunningPeriod {
		return nil
	}
	running, err := e.periods.IsRunning(ctx, spec.Economy)
	if err != nil {
		return fmt.Errorf("failed to read period status: %w", err)
	}
	if !running {
		return ErrGameNotRunning
	}
	return nil
}

// apply commits a plan, retrying exactly once on a store-level conflict. A
// second loss surfaces ErrTransactionConflict to the caller.
func (e *Engine) apply(ctx context.Context, plan *Plan) (*Snapshot, error) {
	snap, err := e.store.Apply(ctx, plan)
	if err == nil || !errors.Is(err, ErrTransactionConflict) {
		return snap, err
	}
	slog.Warn("Ledger commit lost a race, retrying once",
		slog.String("type", "db"),
		slog.String("user_id", plan.UserID))
	return e.store.Apply(ctx, plan)
}

// BuyItem debits currency and credits inventory for a raw or black-market
// item. Black-market purchases also draw down the shared stock counter.
func (e *Engine) BuyItem(ctx context.Context, userID, itemID string, qty int64) (*Snapshot, error) {
	if err := e.gate(ctx, ActionBuyItem); err != nil {
		return nil, err
	}
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidRequest)
	}
	item, err := e.catalog.LiveItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Family != models.FamilyRaw && item.Family != models.FamilyBlackMarket {
		return nil, fmt.Errorf("%w: %s cannot be bought", ErrInvalidRequest, item.Name)
	}
	if item.Stock != nil && *item.Stock < qty {
		return nil, fmt.Errorf("%w: %s has %d left, requested %d",
			ErrStockExhausted, item.Name, *item.Stock, qty)
	}
	snap, err := e.store.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	cost := item.BuyPrice * qty
	currency := Currency(item.Currency)
	if err := requireBalance(snap, currency, cost); err != nil {
		return nil, err
	}

	plan := newPlan(userID)
	reason := fmt.Sprintf("buy %s x%d", item.ID, qty)
	plan.debitCurrency(currency, cost, reason)
	plan.creditItem(item.ID, qty, reason)
	if item.Stock != nil {
		plan.StockDeltas = append(plan.StockDeltas, StockDelta{ItemID: item.ID, Delta: -qty})
	}
	return e.apply(ctx, plan)
}

// SellItem is the inverse of BuyItem. The price comes from the catalog at
// the time of sale, never from the caller.
func (e *Engine) SellItem(ctx context.Context, userID, itemID string, qty int64) (*Snapshot, error) {
	if err := e.gate(ctx, ActionSellItem); err != nil {
		return nil, err
	}
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidRequest)
	}
	item, err := e.catalog.Item(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.SellPrice <= 0 {
		return nil, fmt.Errorf("%w: %s cannot be sold", ErrInvalidRequest, item.Name)
	}
	snap, err := e.store.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if owned := snap.Owned(item.ID); owned < qty {
		return nil, &InsufficientInventoryError{ItemID: item.ID, ItemName: item.Name, Required: qty, Available: owned}
	}

	plan := newPlan(userID)
	reason := fmt.Sprintf("sell %s x%d", item.ID, qty)
	plan.debitItem(item.ID, qty, reason)
	plan.creditCurrency(Currency(item.Currency), item.SellPrice*qty, reason)
	return e.apply(ctx, plan)
}

// CraftItem consumes raw materials per recipe and credits one crafted item.
func (e *Engine) CraftItem(ctx context.Context, userID, recipeID string, count int64) (*Snapshot, error) {
	return e.craft(ctx, userID, recipeID, count, ActionCraftItem)
}

// CraftMap consumes crafted materials and credits the map counter.
func (e *Engine) CraftMap(ctx context.Context, userID, recipeID string, count int64) (*Snapshot, error) {
	return e.craft(ctx, userID, recipeID, count, ActionCraftMap)
}

// CraftBigItem consumes small rally items and credits a big-item entry.
func (e *Engine) CraftBigItem(ctx context.Context, userID, recipeID string, count int64) (*Snapshot, error) {
	return e.craft(ctx, userID, recipeID, count, ActionCraftBigItem)
}

func (e *Engine) craft(ctx context.Context, userID, recipeID string, count int64, kind ActionKind) (*Snapshot, error) {
	if err := e.gate(ctx, kind); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, fmt.Errorf("%w: count must be positive", ErrInvalidRequest)
	}
	recipe, err := e.catalog.Recipe(ctx, recipeID)
	if err != nil {
		return nil, err
	}
	output, err := e.catalog.Item(ctx, recipe.OutputItemID)
	if err != nil {
		return nil, err
	}
	if family := actionTable[kind].OutputFamily; family != "" && output.Family != family {
		return nil, fmt.Errorf("%w: %s does not produce a %s item", ErrRecipeNotFound, recipeID, family)
	}
	snap, err := e.store.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := e.requireInputs(ctx, snap, recipe.Inputs, count); err != nil {
		return nil, err
	}

	plan := newPlan(userID)
	reason := fmt.Sprintf("craft %s x%d", recipe.OutputItemID, recipe.OutputQty*count)
	for _, input := range recipe.Inputs {
		plan.debitItem(input.ItemID, input.Quantity*count, reason)
	}
	plan.creditItem(recipe.OutputItemID, recipe.OutputQty*count, reason)
	return e.apply(ctx, plan)
}

// GachaDraw debits the fixed draw cost and credits one uniformly selected
// reward. The roll happens before the store transaction opens.
func (e *Engine) GachaDraw(ctx context.Context, userID string) (*Snapshot, error) {
	if err := e.gate(ctx, ActionGachaDraw); err != nil {
		return nil, err
	}
	rewards, err := e.catalog.GachaCatalog(ctx)
	if err != nil {
		return nil, err
	}
	if len(rewards) == 0 {
		return nil, ErrEmptyCatalog
	}
	snap, err := e.store.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := requireBalance(snap, e.cfg.GachaCurrency, e.cfg.GachaCost); err != nil {
		return nil, err
	}
	reward := rewards[e.intn(len(rewards))]

	plan := newPlan(userID)
	reason := fmt.Sprintf("gacha draw -> %s", reward.ID)
	plan.debitCurrency(e.cfg.GachaCurrency, e.cfg.GachaCost, reason)
	plan.creditItem(reward.ID, 1, reason)
	return e.apply(ctx, plan)
}

// Convert exchanges amount of one currency into another via the fixed rate
// table, flooring the result.
func (e *Engine) Convert(ctx context.Context, userID string, from, to Currency, amount Amount) (*Snapshot, error) {
	if err := e.gate(ctx, ActionConvert); err != nil {
		return nil, err
	}
	converted, err := ConvertAmount(amount, from, to)
	if err != nil {
		return nil, err
	}
	snap, err := e.store.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := requireBalance(snap, from, amount); err != nil {
		return nil, err
	}

	plan := newPlan(userID)
	reason := fmt.Sprintf("convert %s %s -> %s %s",
		FormatCurrencyAmount(from, amount), from, FormatCurrencyAmount(to, converted), to)
	plan.debitCurrency(from, amount, reason)
	plan.creditCurrency(to, converted, reason)
	return e.apply(ctx, plan)
}

// Upgrade consumes the user's current cost tier, increments the access-card
// level and advances the tier pointer. ErrMaxLevelReached past the ladder.
func (e *Engine) Upgrade(ctx context.Context, userID string) (*Snapshot, error) {
	if err := e.gate(ctx, ActionUpgrade); err != nil {
		return nil, err
	}
	snap, err := e.store.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	var tier *models.UpgradeCostTier
	if !snap.Progress.Initialized {
		tier, err = e.catalog.FirstTier(ctx)
		if err != nil {
			return nil, err
		}
		if tier == nil {
			return nil, ErrMaxLevelReached
		}
	} else {
		if snap.Progress.NextTierID == nil {
			return nil, ErrMaxLevelReached
		}
		tier, err = e.catalog.Tier(ctx, *snap.Progress.NextTierID)
		if err != nil {
			return nil, err
		}
	}
	if err := requireBalance(snap, Currency(tier.Currency), tier.Cost); err != nil {
		return nil, err
	}
	if err := e.requireInputs(ctx, snap, tier.ItemCosts, 1); err != nil {
		return nil, err
	}

	plan := newPlan(userID)
	reason := fmt.Sprintf("access card upgrade to level %d", snap.Progress.Level+1)
	plan.debitCurrency(Currency(tier.Currency), tier.Cost, reason)
	for _, input := range tier.ItemCosts {
		plan.debitItem(input.ItemID, input.Quantity, reason)
	}
	plan.LevelDelta = 1
	plan.NextTierID = tier.NextTierID
	plan.SetProgress = true
	plan.PriorLevel = snap.Progress.Level
	plan.ProgressExists = snap.Progress.Initialized
	return e.apply(ctx, plan)
}

// PayFee is an admin-initiated currency debit on behalf of a target user.
// Deliberately not gated on a running period so guards can charge fees while
// the game is paused.
func (e *Engine) PayFee(ctx context.Context, userID string, currency Currency, amount Amount, reason string) (*Snapshot, error) {
	if err := e.gate(ctx, ActionPayFee); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: fee amount must be positive", ErrInvalidRequest)
	}
	if !KnownCurrency(currency) {
		return nil, fmt.Errorf("%w: unknown currency %s", ErrInvalidRequest, currency)
	}
	snap, err := e.store.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := requireBalance(snap, currency, amount); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "fee payment"
	}

	plan := newPlan(userID)
	plan.debitCurrency(currency, amount, reason)
	return e.apply(ctx, plan)
}

// GrantReward is an admin-initiated currency credit.
func (e *Engine) GrantReward(ctx context.Context, userID string, currency Currency, amount Amount, reason string) (*Snapshot, error) {
	if err := e.gate(ctx, ActionGrantReward); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: reward amount must be positive", ErrInvalidRequest)
	}
	if !KnownCurrency(currency) {
		return nil, fmt.Errorf("%w: unknown currency %s", ErrInvalidRequest, currency)
	}
	if reason == "" {
		reason = "reward grant"
	}

	plan := newPlan(userID)
	plan.creditCurrency(currency, amount, reason)
	return e.apply(ctx, plan)
}

func requireBalance(snap *Snapshot, c Currency, required Amount) error {
	if available := snap.Balance(c); available < required {
		return &InsufficientBalanceError{Currency: c, Required: required, Available: available}
	}
	return nil
}

// requireInputs validates every input in order and reports the first unmet
// requirement. Nothing is consumed here.
func (e *Engine) requireInputs(ctx context.Context, snap *Snapshot, inputs []models.RecipeInput, multiplier int64) error {
	for _, input := range inputs {
		required := input.Quantity * multiplier
		owned := snap.Owned(input.ItemID)
		if owned >= required {
			continue
		}
		name := input.ItemID
		if item, err := e.catalog.Item(ctx, input.ItemID); err == nil {
			name = item.Name
		}
		return &InsufficientInventoryError{ItemID: input.ItemID, ItemName: name, Required: required, Available: owned}
	}
	return nil
}
