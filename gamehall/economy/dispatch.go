package economy

import (
	"context"
	"errors"
	"log/slog"

	"github.com/stellarfest/gamehall/gamehall/database/models"
)

type ActionKind string

const (
	ActionBuyItem      ActionKind = "buy_item"
	ActionSellItem     ActionKind = "sell_item"
	ActionCraftItem    ActionKind = "craft_item"
	ActionCraftMap     ActionKind = "craft_map"
	ActionCraftBigItem ActionKind = "craft_big_item"
	ActionGachaDraw    ActionKind = "gacha_draw"
	ActionConvert      ActionKind = "convert_currency"
	ActionUpgrade      ActionKind = "upgrade_level"
	ActionPayFee       ActionKind = "pay_fee"
	ActionGrantReward  ActionKind = "grant_reward"
)

type actionSpec struct {
	Economy               string
	RequiresRunningPeriod bool
	Capability            Capability
	OutputFamily          string // craft actions only
}

// actionTable makes the running-period requirement an explicit property of
// each action kind instead of an implicit omission. Fee and reward actions
// work while the period is paused.
var actionTable = map[ActionKind]actionSpec{
	ActionBuyItem:      {Economy: models.EconomyTrading, RequiresRunningPeriod: true, Capability: CapabilityTrade},
	ActionSellItem:     {Economy: models.EconomyTrading, RequiresRunningPeriod: true, Capability: CapabilityTrade},
	ActionCraftItem:    {Economy: models.EconomyTrading, RequiresRunningPeriod: true, Capability: CapabilityTrade, OutputFamily: models.FamilyCraft},
	ActionCraftMap:     {Economy: models.EconomyTrading, RequiresRunningPeriod: true, Capability: CapabilityTrade, OutputFamily: models.FamilyMap},
	ActionCraftBigItem: {Economy: models.EconomyRally, RequiresRunningPeriod: true, Capability: CapabilityTrade, OutputFamily: models.FamilyBig},
	ActionGachaDraw:    {Economy: models.EconomyTrading, RequiresRunningPeriod: true, Capability: CapabilityTrade},
	ActionConvert:      {Economy: models.EconomyTrading, RequiresRunningPeriod: true, Capability: CapabilityTrade},
	ActionUpgrade:      {Economy: models.EconomyTrading, RequiresRunningPeriod: true, Capability: CapabilityTrade},
	ActionPayFee:       {RequiresRunningPeriod: false, Capability: CapabilityChargeFee},
	ActionGrantReward:  {RequiresRunningPeriod: false, Capability: CapabilityGrantReward},
}

// ActionParams is the union of every action's parameters; each kind reads
// only the fields it needs.
type ActionParams struct {
	ItemID   string   `json:"item_id,omitempty"`
	RecipeID string   `json:"recipe_id,omitempty"`
	Quantity int64    `json:"quantity,omitempty"`
	From     Currency `json:"from,omitempty"`
	To       Currency `json:"to,omitempty"`
	Currency Currency `json:"currency,omitempty"`
	Amount   Amount   `json:"amount,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// ActionResult is the uniform envelope returned for every economy action.
type ActionResult struct {
	Success bool      `json:"success"`
	Data    *Snapshot `json:"data,omitempty"`
	Error   string    `json:"error,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Dispatch runs one economy action on behalf of targetUserID after checking
// the actor's capability. Expected precondition failures come back inside
// the envelope; anything else is logged loudly and surfaced as a generic
// failure so internals never leak to end users.
func (e *Engine) Dispatch(ctx context.Context, actorRole Role, targetUserID string, kind ActionKind, params ActionParams) ActionResult {
	spec, ok := actionTable[kind]
	if !ok {
		return failure("unknown action: " + string(kind))
	}
	if !HasCapability(actorRole, spec.Capability) {
		return failure(ErrNotPermitted.Error())
	}

	var snap *Snapshot
	var err error
	var message string

	switch kind {
	case ActionBuyItem:
		snap, err = e.BuyItem(ctx, targetUserID, params.ItemID, params.Quantity)
		message = "Purchase complete"
	case ActionSellItem:
		snap, err = e.SellItem(ctx, targetUserID, params.ItemID, params.Quantity)
		message = "Sale complete"
	case ActionCraftItem:
		snap, err = e.CraftItem(ctx, targetUserID, params.RecipeID, params.Quantity)
		message = "Crafting complete"
	case ActionCraftMap:
		snap, err = e.CraftMap(ctx, targetUserID, params.RecipeID, params.Quantity)
		message = "Map assembled"
	case ActionCraftBigItem:
		snap, err = e.CraftBigItem(ctx, targetUserID, params.RecipeID, params.Quantity)
		message = "Crafting complete"
	case ActionGachaDraw:
		snap, err = e.GachaDraw(ctx, targetUserID)
		message = "Draw complete"
	case ActionConvert:
		snap, err = e.Convert(ctx, targetUserID, params.From, params.To, params.Amount)
		message = "Conversion complete"
	case ActionUpgrade:
		snap, err = e.Upgrade(ctx, targetUserID)
		message = "Access card upgraded"
	case ActionPayFee:
		snap, err = e.PayFee(ctx, targetUserID, params.Currency, params.Amount, params.Reason)
		message = "Fee charged"
	case ActionGrantReward:
		snap, err = e.GrantReward(ctx, targetUserID, params.Currency, params.Amount, params.Reason)
		message = "Reward granted"
	}

	if err != nil {
		if userFacing(err) {
			return failure(err.Error())
		}
		slog.Error("Economy action failed",
			slog.String("type", "error"),
			slog.String("action", string(kind)),
			slog.String("user_id", targetUserID),
			slog.Any("error", err))
		return failure("something went wrong, please try again")
	}

	return ActionResult{Success: true, Data: snap, Message: message}
}

func failure(msg string) ActionResult {
	return ActionResult{Success: false, Error: msg, Message: msg}
}

// userFacing reports whether an error belongs to the recoverable
// precondition taxonomy and may be shown to the caller verbatim.
func userFacing(err error) bool {
	var balErr *InsufficientBalanceError
	var invErr *InsufficientInventoryError
	var convErr *ConversionError
	switch {
	case errors.As(err, &balErr), errors.As(err, &invErr), errors.As(err, &convErr):
		return true
	}
	for _, sentinel := range []error{
		ErrGameNotRunning, ErrUserNotFound, ErrRecipeNotFound, ErrItemNotFound,
		ErrMaxLevelReached, ErrStockExhausted, ErrTransactionConflict,
		ErrEmptyCatalog, ErrNotPermitted, ErrInvalidRequest,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
