package models

import (
	"time"

	"github.com/uptrace/bun"
)

// RecipeInput is one (item kind, quantity) requirement of a recipe or tier.
type RecipeInput struct {
	ItemID   string `json:"item_id"`
	Quantity int64  `json:"quantity"`
}

// Recipe is an immutable crafting definition: ordered inputs, one output.
// Several recipes may produce variants of the same output family.
type Recipe struct {
	bun.BaseModel `bun:"table:recipes,alias:r"`

	ID           string        `bun:"id,pk"`
	OutputItemID string        `bun:"output_item_id,notnull"`
	OutputQty    int64         `bun:"output_qty,notnull,default:1"`
	Inputs       []RecipeInput `bun:"inputs,type:jsonb"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// UpgradeCostTier is one step of the access-card ladder. Tiers are linked by
// NextTierID rather than positional id arithmetic so renumbering cannot
// silently corrupt the ladder.
type UpgradeCostTier struct {
	bun.BaseModel `bun:"table:upgrade_cost_tiers,alias:t"`

	ID         int64         `bun:"id,pk"`
	Level      int           `bun:"level,notnull"`
	Currency   string        `bun:"currency,notnull"`
	Cost       int64         `bun:"cost,notnull"`
	ItemCosts  []RecipeInput `bun:"item_costs,type:jsonb"`
	NextTierID *int64        `bun:"next_tier_id"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}
