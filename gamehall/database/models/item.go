package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Item is a static catalog entry. Stock is only set for black-market items;
// everything else is unlimited.
type Item struct {
	bun.BaseModel `bun:"table:items,alias:i"`

	ID          string `bun:"id,pk"`
	Name        string `bun:"name,notnull"`
	Description string `bun:"description"`
	Family      string `bun:"family,notnull"`
	Currency    string `bun:"currency,notnull"`
	BuyPrice    int64  `bun:"buy_price,notnull,default:0"`
	SellPrice   int64  `bun:"sell_price,notnull,default:0"`
	Stock       *int64 `bun:"stock"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// InventoryEntry is one user's quantity of one item kind, created lazily on
// first acquisition.
type InventoryEntry struct {
	bun.BaseModel `bun:"table:inventory_entries,alias:ie"`

	UserID   string `bun:"user_id,pk"`
	ItemID   string `bun:"item_id,pk"`
	Quantity int64  `bun:"quantity,notnull"`

	ObtainedAt time.Time `bun:"obtained_at,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,notnull,default:current_timestamp"`

	Item *Item `bun:"rel:has-one,join:item_id=id"`
}

const (
	FamilyRaw         = "raw"
	FamilyCraft       = "craft"
	FamilyMap         = "map"
	FamilySmall       = "small"
	FamilyBig         = "big"
	FamilyBlackMarket = "black_market"
	FamilyGachaReward = "gacha_reward"
)
