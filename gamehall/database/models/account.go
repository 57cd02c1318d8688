package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Account holds one user's balance for one currency. Rows are created lazily
// on first credit; balances never go negative.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:a"`

	ID       int64  `bun:"id,pk,autoincrement"`
	UserID   string `bun:"user_id,notnull,unique:accounts_user_currency_key"`
	Currency string `bun:"currency,notnull,unique:accounts_user_currency_key"`
	Balance  int64  `bun:"balance,notnull,default:0"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// UserProgress tracks a user's access-card level. NextTierID points at the
// cost tier the next upgrade will consume; nil means the ladder is finished.
type UserProgress struct {
	bun.BaseModel `bun:"table:user_progress,alias:up"`

	UserID     string `bun:"user_id,pk"`
	Level      int    `bun:"level,notnull,default:1"`
	NextTierID *int64 `bun:"next_tier_id"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}
