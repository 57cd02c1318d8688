package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	DirectionCredit = "CREDIT"
	DirectionDebit  = "DEBIT"
)

// LedgerLog is an append-only audit row for one signed balance or inventory
// change. Rows are never updated or deleted; the sum of signed amounts per
// (user, resource) must equal the current balance of that resource.
type LedgerLog struct {
	bun.BaseModel `bun:"table:ledger_logs,alias:ll"`

	ID        int64  `bun:"id,pk,autoincrement"`
	UserID    string `bun:"user_id,notnull"`
	Resource  string `bun:"resource,notnull"`
	Amount    int64  `bun:"amount,notnull"`
	Direction string `bun:"direction,notnull"`
	Reason    string `bun:"reason,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
