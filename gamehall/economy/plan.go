package economy

import (
	"context"

	"github.com/stellarfest/gamehall/gamehall/database/models"
)

// Progress mirrors the user's access-card row inside a snapshot.
// Initialized is false until the first upgrade creates the row.
type Progress struct {
	Level       int
	NextTierID  *int64
	Initialized bool
}

// Snapshot is the full ledger view of one user: balances, inventory,
// progression and the audit trail. Returned by every successful action.
type Snapshot struct {
	UserID    string              `json:"user_id"`
	Balances  map[Currency]Amount `json:"balances"`
	Inventory map[string]int64    `json:"inventory"`
	Progress  Progress            `json:"progress"`
	Logs      []models.LedgerLog  `json:"logs"`
}

// Balance returns the snapshot balance for a currency, zero when the account
// row does not exist yet.
func (s *Snapshot) Balance(c Currency) Amount {
	return s.Balances[c]
}

// Owned returns the snapshot quantity of an item kind.
func (s *Snapshot) Owned(itemID string) int64 {
	return s.Inventory[itemID]
}

// BalanceDelta is one signed currency mutation.
type BalanceDelta struct {
	Currency Currency
	Delta    Amount
}

// InventoryDelta is one signed item-quantity mutation.
type InventoryDelta struct {
	ItemID string
	Delta  int64
}

// StockDelta decrements shared catalog stock (black market).
type StockDelta struct {
	ItemID string
	Delta  int64
}

// LogEntry is one audit row the plan appends alongside its mutations.
type LogEntry struct {
	Resource  string
	Amount    int64 // signed; matches the mutation it records
	Direction string
	Reason    string
}

// Plan is the complete set of mutations for one action. It is built only
// after every precondition has been validated and is applied as a single
// atomic commit; deltas and log rows are kept in input-then-output order.
type Plan struct {
	UserID          string
	BalanceDeltas   []BalanceDelta
	InventoryDeltas []InventoryDelta
	StockDeltas     []StockDelta
	LevelDelta      int
	NextTierID      *int64
	SetProgress     bool // when true the progress row is written
	PriorLevel      int  // level the plan was built from, re-validated at commit
	ProgressExists  bool // whether the progress row existed in the snapshot
	Logs            []LogEntry
}

func newPlan(userID string) *Plan {
	return &Plan{UserID: userID}
}

func (p *Plan) debitCurrency(c Currency, amount Amount, reason string) {
	p.BalanceDeltas = append(p.BalanceDeltas, BalanceDelta{Currency: c, Delta: -amount})
	p.Logs = append(p.Logs, LogEntry{Resource: string(c), Amount: -amount, Direction: models.DirectionDebit, Reason: reason})
}

func (p *Plan) creditCurrency(c Currency, amount Amount, reason string) {
	p.BalanceDeltas = append(p.BalanceDeltas, BalanceDelta{Currency: c, Delta: amount})
	p.Logs = append(p.Logs, LogEntry{Resource: string(c), Amount: amount, Direction: models.DirectionCredit, Reason: reason})
}

func (p *Plan) debitItem(itemID string, qty int64, reason string) {
	p.InventoryDeltas = append(p.InventoryDeltas, InventoryDelta{ItemID: itemID, Delta: -qty})
	p.Logs = append(p.Logs, LogEntry{Resource: itemID, Amount: -qty, Direction: models.DirectionDebit, Reason: reason})
}

func (p *Plan) creditItem(itemID string, qty int64, reason string) {
	p.InventoryDeltas = append(p.InventoryDeltas, InventoryDelta{ItemID: itemID, Delta: qty})
	p.Logs = append(p.Logs, LogEntry{Resource: itemID, Amount: qty, Direction: models.DirectionCredit, Reason: reason})
}

// LedgerStore is the transactional store underneath the engine. Apply must
// commit the whole plan atomically, re-validating every decrement at commit
// time, and return the refreshed snapshot. A lost race surfaces as
// ErrTransactionConflict with zero persisted side effects.
type LedgerStore interface {
	Snapshot(ctx context.Context, userID string) (*Snapshot, error)
	Apply(ctx context.Context, plan *Plan) (*Snapshot, error)
}
