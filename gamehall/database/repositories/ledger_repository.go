package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/stellarfest/gamehall/gamehall/database/models"
	"github.com/stellarfest/gamehall/gamehall/economy"
)

const defaultTxTimeout = 10 * time.Second

// LedgerRepository is the bun-backed economy.LedgerStore. Every plan is
// committed inside one transaction; each decrement is re-validated by a
// conditional update at commit time so two racing actions can never drive a
// balance, quantity or stock counter negative.
type LedgerRepository struct {
	db *bun.DB
}

func NewLedgerRepository(db *bun.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Snapshot(ctx context.Context, userID string) (*economy.Snapshot, error) {
	return snapshot(ctx, r.db, userID)
}

func (r *LedgerRepository) Apply(ctx context.Context, plan *economy.Plan) (*economy.Snapshot, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, defaultTxTimeout)
	defer cancel()

	var snap *economy.Snapshot
	err := r.db.RunInTx(timeoutCtx, &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		func(ctx context.Context, tx bun.Tx) error {
			for _, delta := range plan.BalanceDeltas {
				if err := applyBalance(ctx, tx, plan.UserID, delta); err != nil {
					return err
				}
			}
			for _, delta := range plan.InventoryDeltas {
				if err := applyInventory(ctx, tx, plan.UserID, delta); err != nil {
					return err
				}
			}
			for _, delta := range plan.StockDeltas {
				if err := applyStock(ctx, tx, delta); err != nil {
					return err
				}
			}
			if plan.SetProgress {
				if err := applyProgress(ctx, tx, plan); err != nil {
					return err
				}
			}
			if err := appendLogs(ctx, tx, plan); err != nil {
				return err
			}

			var err error
			snap, err = snapshot(ctx, tx, plan.UserID)
			return err
		})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func applyBalance(ctx context.Context, tx bun.Tx, userID string, delta economy.BalanceDelta) error {
	if delta.Delta < 0 {
		need := -delta.Delta
		res, err := tx.NewUpdate().
			Model((*models.Account)(nil)).
			Set("balance = balance - ?", need).
			Set("updated_at = ?", time.Now()).
			Where("user_id = ? AND currency = ?", userID, delta.Currency).
			Where("balance >= ?", need).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to debit %s: %w", delta.Currency, err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return fmt.Errorf("%w: debit of %d %s rejected at commit",
				economy.ErrTransactionConflict, need, delta.Currency)
		}
		return nil
	}

	// Credit: single upsert, so two first acquisitions racing on the unique
	// (user_id, currency) index serialize instead of one failing with a
	// duplicate-key error.
	_, err := tx.NewInsert().
		Model(&models.Account{
			UserID:    userID,
			Currency:  string(delta.Currency),
			Balance:   delta.Delta,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}).
		On("CONFLICT (user_id, currency) DO UPDATE").
		Set("balance = a.balance + EXCLUDED.balance").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to credit %s: %w", delta.Currency, err)
	}
	return nil
}

func applyInventory(ctx context.Context, tx bun.Tx, userID string, delta economy.InventoryDelta) error {
	if delta.Delta < 0 {
		need := -delta.Delta
		res, err := tx.NewUpdate().
			Model((*models.InventoryEntry)(nil)).
			Set("quantity = quantity - ?", need).
			Set("updated_at = ?", time.Now()).
			Where("user_id = ? AND item_id = ?", userID, delta.ItemID).
			Where("quantity >= ?", need).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to remove %s: %w", delta.ItemID, err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return fmt.Errorf("%w: removal of %d %s rejected at commit",
				economy.ErrTransactionConflict, need, delta.ItemID)
		}
		return nil
	}

	_, err := tx.NewInsert().
		Model(&models.InventoryEntry{
			UserID:     userID,
			ItemID:     delta.ItemID,
			Quantity:   delta.Delta,
			ObtainedAt: time.Now(),
			UpdatedAt:  time.Now(),
		}).
		On("CONFLICT (user_id, item_id) DO UPDATE").
		Set("quantity = ie.quantity + EXCLUDED.quantity").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", delta.ItemID, err)
	}
	return nil
}

func applyStock(ctx context.Context, tx bun.Tx, delta economy.StockDelta) error {
	need := -delta.Delta
	res, err := tx.NewUpdate().
		Model((*models.Item)(nil)).
		Set("stock = stock - ?", need).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", delta.ItemID).
		Where("stock >= ?", need).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to decrement stock of %s: %w", delta.ItemID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: stock of %s drained at commit",
			economy.ErrTransactionConflict, delta.ItemID)
	}
	return nil
}

// applyProgress advances the access-card level, re-validating that the level
// the plan was built from still holds. A rival upgrade committing in between
// surfaces as ErrTransactionConflict, never a double level bump or a
// duplicate-key error.
func applyProgress(ctx context.Context, tx bun.Tx, plan *economy.Plan) error {
	if !plan.ProgressExists {
		res, err := tx.NewInsert().
			Model(&models.UserProgress{
				UserID:     plan.UserID,
				Level:      1 + plan.LevelDelta,
				NextTierID: plan.NextTierID,
				CreatedAt:  time.Now(),
				UpdatedAt:  time.Now(),
			}).
			On("CONFLICT (user_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create progress row: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return fmt.Errorf("%w: progress row created by a concurrent upgrade",
				economy.ErrTransactionConflict)
		}
		return nil
	}

	res, err := tx.NewUpdate().
		Model((*models.UserProgress)(nil)).
		Set("level = level + ?", plan.LevelDelta).
		Set("next_tier_id = ?", plan.NextTierID).
		Set("updated_at = ?", time.Now()).
		Where("user_id = ?", plan.UserID).
		Where("level = ?", plan.PriorLevel).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: level advanced by a concurrent upgrade",
			economy.ErrTransactionConflict)
	}
	return nil
}

// appendLogs inserts the audit rows in plan order (inputs before outputs)
// within the same commit as the mutations they record.
func appendLogs(ctx context.Context, tx bun.Tx, plan *economy.Plan) error {
	if len(plan.Logs) == 0 {
		return nil
	}
	rows := make([]*models.LedgerLog, 0, len(plan.Logs))
	now := time.Now()
	for _, entry := range plan.Logs {
		rows = append(rows, &models.LedgerLog{
			UserID:    plan.UserID,
			Resource:  entry.Resource,
			Amount:    entry.Amount,
			Direction: entry.Direction,
			Reason:    entry.Reason,
			CreatedAt: now,
		})
	}
	if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("failed to append ledger logs: %w", err)
	}
	return nil
}

func snapshot(ctx context.Context, db bun.IDB, userID string) (*economy.Snapshot, error) {
	snap := &economy.Snapshot{
		UserID:    userID,
		Balances:  make(map[economy.Currency]economy.Amount),
		Inventory: make(map[string]int64),
		Progress:  economy.Progress{Level: 1},
	}

	var accounts []*models.Account
	if err := db.NewSelect().
		Model(&accounts).
		Where("user_id = ?", userID).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	for _, account := range accounts {
		snap.Balances[economy.Currency(account.Currency)] = account.Balance
	}

	var entries []*models.InventoryEntry
	if err := db.NewSelect().
		Model(&entries).
		Where("user_id = ?", userID).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to load inventory: %w", err)
	}
	for _, entry := range entries {
		snap.Inventory[entry.ItemID] = entry.Quantity
	}

	progress := new(models.UserProgress)
	err := db.NewSelect().
		Model(progress).
		Where("user_id = ?", userID).
		Scan(ctx)
	switch {
	case err == nil:
		snap.Progress = economy.Progress{
			Level:       progress.Level,
			NextTierID:  progress.NextTierID,
			Initialized: true,
		}
	case errors.Is(err, sql.ErrNoRows):
		// No upgrades yet; level 1 with an uninitialized tier pointer.
	default:
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}

	if err := db.NewSelect().
		Model(&snap.Logs).
		Where("user_id = ?", userID).
		Order("id ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to load ledger logs: %w", err)
	}

	return snap, nil
}
