package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"github.com/stellarfest/gamehall/gamehall/database/models"
)

// CatalogRepository serves the static reference data: items, recipes and
// upgrade cost tiers. It satisfies economy.CatalogStore.
type CatalogRepository interface {
	Item(ctx context.Context, id string) (*models.Item, error)
	ItemsByFamily(ctx context.Context, family string) ([]*models.Item, error)
	AllItems(ctx context.Context) ([]*models.Item, error)
	Recipe(ctx context.Context, id string) (*models.Recipe, error)
	RecipesByOutput(ctx context.Context, outputItemID string) ([]*models.Recipe, error)
	Tier(ctx context.Context, id int64) (*models.UpgradeCostTier, error)
	FirstTier(ctx context.Context) (*models.UpgradeCostTier, error)
}

type catalogRepository struct {
	db *bun.DB
}

func NewCatalogRepository(db *bun.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

func (r *catalogRepository) Item(ctx context.Context, id string) (*models.Item, error) {
	item := new(models.Item)
	err := r.db.NewSelect().
		Model(item).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *catalogRepository) ItemsByFamily(ctx context.Context, family string) ([]*models.Item, error) {
	var items []*models.Item
	err := r.db.NewSelect().
		Model(&items).
		Where("family = ?", family).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *catalogRepository) AllItems(ctx context.Context) ([]*models.Item, error) {
	var items []*models.Item
	err := r.db.NewSelect().
		Model(&items).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *catalogRepository) Recipe(ctx context.Context, id string) (*models.Recipe, error) {
	recipe := new(models.Recipe)
	err := r.db.NewSelect().
		Model(recipe).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return recipe, nil
}

func (r *catalogRepository) RecipesByOutput(ctx context.Context, outputItemID string) ([]*models.Recipe, error) {
	var recipes []*models.Recipe
	err := r.db.NewSelect().
		Model(&recipes).
		Where("output_item_id = ?", outputItemID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return recipes, nil
}

func (r *catalogRepository) Tier(ctx context.Context, id int64) (*models.UpgradeCostTier, error) {
	tier := new(models.UpgradeCostTier)
	err := r.db.NewSelect().
		Model(tier).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tier, nil
}

func (r *catalogRepository) FirstTier(ctx context.Context) (*models.UpgradeCostTier, error) {
	tier := new(models.UpgradeCostTier)
	err := r.db.NewSelect().
		Model(tier).
		Order("level ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tier, nil
}
