package economy

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/stellarfest/gamehall/gamehall/database/models"
)

// CatalogStore reads the static reference data (items, recipes, upgrade
// tiers). Implemented by the catalog repository.
type CatalogStore interface {
	Item(ctx context.Context, id string) (*models.Item, error)
	ItemsByFamily(ctx context.Context, family string) ([]*models.Item, error)
	Recipe(ctx context.Context, id string) (*models.Recipe, error)
	Tier(ctx context.Context, id int64) (*models.UpgradeCostTier, error)
	FirstTier(ctx context.Context) (*models.UpgradeCostTier, error)
}

// Catalog resolves recipes, tiers and item definitions. Item definitions are
// immutable during an event, so they sit behind a small LRU; stock counters
// are live data and always read through the store.
type Catalog struct {
	store CatalogStore
	items *lru.Cache
}

const itemCacheSize = 256

func NewCatalog(store CatalogStore) (*Catalog, error) {
	cache, err := lru.New(itemCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create item cache: %w", err)
	}
	return &Catalog{store: store, items: cache}, nil
}

// Item returns the cached catalog definition for an item kind.
// ErrItemNotFound for unknown ids.
func (c *Catalog) Item(ctx context.Context, id string) (*models.Item, error) {
	if cached, ok := c.items.Get(id); ok {
		return cached.(*models.Item), nil
	}
	item, err := c.store.Item(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	c.items.Add(id, item)
	return item, nil
}

// LiveItem bypasses the cache for reads that need the current stock counter.
func (c *Catalog) LiveItem(ctx context.Context, id string) (*models.Item, error) {
	item, err := c.store.Item(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return item, nil
}

// Recipe returns the ordered input list for an output identifier. Unknown
// identifiers fail with ErrRecipeNotFound, never a zero-requirement recipe.
func (c *Catalog) Recipe(ctx context.Context, id string) (*models.Recipe, error) {
	recipe, err := c.store.Recipe(ctx, id)
	if err != nil {
		return nil, err
	}
	if recipe == nil {
		return nil, fmt.Errorf("%w: %s", ErrRecipeNotFound, id)
	}
	if len(recipe.Inputs) == 0 {
		return nil, fmt.Errorf("%w: %s has no inputs", ErrRecipeNotFound, id)
	}
	return recipe, nil
}

// GachaCatalog lists the uniform reward set for a draw.
func (c *Catalog) GachaCatalog(ctx context.Context) ([]*models.Item, error) {
	return c.store.ItemsByFamily(ctx, models.FamilyGachaReward)
}

// Tier returns one upgrade cost tier by id.
func (c *Catalog) Tier(ctx context.Context, id int64) (*models.UpgradeCostTier, error) {
	tier, err := c.store.Tier(ctx, id)
	if err != nil {
		return nil, err
	}
	if tier == nil {
		return nil, fmt.Errorf("upgrade tier %d missing: %w", id, ErrMaxLevelReached)
	}
	return tier, nil
}

// FirstTier returns the entry tier of the ladder, consumed by users whose
// progress row does not exist yet.
func (c *Catalog) FirstTier(ctx context.Context) (*models.UpgradeCostTier, error) {
	return c.store.FirstTier(ctx)
}
