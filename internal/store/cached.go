package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shopglide/cartcore/internal/model"
)

// Fetcher is the catalog lookup surface CachedCatalog wraps.
type Fetcher interface {
	SearchByKeyword(ctx context.Context, keyword string, limit int) ([]model.Candidate, error)
	GetByID(ctx context.Context, productID string) (*model.Candidate, error)
	GetPopular(ctx context.Context, limit int) ([]model.Candidate, error)
	GetByPriceRange(ctx context.Context, minCents, maxCents int64, limit int) ([]model.Candidate, error)
}

// CachedCatalog caches list lookups through a Store. Single-product
// lookups are passed through uncached since the recommendation engine
// resolves them rarely. Cache failures are logged and the live call
// proceeds.
type CachedCatalog struct {
	inner Fetcher
	store Store
	ttl   time.Duration
}

// NewCachedCatalog wraps a catalog client with a search cache. A zero ttl
// defaults to 10 minutes.
func NewCachedCatalog(inner Fetcher, st Store, ttl time.Duration) *CachedCatalog {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedCatalog{inner: inner, store: st, ttl: ttl}
}

func (c *CachedCatalog) SearchByKeyword(ctx context.Context, keyword string, limit int) ([]model.Candidate, error) {
	key := fmt.Sprintf("kw:%s:%d", keyword, limit)
	return c.cached(ctx, key, func(ctx context.Context) ([]model.Candidate, error) {
		return c.inner.SearchByKeyword(ctx, keyword, limit)
	})
}

func (c *CachedCatalog) GetByID(ctx context.Context, productID string) (*model.Candidate, error) {
	return c.inner.GetByID(ctx, productID)
}

func (c *CachedCatalog) GetPopular(ctx context.Context, limit int) ([]model.Candidate, error) {
	key := fmt.Sprintf("popular:%d", limit)
	return c.cached(ctx, key, func(ctx context.Context) ([]model.Candidate, error) {
		return c.inner.GetPopular(ctx, limit)
	})
}

func (c *CachedCatalog) GetByPriceRange(ctx context.Context, minCents, maxCents int64, limit int) ([]model.Candidate, error) {
	key := fmt.Sprintf("band:%d:%d:%d", minCents, maxCents, limit)
	return c.cached(ctx, key, func(ctx context.Context) ([]model.Candidate, error) {
		return c.inner.GetByPriceRange(ctx, minCents, maxCents, limit)
	})
}

func (c *CachedCatalog) cached(ctx context.Context, key string, fetch func(context.Context) ([]model.Candidate, error)) ([]model.Candidate, error) {
	hit, err := c.store.GetCachedSearch(ctx, key)
	if err != nil {
		zap.L().Debug("search cache read failed", zap.String("key", key), zap.Error(err))
	} else if hit != nil {
		return hit, nil
	}

	out, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.store.SetCachedSearch(ctx, key, out, c.ttl); err != nil {
		zap.L().Debug("search cache write failed", zap.String("key", key), zap.Error(err))
	}
	return out, nil
}
