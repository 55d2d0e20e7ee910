package store

import (
	"context"

	"github.com/shopglide/cartcore/internal/model"
	"github.com/shopglide/cartcore/internal/resilience"
)

// GuardedCatalog runs every catalog lookup through a circuit breaker so a
// flapping catalog upstream fails fast instead of stalling recomputes.
type GuardedCatalog struct {
	inner   Fetcher
	breaker *resilience.Breaker
}

func NewGuardedCatalog(inner Fetcher, breaker *resilience.Breaker) *GuardedCatalog {
	if breaker == nil {
		breaker = resilience.NewBreaker("catalog")
	}
	return &GuardedCatalog{inner: inner, breaker: breaker}
}

func (g *GuardedCatalog) SearchByKeyword(ctx context.Context, keyword string, limit int) ([]model.Candidate, error) {
	return resilience.ExecuteVal(g.breaker, ctx, func(ctx context.Context) ([]model.Candidate, error) {
		return g.inner.SearchByKeyword(ctx, keyword, limit)
	})
}

func (g *GuardedCatalog) GetByID(ctx context.Context, productID string) (*model.Candidate, error) {
	return resilience.ExecuteVal(g.breaker, ctx, func(ctx context.Context) (*model.Candidate, error) {
		return g.inner.GetByID(ctx, productID)
	})
}

func (g *GuardedCatalog) GetPopular(ctx context.Context, limit int) ([]model.Candidate, error) {
	return resilience.ExecuteVal(g.breaker, ctx, func(ctx context.Context) ([]model.Candidate, error) {
		return g.inner.GetPopular(ctx, limit)
	})
}

func (g *GuardedCatalog) GetByPriceRange(ctx context.Context, minCents, maxCents int64, limit int) ([]model.Candidate, error) {
	return resilience.ExecuteVal(g.breaker, ctx, func(ctx context.Context) ([]model.Candidate, error) {
		return g.inner.GetByPriceRange(ctx, minCents, maxCents, limit)
	})
}
