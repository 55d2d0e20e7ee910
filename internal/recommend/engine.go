// Package recommend builds the scored, deduplicated master candidate list
// and derives the cart-filtered visible subset from it. The master list is
// computed once per engine run and locked; only the derived subset changes
// as the cart mutates.
package recommend

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shopglide/cartcore/internal/model"
)

// Catalog is the product lookup surface the engine recommends from.
type Catalog interface {
	SearchByKeyword(ctx context.Context, keyword string, limit int) ([]model.Candidate, error)
	GetByID(ctx context.Context, productID string) (*model.Candidate, error)
	GetPopular(ctx context.Context, limit int) ([]model.Candidate, error)
	GetByPriceRange(ctx context.Context, minCents, maxCents int64, limit int) ([]model.Candidate, error)
}

// Pair is one frequently-bought-together partner with its confidence.
type Pair struct {
	ProductID  string  `json:"product_id"`
	Confidence float64 `json:"confidence"`
}

// PairData supplies historical purchase pairing, when available.
type PairData interface {
	PairedWith(ctx context.Context, productID string, confidenceFloor float64) ([]Pair, error)
}

// Engine produces master candidate lists.
type Engine struct {
	catalog         Catalog
	pairs           PairData
	minCount        int
	searchLimit     int
	confidenceFloor float64
	now             func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithPairData enables the frequently-bought-together strategy.
func WithPairData(p PairData) Option {
	return func(e *Engine) { e.pairs = p }
}

// WithMinCount sets the minimum master list size before popularity top-up.
func WithMinCount(n int) Option {
	return func(e *Engine) { e.minCount = n }
}

// WithSearchLimit caps per-keyword catalog searches.
func WithSearchLimit(n int) Option {
	return func(e *Engine) { e.searchLimit = n }
}

// WithNow sets a fixed clock for testing the seasonal strategy.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a recommendation engine over the given catalog.
func NewEngine(catalog Catalog, opts ...Option) *Engine {
	e := &Engine{
		catalog:         catalog,
		minCount:        4,
		searchLimit:     6,
		confidenceFloor: defaultConfidenceFloor,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BuildMasterList runs the strategy pipeline and returns the scored,
// deduplicated master list. A non-empty manual product list short-circuits
// every other strategy. The result is computed once per engine run; callers
// must not rebuild it on every cart mutation.
func (e *Engine) BuildMasterList(ctx context.Context, cart *model.CartSnapshot, rules *model.RuleSet) ([]model.Candidate, error) {
	if rules.HasManual() {
		return e.buildManual(ctx, rules.ManualProductIDs)
	}

	if cart.IsEmpty() {
		popular, err := e.popular(ctx, e.minCount)
		if err != nil {
			return nil, err
		}
		return popular, nil
	}

	// Strategies run concurrently into fixed priority slots; concatenation
	// order stays deterministic regardless of completion order.
	slots := make([][]model.Candidate, 4)
	g, gctx := errgroup.WithContext(ctx)
	run := func(slot int, name string, fn func() ([]model.Candidate, error)) {
		g.Go(func() error {
			found, err := fn()
			if err != nil {
				// A failed strategy degrades the list, it never fails the build.
				zap.L().Warn("recommend: strategy failed",
					zap.String("strategy", name),
					zap.Error(err),
				)
			}
			slots[slot] = found
			return nil
		})
	}
	run(0, "complement", func() ([]model.Candidate, error) { return e.runComplement(gctx, cart, rules) })
	run(1, "frequently-bought", func() ([]model.Candidate, error) { return e.runFrequentlyBought(gctx, cart) })
	run(2, "price-band", func() ([]model.Candidate, error) { return e.runPriceBand(gctx, cart) })
	run(3, "seasonal", func() ([]model.Candidate, error) { return e.runSeasonal(gctx) })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var combined []model.Candidate
	for _, slot := range slots {
		combined = append(combined, slot...)
	}
	master := dedupe(combined)

	if len(master) < e.minCount {
		fill, err := e.popular(ctx, e.minCount*2)
		if err != nil {
			zap.L().Warn("recommend: popularity top-up failed", zap.Error(err))
		} else {
			master = dedupe(append(master, fill...))
		}
	}

	// Stable sort keeps strategy priority within equal scores.
	sort.SliceStable(master, func(i, j int) bool { return master[i].Score > master[j].Score })

	zap.L().Debug("recommend: master list built",
		zap.Int("candidates", len(master)),
		zap.Int64("cart_total_cents", cart.TotalCents),
	)
	return master, nil
}

func (e *Engine) buildManual(ctx context.Context, productIDs []string) ([]model.Candidate, error) {
	out := make([]model.Candidate, 0, len(productIDs))
	for _, id := range productIDs {
		c, err := e.catalog.GetByID(ctx, id)
		if err != nil {
			zap.L().Warn("recommend: manual product lookup failed",
				zap.String("product_id", id),
				zap.Error(err),
			)
			continue
		}
		if c == nil || c.VariantID == "" {
			continue
		}
		cand := *c
		cand.Score = scoreManual
		cand.Reason = model.ReasonManualSelection
		out = append(out, cand)
	}
	return dedupe(out), nil
}

func (e *Engine) popular(ctx context.Context, limit int) ([]model.Candidate, error) {
	found, err := e.catalog.GetPopular(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.Candidate, 0, len(found))
	for _, c := range found {
		c.Score = scorePopularity
		c.Reason = model.ReasonPopularity
		out = append(out, c)
	}
	return dedupe(out), nil
}

// dedupe keys on product id and keeps the first-seen instance, which is the
// highest-priority strategy's. Candidates missing a product or variant id
// are dropped.
func dedupe(candidates []model.Candidate) []model.Candidate {
	seen := make(map[string]bool, len(candidates))
	out := make([]model.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.ProductID == "" || c.VariantID == "" {
			continue
		}
		if seen[c.ProductID] {
			continue
		}
		seen[c.ProductID] = true
		out = append(out, c)
	}
	return out
}
