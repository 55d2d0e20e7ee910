// Package cart owns the authoritative cart snapshot and keeps it consistent
// with the remote cart service under concurrent user actions.
package cart

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shopglide/cartcore/internal/model"
)

// ErrChangeInFlight is returned when a quantity change arrives while another
// is still in flight. Overlapping calls are dropped, not queued; the caller
// re-issues on the next user action.
var ErrChangeInFlight = eris.New("cart: quantity change already in flight")

// Service is the remote cart API the store talks to. Reads must be
// idempotent-safe under retry; writes are not assumed idempotent, which is
// why the store serializes them.
type Service interface {
	GetCart(ctx context.Context) (*model.CartSnapshot, error)
	ChangeLine(ctx context.Context, lineKey string, quantity int) (*model.CartSnapshot, error)
	AddLines(ctx context.Context, lines []model.LineInput) (*model.CartSnapshot, error)
}

// AddItem is one item to add through the store, tagged with its provenance.
type AddItem struct {
	VariantID  string
	ProductID  string
	Quantity   int
	Provenance model.Provenance
	IsGift     bool
	GiftTitle  string
}

// Store is the single mutable source of truth for the active cart. The
// snapshot is replaced wholesale on every successful remote read; partial
// application is never observable.
type Store struct {
	svc Service

	mu           sync.Mutex
	snapshot     *model.CartSnapshot
	prefetched   *model.CartSnapshot
	prefetchedAt time.Time
	prefetchTTL  time.Duration

	changeBusy atomic.Bool
}

// Option configures a Store.
type Option func(*Store)

// WithPrefetchTTL sets how long a prefetched snapshot stays consumable.
func WithPrefetchTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.prefetchTTL = ttl
	}
}

// NewStore creates a cart store backed by the given remote service.
func NewStore(svc Service, opts ...Option) *Store {
	s := &Store{
		svc:         svc,
		prefetchTTL: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the current cart snapshot, which may be nil before the
// first successful refresh.
func (s *Store) Snapshot() *model.CartSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Prefetch warms a single-use snapshot that the next Refresh may consume
// instead of issuing a network call.
func (s *Store) Prefetch(ctx context.Context) error {
	snap, err := s.svc.GetCart(ctx)
	if err != nil {
		return eris.Wrap(err, "cart: prefetch")
	}
	s.mu.Lock()
	s.prefetched = snap
	s.prefetchedAt = time.Now()
	s.mu.Unlock()
	return nil
}

// Refresh replaces the local snapshot from the remote cart. A fresh
// prefetched snapshot is consumed instead when forceFresh is false; a
// prefetch is single-use. On failure the previous snapshot is left
// untouched and returned alongside the error; an empty cart is installed
// only as a last-resort fallback when no snapshot exists yet.
func (s *Store) Refresh(ctx context.Context, forceFresh bool) (*model.CartSnapshot, error) {
	if !forceFresh {
		s.mu.Lock()
		if s.prefetched != nil && time.Since(s.prefetchedAt) <= s.prefetchTTL {
			snap := s.prefetched
			s.prefetched = nil
			s.snapshot = snap
			s.mu.Unlock()
			return snap, nil
		}
		s.prefetched = nil
		s.mu.Unlock()
	}

	snap, err := s.svc.GetCart(ctx)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.snapshot == nil {
			zap.L().Warn("cart: initial fetch failed, falling back to empty cart", zap.Error(err))
			s.snapshot = &model.CartSnapshot{FetchedAt: time.Now()}
			return s.snapshot, eris.Wrap(err, "cart: refresh")
		}
		return s.snapshot, eris.Wrap(err, "cart: refresh")
	}

	s.mu.Lock()
	s.snapshot = snap
	s.prefetched = nil
	s.mu.Unlock()
	return snap, nil
}

// ChangeQuantity sets the quantity for one line. Calls are single-flight: a
// call arriving while another is in flight returns ErrChangeInFlight and
// performs no work.
func (s *Store) ChangeQuantity(ctx context.Context, lineKey string, quantity int) (*model.CartSnapshot, error) {
	if !s.changeBusy.CompareAndSwap(false, true) {
		return nil, ErrChangeInFlight
	}
	defer s.changeBusy.Store(false)

	if _, err := s.svc.ChangeLine(ctx, lineKey, quantity); err != nil {
		return s.Snapshot(), eris.Wrap(err, "cart: change quantity")
	}
	return s.Refresh(ctx, true)
}

// AddItems adds items to the remote cart, consolidating with any existing
// line for the same variant so the cart never holds duplicate lines. An
// existing line's untracked quantity counts as manual when merging.
func (s *Store) AddItems(ctx context.Context, items []AddItem) (*model.CartSnapshot, error) {
	for _, item := range items {
		if item.VariantID == "" || item.Quantity <= 0 {
			continue
		}
		if err := s.addOne(ctx, item); err != nil {
			snap, _ := s.Refresh(ctx, true)
			return snap, err
		}
	}
	return s.Refresh(ctx, true)
}

func (s *Store) addOne(ctx context.Context, item AddItem) error {
	remote, err := s.svc.GetCart(ctx)
	if err != nil {
		return eris.Wrap(err, "cart: add items fetch")
	}

	line := model.LineInput{
		VariantID: item.VariantID,
		Quantity:  item.Quantity,
		Tracked:   true,
		Counts:    model.ProvenanceCounts{}.Add(item.Provenance, item.Quantity),
		IsGift:    item.IsGift,
		GiftTitle: item.GiftTitle,
	}

	// Gift lines never merge with regular lines for the same variant.
	if !item.IsGift {
		if existing := remote.FindVariant(item.VariantID); existing != nil {
			merged := existing.EffectiveCounts().Add(item.Provenance, item.Quantity)
			line.Counts = merged
			line.Quantity = merged.Total()

			// Remove-then-add keeps a single consolidated line. A crash
			// between the two under-counts transiently and self-heals on the
			// next consolidation pass.
			if _, err := s.svc.ChangeLine(ctx, existing.Key, 0); err != nil {
				return eris.Wrap(err, "cart: add items remove existing")
			}
		}
	}

	if _, err := s.svc.AddLines(ctx, []model.LineInput{line}); err != nil {
		return eris.Wrap(err, "cart: add items")
	}
	return nil
}

// ConsolidateDuplicates merges any lines sharing a variant id using the same
// provenance-summing rule as AddItems, leaving the gift/non-gift split
// intact. Running it twice produces no further changes.
func (s *Store) ConsolidateDuplicates(ctx context.Context) (*model.CartSnapshot, error) {
	snap, err := s.Refresh(ctx, true)
	if err != nil {
		return snap, err
	}

	type group struct {
		lines []model.LineItem
	}
	groups := make(map[string]*group)
	var order []string
	for _, li := range snap.Items {
		if li.IsGift {
			continue
		}
		g, ok := groups[li.VariantID]
		if !ok {
			g = &group{}
			groups[li.VariantID] = g
			order = append(order, li.VariantID)
		}
		g.lines = append(g.lines, li)
	}

	changed := false
	for _, variantID := range order {
		g := groups[variantID]
		if len(g.lines) < 2 {
			continue
		}
		changed = true

		merged := model.ProvenanceCounts{}
		for _, li := range g.lines {
			merged = merged.Merge(li.EffectiveCounts())
		}
		zap.L().Info("cart: consolidating duplicate lines",
			zap.String("variant_id", variantID),
			zap.Int("lines", len(g.lines)),
			zap.Int("merged_qty", merged.Total()),
		)

		for _, li := range g.lines {
			if _, err := s.svc.ChangeLine(ctx, li.Key, 0); err != nil {
				return s.Snapshot(), eris.Wrap(err, "cart: consolidate remove")
			}
		}
		input := model.LineInput{
			VariantID: variantID,
			Quantity:  merged.Total(),
			Tracked:   true,
			Counts:    merged,
		}
		if _, err := s.svc.AddLines(ctx, []model.LineInput{input}); err != nil {
			return s.Snapshot(), eris.Wrap(err, "cart: consolidate re-add")
		}
	}

	if !changed {
		return snap, nil
	}
	return s.Refresh(ctx, true)
}
