package cart

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopglide/cartcore/internal/model"
)

// fakeService is an in-memory remote cart for store tests.
type fakeService struct {
	mu        sync.Mutex
	items     []model.LineItem
	nextKey   int
	getErr    error
	changeErr error
	addErr    error
	getCalls  int
	holdOpen  chan struct{} // when set, ChangeLine blocks until closed
}

func newFakeService() *fakeService {
	return &fakeService{}
}

func (f *fakeService) snapshot() *model.CartSnapshot {
	items := make([]model.LineItem, len(f.items))
	copy(items, f.items)
	var total int64
	for _, li := range items {
		total += li.LineTotalCents()
	}
	return &model.CartSnapshot{
		Items:      items,
		TotalCents: total,
		Currency:   "USD",
		FetchedAt:  time.Now(),
	}
}

func (f *fakeService) GetCart(ctx context.Context) (*model.CartSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.snapshot(), nil
}

func (f *fakeService) ChangeLine(ctx context.Context, lineKey string, quantity int) (*model.CartSnapshot, error) {
	if f.holdOpen != nil {
		<-f.holdOpen
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.changeErr != nil {
		return nil, f.changeErr
	}
	out := f.items[:0]
	for _, li := range f.items {
		if li.Key == lineKey {
			if quantity == 0 {
				continue
			}
			li.Quantity = quantity
		}
		out = append(out, li)
	}
	f.items = out
	return f.snapshot(), nil
}

func (f *fakeService) AddLines(ctx context.Context, lines []model.LineInput) (*model.CartSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return nil, f.addErr
	}
	for _, in := range lines {
		f.nextKey++
		f.items = append(f.items, model.LineItem{
			Key:            fmt.Sprintf("line-%d", f.nextKey),
			VariantID:      in.VariantID,
			ProductID:      "product-" + in.VariantID,
			Quantity:       in.Quantity,
			UnitPriceCents: 1000,
			IsGift:         in.IsGift,
			Tracked:        in.Tracked,
			Counts:         in.Counts,
		})
	}
	return f.snapshot(), nil
}

func TestStore_Refresh(t *testing.T) {
	svc := newFakeService()
	svc.items = []model.LineItem{{Key: "line-1", VariantID: "v1", ProductID: "p1", Quantity: 2, UnitPriceCents: 500}}
	s := NewStore(svc)

	snap, err := s.Refresh(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, snap.Items, 1)
	assert.Equal(t, int64(1000), snap.TotalCents)
}

func TestStore_Refresh_FailureKeepsPreviousSnapshot(t *testing.T) {
	svc := newFakeService()
	svc.items = []model.LineItem{{Key: "line-1", VariantID: "v1", Quantity: 1, UnitPriceCents: 500}}
	s := NewStore(svc)

	first, err := s.Refresh(context.Background(), true)
	require.NoError(t, err)

	svc.getErr = eris.New("network down")
	snap, err := s.Refresh(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, first, snap, "previous snapshot survives a failed refresh")
}

func TestStore_Refresh_BootFailureFallsBackToEmptyCart(t *testing.T) {
	svc := newFakeService()
	svc.getErr = eris.New("network down")
	s := NewStore(svc)

	snap, err := s.Refresh(context.Background(), true)
	require.Error(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.IsEmpty())
}

func TestStore_Refresh_ConsumesPrefetchOnce(t *testing.T) {
	svc := newFakeService()
	svc.items = []model.LineItem{{Key: "line-1", VariantID: "v1", Quantity: 1, UnitPriceCents: 500}}
	s := NewStore(svc)

	require.NoError(t, s.Prefetch(context.Background()))
	callsAfterPrefetch := svc.getCalls

	// First non-forced refresh consumes the prefetch without a network call.
	_, err := s.Refresh(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, callsAfterPrefetch, svc.getCalls)

	// Second refresh must hit the network again.
	_, err = s.Refresh(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, callsAfterPrefetch+1, svc.getCalls)
}

func TestStore_Refresh_ForceFreshSkipsPrefetch(t *testing.T) {
	svc := newFakeService()
	s := NewStore(svc)

	require.NoError(t, s.Prefetch(context.Background()))
	calls := svc.getCalls

	_, err := s.Refresh(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, calls+1, svc.getCalls)
}

func TestStore_ChangeQuantity_SingleFlight(t *testing.T) {
	svc := newFakeService()
	svc.items = []model.LineItem{{Key: "line-1", VariantID: "v1", Quantity: 1, UnitPriceCents: 500}}
	svc.holdOpen = make(chan struct{})
	s := NewStore(svc)

	firstErr := make(chan error, 1)
	go func() {
		_, err := s.ChangeQuantity(context.Background(), "line-1", 3)
		firstErr <- err
	}()

	// Wait for the first call to take the busy flag.
	require.Eventually(t, func() bool {
		return s.changeBusy.Load()
	}, time.Second, time.Millisecond)

	_, err := s.ChangeQuantity(context.Background(), "line-1", 5)
	assert.ErrorIs(t, err, ErrChangeInFlight)

	close(svc.holdOpen)
	require.NoError(t, <-firstErr)

	snap := s.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, 3, snap.Items[0].Quantity)
}

func TestStore_AddItems_NewLine(t *testing.T) {
	svc := newFakeService()
	s := NewStore(svc)

	snap, err := s.AddItems(context.Background(), []AddItem{
		{VariantID: "v1", Quantity: 2, Provenance: model.ProvenanceRecommended},
	})
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, 2, snap.Items[0].Quantity)
	assert.Equal(t, model.ProvenanceCounts{Recommended: 2}, snap.Items[0].Counts)
}

func TestStore_AddItems_MergesProvenance(t *testing.T) {
	svc := newFakeService()
	s := NewStore(svc)
	ctx := context.Background()

	_, err := s.AddItems(ctx, []AddItem{{VariantID: "v1", Quantity: 2, Provenance: model.ProvenanceManual}})
	require.NoError(t, err)
	snap, err := s.AddItems(ctx, []AddItem{{VariantID: "v1", Quantity: 1, Provenance: model.ProvenanceRecommended}})
	require.NoError(t, err)

	require.Len(t, snap.Items, 1, "no duplicate line for the same variant")
	li := snap.Items[0]
	assert.Equal(t, 3, li.Quantity)
	assert.Equal(t, model.ProvenanceCounts{Manual: 2, Recommended: 1}, li.Counts)
	assert.Equal(t, li.Quantity, li.Counts.Total())
}

func TestStore_AddItems_UntrackedExistingCountsAsManual(t *testing.T) {
	svc := newFakeService()
	// Pre-existing line with no provenance tracking (added by the theme).
	svc.items = []model.LineItem{{Key: "line-0", VariantID: "v1", ProductID: "p1", Quantity: 4, UnitPriceCents: 1000}}
	s := NewStore(svc)

	snap, err := s.AddItems(context.Background(), []AddItem{
		{VariantID: "v1", Quantity: 1, Provenance: model.ProvenanceBundle},
	})
	require.NoError(t, err)

	require.Len(t, snap.Items, 1)
	assert.Equal(t, model.ProvenanceCounts{Manual: 4, Bundle: 1}, snap.Items[0].Counts)
	assert.Equal(t, 5, snap.Items[0].Quantity)
}

func TestStore_AddItems_RepeatedAddsKeepInvariant(t *testing.T) {
	svc := newFakeService()
	s := NewStore(svc)
	ctx := context.Background()

	provs := []model.Provenance{
		model.ProvenanceManual, model.ProvenanceRecommended,
		model.ProvenanceBundle, model.ProvenanceManual, model.ProvenanceRecommended,
	}
	for _, p := range provs {
		_, err := s.AddItems(ctx, []AddItem{{VariantID: "v1", Quantity: 1, Provenance: p}})
		require.NoError(t, err)
	}

	snap := s.Snapshot()
	require.Len(t, snap.Items, 1)
	li := snap.Items[0]
	assert.Equal(t, 5, li.Quantity)
	assert.Equal(t, li.Quantity, li.Counts.Total())
	assert.Equal(t, model.ProvenanceCounts{Manual: 2, Recommended: 2, Bundle: 1}, li.Counts)
}

func TestStore_AddItems_GiftDoesNotMergeWithRegularLine(t *testing.T) {
	svc := newFakeService()
	s := NewStore(svc)
	ctx := context.Background()

	_, err := s.AddItems(ctx, []AddItem{{VariantID: "v1", Quantity: 1, Provenance: model.ProvenanceManual}})
	require.NoError(t, err)
	snap, err := s.AddItems(ctx, []AddItem{{VariantID: "v1", Quantity: 1, IsGift: true, GiftTitle: "Free Tote"}})
	require.NoError(t, err)

	assert.Len(t, snap.Items, 2, "gift and non-gift lines coexist for one variant")
}

func TestStore_ConsolidateDuplicates(t *testing.T) {
	svc := newFakeService()
	svc.items = []model.LineItem{
		{Key: "line-1", VariantID: "v1", Quantity: 2, UnitPriceCents: 1000, Tracked: true, Counts: model.ProvenanceCounts{Manual: 2}},
		{Key: "line-2", VariantID: "v1", Quantity: 1, UnitPriceCents: 1000, Tracked: true, Counts: model.ProvenanceCounts{Recommended: 1}},
		{Key: "line-3", VariantID: "v2", Quantity: 1, UnitPriceCents: 1000},
	}
	s := NewStore(svc)

	snap, err := s.ConsolidateDuplicates(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Items, 2)

	merged := snap.FindVariant("v1")
	require.NotNil(t, merged)
	assert.Equal(t, 3, merged.Quantity)
	assert.Equal(t, model.ProvenanceCounts{Manual: 2, Recommended: 1}, merged.Counts)

	// Idempotent: a second pass changes nothing.
	again, err := s.ConsolidateDuplicates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap.Items, again.Items)
}
