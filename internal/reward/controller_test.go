package reward

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopglide/cartcore/internal/cart"
	"github.com/shopglide/cartcore/internal/model"
)

type fakeCartOps struct {
	added   []cart.AddItem
	removed []string
	snap    *model.CartSnapshot
}

func (f *fakeCartOps) AddItems(ctx context.Context, items []cart.AddItem) (*model.CartSnapshot, error) {
	f.added = append(f.added, items...)
	return f.snap, nil
}

func (f *fakeCartOps) ChangeQuantity(ctx context.Context, lineKey string, quantity int) (*model.CartSnapshot, error) {
	if quantity == 0 {
		f.removed = append(f.removed, lineKey)
	}
	return f.snap, nil
}

type fakeResolver struct{}

func (fakeResolver) ResolveVariant(ctx context.Context, productID string) (string, error) {
	return "variant-" + productID, nil
}

type countingNotifier struct {
	prompts []string
}

func (n *countingNotifier) PromptClaim(th model.RewardThreshold) {
	n.prompts = append(n.prompts, th.ID)
}

func giftThreshold() model.RewardThreshold {
	return model.RewardThreshold{
		ID:          "gift-a",
		AmountCents: 15000,
		Kind:        model.ThresholdGift,
		ProductID:   "gift-product-a",
		Title:       "Free Tote",
	}
}

func thresholds() []model.RewardThreshold {
	return []model.RewardThreshold{
		{ID: "shipping", AmountCents: 10000, Kind: model.ThresholdFreeShipping},
		giftThreshold(),
	}
}

func snapWithTotal(totalCents int64, items ...model.LineItem) *model.CartSnapshot {
	return &model.CartSnapshot{Items: items, TotalCents: totalCents, Currency: "USD"}
}

func giftLine() model.LineItem {
	return model.LineItem{Key: "gift-line", VariantID: "variant-gift-product-a", ProductID: "gift-product-a", Quantity: 1, IsGift: true}
}

func TestPhase(t *testing.T) {
	th := giftThreshold()

	assert.Equal(t, model.RewardLocked, Phase(snapWithTotal(12000), th))
	assert.Equal(t, model.RewardReadyToClaim, Phase(snapWithTotal(16000), th))
	assert.Equal(t, model.RewardClaimed, Phase(snapWithTotal(16000, giftLine()), th))
}

func TestApply_PromptsExactlyOnce(t *testing.T) {
	ops := &fakeCartOps{}
	notifier := &countingNotifier{}
	c := NewController(ops, fakeResolver{}, notifier)

	snap := snapWithTotal(16000)
	phases := c.Apply(context.Background(), snap, thresholds())
	assert.Equal(t, model.RewardReadyToClaim, phases["gift-a"])
	require.Len(t, notifier.prompts, 1)

	// Re-applying without a state change never re-prompts.
	c.Apply(context.Background(), snap, thresholds())
	c.Apply(context.Background(), snap, thresholds())
	assert.Len(t, notifier.prompts, 1)
}

func TestApply_DeclineSuppressesUntilLockCycle(t *testing.T) {
	ops := &fakeCartOps{}
	notifier := &countingNotifier{}
	c := NewController(ops, fakeResolver{}, notifier)

	ready := snapWithTotal(16000)
	c.Apply(context.Background(), ready, thresholds())
	require.Len(t, notifier.prompts, 1)

	require.NoError(t, c.Decline(thresholds(), "gift-a"))
	assert.True(t, c.Declined("gift-a"))

	// Still ready, still declined: no prompt.
	c.Apply(context.Background(), ready, thresholds())
	assert.Len(t, notifier.prompts, 1)

	// Total drops below the threshold: decline memory clears.
	c.Apply(context.Background(), snapWithTotal(9000), thresholds())
	assert.False(t, c.Declined("gift-a"))

	// Rises again: one fresh prompt.
	c.Apply(context.Background(), ready, thresholds())
	assert.Len(t, notifier.prompts, 2)
}

func TestApply_LockRemovesAllGiftLines(t *testing.T) {
	ops := &fakeCartOps{}
	c := NewController(ops, fakeResolver{}, nil)

	second := giftLine()
	second.Key = "gift-line-2"
	snap := snapWithTotal(9000, giftLine(), second)

	phases := c.Apply(context.Background(), snap, thresholds())
	assert.Equal(t, model.RewardLocked, phases["gift-a"])
	assert.ElementsMatch(t, []string{"gift-line", "gift-line-2"}, ops.removed)
}

func TestApply_ClaimedIsQuiet(t *testing.T) {
	ops := &fakeCartOps{}
	notifier := &countingNotifier{}
	c := NewController(ops, fakeResolver{}, notifier)

	phases := c.Apply(context.Background(), snapWithTotal(16000, giftLine()), thresholds())
	assert.Equal(t, model.RewardClaimed, phases["gift-a"])
	assert.Empty(t, notifier.prompts)
	assert.Empty(t, ops.removed)
}

func TestClaim_AddsGiftLine(t *testing.T) {
	ops := &fakeCartOps{snap: snapWithTotal(16000, giftLine())}
	c := NewController(ops, fakeResolver{}, nil)

	_, err := c.Claim(context.Background(), thresholds(), "gift-a")
	require.NoError(t, err)

	require.Len(t, ops.added, 1)
	added := ops.added[0]
	assert.Equal(t, "variant-gift-product-a", added.VariantID)
	assert.True(t, added.IsGift)
	assert.Equal(t, "Free Tote", added.GiftTitle)
	assert.Equal(t, 1, added.Quantity)
}

func TestClaim_UnknownThreshold(t *testing.T) {
	c := NewController(&fakeCartOps{}, fakeResolver{}, nil)

	_, err := c.Claim(context.Background(), thresholds(), "shipping")
	assert.ErrorIs(t, err, ErrUnknownThreshold)

	_, err = c.Claim(context.Background(), thresholds(), "nope")
	assert.ErrorIs(t, err, ErrUnknownThreshold)
}

func TestClaimedGiftProductIDs(t *testing.T) {
	claimed := ClaimedGiftProductIDs(snapWithTotal(16000, giftLine()), thresholds())
	assert.True(t, claimed["gift-product-a"])

	claimed = ClaimedGiftProductIDs(snapWithTotal(16000), thresholds())
	assert.Empty(t, claimed)
}
