// Package reward drives the per-gift-threshold state machine: prompting
// claims, honoring session-scoped declines, and removing gifts whose
// threshold is no longer met.
package reward

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shopglide/cartcore/internal/cart"
	"github.com/shopglide/cartcore/internal/model"
)

// CartOps is the slice of the cart store the controller mutates through.
type CartOps interface {
	AddItems(ctx context.Context, items []cart.AddItem) (*model.CartSnapshot, error)
	ChangeQuantity(ctx context.Context, lineKey string, quantity int) (*model.CartSnapshot, error)
}

// VariantResolver resolves a gift product id to an addable variant id.
type VariantResolver interface {
	ResolveVariant(ctx context.Context, productID string) (string, error)
}

// Notifier receives claim prompts. The presentation layer implements it;
// the controller never reaches into any UI.
type Notifier interface {
	PromptClaim(th model.RewardThreshold)
}

// ErrUnknownThreshold is returned for claim/decline calls naming a
// threshold id that is not a configured gift.
var ErrUnknownThreshold = eris.New("reward: unknown gift threshold")

// Controller owns decline/claim session memory and applies gift
// transitions on every cart-total change.
type Controller struct {
	cartOps  CartOps
	resolver VariantResolver
	notifier Notifier

	mu       sync.Mutex
	declined map[string]*model.GiftClaimState // by threshold id
	prompted map[string]bool                  // prompt-once per ready episode
}

// NewController creates a reward controller. notifier may be nil when no
// presentation layer is attached.
func NewController(cartOps CartOps, resolver VariantResolver, notifier Notifier) *Controller {
	return &Controller{
		cartOps:  cartOps,
		resolver: resolver,
		notifier: notifier,
		declined: make(map[string]*model.GiftClaimState),
		prompted: make(map[string]bool),
	}
}

// Phase classifies one gift threshold against the current snapshot.
func Phase(snap *model.CartSnapshot, th model.RewardThreshold) model.RewardPhase {
	if snap != nil && snap.TotalCents >= th.AmountCents {
		if len(snap.GiftLines(th.ProductID)) > 0 {
			return model.RewardClaimed
		}
		return model.RewardReadyToClaim
	}
	return model.RewardLocked
}

// ClaimedGiftProductIDs returns the set of gift product ids whose gift line
// is present in the cart, the claimed-set input to threshold.Evaluate.
func ClaimedGiftProductIDs(snap *model.CartSnapshot, thresholds []model.RewardThreshold) map[string]bool {
	claimed := make(map[string]bool)
	if snap == nil {
		return claimed
	}
	for _, th := range thresholds {
		if th.IsGift() && len(snap.GiftLines(th.ProductID)) > 0 {
			claimed[th.ProductID] = true
		}
	}
	return claimed
}

// Apply runs one transition pass over every gift threshold. It removes
// gift lines whose threshold dropped below the spend level, clears decline
// memory on lock, and prompts exactly once per ready-to-claim episode.
// It returns the resulting phase per threshold id.
func (c *Controller) Apply(ctx context.Context, snap *model.CartSnapshot, thresholds []model.RewardThreshold) map[string]model.RewardPhase {
	phases := make(map[string]model.RewardPhase)
	for _, th := range thresholds {
		if !th.IsGift() {
			continue
		}
		phase := Phase(snap, th)
		phases[th.ID] = phase

		switch phase {
		case model.RewardLocked:
			c.lock(ctx, snap, th)
		case model.RewardReadyToClaim:
			c.maybePrompt(th)
		case model.RewardClaimed:
			// Nothing to do; memory stays until the threshold unlocks.
		}
	}
	return phases
}

func (c *Controller) lock(ctx context.Context, snap *model.CartSnapshot, th model.RewardThreshold) {
	c.mu.Lock()
	delete(c.declined, th.ID)
	delete(c.prompted, th.ID)
	c.mu.Unlock()

	// Remove every gift-marked line for the product, not just one.
	for _, li := range snap.GiftLines(th.ProductID) {
		if _, err := c.cartOps.ChangeQuantity(ctx, li.Key, 0); err != nil {
			// A dropped single-flight call self-heals on the next pass.
			zap.L().Warn("reward: gift removal deferred",
				zap.String("threshold_id", th.ID),
				zap.String("line_key", li.Key),
				zap.Error(err),
			)
		}
	}
}

func (c *Controller) maybePrompt(th model.RewardThreshold) {
	c.mu.Lock()
	state := c.declined[th.ID]
	alreadyPrompted := c.prompted[th.ID]
	if state == nil || !state.Declined {
		c.prompted[th.ID] = true
	}
	suppressed := alreadyPrompted || (state != nil && state.Declined)
	c.mu.Unlock()

	if suppressed || c.notifier == nil {
		return
	}
	zap.L().Debug("reward: prompting claim", zap.String("threshold_id", th.ID))
	c.notifier.PromptClaim(th)
}

// Claim adds the gift line for the named threshold with its gift marker and
// title, and clears decline memory.
func (c *Controller) Claim(ctx context.Context, thresholds []model.RewardThreshold, thresholdID string) (*model.CartSnapshot, error) {
	th, ok := findGift(thresholds, thresholdID)
	if !ok {
		return nil, ErrUnknownThreshold
	}

	variantID, err := c.resolver.ResolveVariant(ctx, th.ProductID)
	if err != nil {
		return nil, eris.Wrap(err, "reward: resolve gift variant")
	}

	snap, err := c.cartOps.AddItems(ctx, []cart.AddItem{{
		VariantID:  variantID,
		ProductID:  th.ProductID,
		Quantity:   1,
		Provenance: model.ProvenanceBundle,
		IsGift:     true,
		GiftTitle:  th.Title,
	}})
	if err != nil {
		return snap, eris.Wrap(err, "reward: claim gift")
	}

	c.mu.Lock()
	delete(c.declined, th.ID)
	c.mu.Unlock()
	return snap, nil
}

// Decline records the session-scoped decline for the named threshold. The
// shopper is not re-prompted until the cart total drops below the threshold
// and rises again.
func (c *Controller) Decline(thresholds []model.RewardThreshold, thresholdID string) error {
	_, ok := findGift(thresholds, thresholdID)
	if !ok {
		return ErrUnknownThreshold
	}
	c.mu.Lock()
	c.declined[thresholdID] = &model.GiftClaimState{Declined: true}
	c.mu.Unlock()
	return nil
}

// Declined reports the session decline memory for a threshold id.
func (c *Controller) Declined(thresholdID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.declined[thresholdID]
	return state != nil && state.Declined
}

func findGift(thresholds []model.RewardThreshold, id string) (model.RewardThreshold, bool) {
	for _, th := range thresholds {
		if th.ID == id && th.IsGift() {
			return th, true
		}
	}
	return model.RewardThreshold{}, false
}
