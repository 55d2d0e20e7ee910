package recommend

import (
	"sort"

	"github.com/shopglide/cartcore/internal/model"
)

// DeriveVisible walks the locked master list in order, skipping candidates
// whose product is currently in the cart, and returns up to maxCount items.
// A product removed from the cart reappears at its original master-list
// position, never at the end: the visible list grows and shrinks by cart
// membership only, it is never re-ranked.
func DeriveVisible(master []model.Candidate, cart *model.CartSnapshot, maxCount int) []model.Candidate {
	if maxCount <= 0 {
		return nil
	}
	inCart := cart.ProductIDSet()

	out := make([]model.Candidate, 0, maxCount)
	for _, c := range master {
		if inCart[c.ProductID] {
			continue
		}
		out = append(out, c)
		if len(out) == maxCount {
			break
		}
	}
	return out
}

// RerankForThreshold re-sorts a derived visible slice to prefer candidates
// priced within toleranceCents of the remaining-to-next-reward gap. The
// underlying master order is untouched; future derivations are unaffected.
func RerankForThreshold(visible []model.Candidate, remainingCents, toleranceCents int64) []model.Candidate {
	if remainingCents <= 0 {
		return visible
	}

	out := make([]model.Candidate, len(visible))
	copy(out, visible)

	inBand := func(c model.Candidate) bool {
		diff := c.PriceCents - remainingCents
		if diff < 0 {
			diff = -diff
		}
		return diff <= toleranceCents
	}
	sort.SliceStable(out, func(i, j int) bool {
		return inBand(out[i]) && !inBand(out[j])
	})
	return out
}
