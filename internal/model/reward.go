package model

// ThresholdKind distinguishes the reward granted at a spend level.
type ThresholdKind string

const (
	ThresholdFreeShipping ThresholdKind = "free_shipping"
	ThresholdGift         ThresholdKind = "gift"
)

// RewardThreshold is one configured spend-based reward. A threshold set is
// sorted ascending by AmountCents once at load time; evaluation relies on
// that ordering and never re-sorts.
type RewardThreshold struct {
	ID            string        `json:"id"`
	AmountCents   int64         `json:"amount_cents"`
	Kind          ThresholdKind `json:"kind"`
	ProductID     string        `json:"product_id,omitempty"`
	ProductHandle string        `json:"product_handle,omitempty"`
	Title         string        `json:"title,omitempty"`
}

// IsGift reports whether the threshold grants a gift product.
func (t RewardThreshold) IsGift() bool {
	return t.Kind == ThresholdGift
}

// GiftClaimState is per-gift-threshold, per-session decline memory. Entries
// live for the browser session only and are cleared the moment the threshold
// is no longer met or the gift is claimed.
type GiftClaimState struct {
	Declined bool `json:"declined"`
}

// RewardPhase is the reward controller's state for one gift threshold.
type RewardPhase string

const (
	RewardLocked       RewardPhase = "locked"
	RewardReadyToClaim RewardPhase = "ready_to_claim"
	RewardClaimed      RewardPhase = "claimed"
)
