// Package threshold evaluates cart totals against configured reward
// thresholds. Evaluate is a pure function with no memory; callers invoke it
// fresh on every cart mutation.
package threshold

import "github.com/shopglide/cartcore/internal/model"

// Result is the outcome of one evaluation pass.
type Result struct {
	// Unlocked holds the ids of achieved thresholds. A gift threshold is
	// achieved only when the total meets it AND its product is claimed;
	// met-but-unclaimed is ready-to-claim, a distinct state.
	Unlocked map[string]bool `json:"unlocked"`

	// ReadyToClaim holds gift threshold ids that are met but not claimed.
	ReadyToClaim map[string]bool `json:"ready_to_claim"`

	// Next is the first threshold not yet achieved; nil when all are.
	Next *model.RewardThreshold `json:"next,omitempty"`

	// RemainingCents is the spend still needed to achieve Next; 0 when all
	// thresholds are achieved.
	RemainingCents int64 `json:"remaining_cents"`
}

// Achieved reports whether the threshold with the given id is unlocked.
func (r Result) Achieved(id string) bool {
	return r.Unlocked[id]
}

// Evaluate walks thresholds in their load-time ascending order and
// classifies each against totalCents. claimedGiftProductIDs is the set of
// gift product ids already claimed this session.
func Evaluate(totalCents int64, thresholds []model.RewardThreshold, claimedGiftProductIDs map[string]bool) Result {
	res := Result{
		Unlocked:     make(map[string]bool),
		ReadyToClaim: make(map[string]bool),
	}

	for i := range thresholds {
		th := thresholds[i]
		met := totalCents >= th.AmountCents

		achieved := false
		switch {
		case !met:
			// Locked.
		case th.IsGift():
			if claimedGiftProductIDs[th.ProductID] {
				achieved = true
			} else {
				res.ReadyToClaim[th.ID] = true
			}
		default:
			achieved = true
		}

		if achieved {
			res.Unlocked[th.ID] = true
			continue
		}
		if res.Next == nil {
			res.Next = &thresholds[i]
			res.RemainingCents = th.AmountCents - totalCents
			if res.RemainingCents < 0 {
				res.RemainingCents = 0
			}
		}
	}

	return res
}
