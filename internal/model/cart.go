package model

import "time"

// Provenance identifies the originating cause of a line item's quantity.
type Provenance string

const (
	ProvenanceManual      Provenance = "manual"
	ProvenanceRecommended Provenance = "recommended"
	ProvenanceBundle      Provenance = "bundle"
)

// ProvenanceCounts splits a line's quantity by origin. The invariant
// Manual+Recommended+Bundle == LineItem.Quantity holds whenever the line
// carries tracking; untracked lines are treated as fully manual.
type ProvenanceCounts struct {
	Manual      int `json:"manual_qty"`
	Recommended int `json:"recommended_qty"`
	Bundle      int `json:"bundle_qty"`
}

// Total returns the sum of all provenance buckets.
func (p ProvenanceCounts) Total() int {
	return p.Manual + p.Recommended + p.Bundle
}

// Add returns a copy with qty added to the bucket for prov. Unknown
// provenance values count as manual.
func (p ProvenanceCounts) Add(prov Provenance, qty int) ProvenanceCounts {
	switch prov {
	case ProvenanceRecommended:
		p.Recommended += qty
	case ProvenanceBundle:
		p.Bundle += qty
	default:
		p.Manual += qty
	}
	return p
}

// Merge returns the bucket-wise sum of two counts.
func (p ProvenanceCounts) Merge(other ProvenanceCounts) ProvenanceCounts {
	p.Manual += other.Manual
	p.Recommended += other.Recommended
	p.Bundle += other.Bundle
	return p
}

// LineItem is one cart line as reported by the remote cart service.
type LineItem struct {
	Key            string            `json:"key"`
	VariantID      string            `json:"variant_id"`
	ProductID      string            `json:"product_id"`
	Title          string            `json:"title"`
	ProductType    string            `json:"product_type,omitempty"`
	Quantity       int               `json:"quantity"`
	UnitPriceCents int64             `json:"unit_price_cents"`
	IsGift         bool              `json:"is_gift,omitempty"`
	Tracked        bool              `json:"tracked"`
	Counts         ProvenanceCounts  `json:"counts"`
	Properties     map[string]string `json:"properties,omitempty"`
}

// EffectiveCounts returns the line's provenance buckets, attributing the
// whole quantity to manual when the line carries no tracking.
func (li LineItem) EffectiveCounts() ProvenanceCounts {
	if li.Tracked {
		return li.Counts
	}
	return ProvenanceCounts{Manual: li.Quantity}
}

// LineTotalCents returns quantity times unit price.
func (li LineItem) LineTotalCents() int64 {
	return int64(li.Quantity) * li.UnitPriceCents
}

// LineInput describes one line to add to the remote cart.
type LineInput struct {
	VariantID  string            `json:"variant_id"`
	Quantity   int               `json:"quantity"`
	Tracked    bool              `json:"tracked"`
	Counts     ProvenanceCounts  `json:"counts"`
	IsGift     bool              `json:"is_gift,omitempty"`
	GiftTitle  string            `json:"gift_title,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// CartSnapshot is the authoritative cart at a point in time. It is owned by
// the cart store and replaced wholesale on every successful remote read,
// never mutated in place.
type CartSnapshot struct {
	Items      []LineItem        `json:"items"`
	TotalCents int64             `json:"total_cents"`
	Currency   string            `json:"currency"`
	Attributes map[string]string `json:"attributes,omitempty"`
	FetchedAt  time.Time         `json:"fetched_at"`
}

// IsEmpty reports whether the cart has no lines.
func (c *CartSnapshot) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// FindVariant returns the first non-gift line for the given variant id, or
// nil if absent.
func (c *CartSnapshot) FindVariant(variantID string) *LineItem {
	if c == nil {
		return nil
	}
	for i := range c.Items {
		if c.Items[i].VariantID == variantID && !c.Items[i].IsGift {
			return &c.Items[i]
		}
	}
	return nil
}

// GiftLines returns every gift-marked line for the given product id.
func (c *CartSnapshot) GiftLines(productID string) []LineItem {
	if c == nil {
		return nil
	}
	var out []LineItem
	for _, li := range c.Items {
		if li.IsGift && li.ProductID == productID {
			out = append(out, li)
		}
	}
	return out
}

// ProductIDSet returns the set of product ids present in the cart,
// excluding gift lines.
func (c *CartSnapshot) ProductIDSet() map[string]bool {
	set := make(map[string]bool)
	if c == nil {
		return set
	}
	for _, li := range c.Items {
		if !li.IsGift {
			set[li.ProductID] = true
		}
	}
	return set
}
