package model

// Reason tags the strategy that produced a recommendation candidate.
type Reason string

const (
	ReasonManualSelection   Reason = "manual-selection"
	ReasonComplement        Reason = "ai-complement"
	ReasonFrequentlyBought  Reason = "frequently-bought"
	ReasonPriceIntelligence Reason = "price-intelligence"
	ReasonSeasonal          Reason = "seasonal"
	ReasonPopularity        Reason = "popularity-fallback"
)

// Variant is one purchasable variant of a candidate product.
type Variant struct {
	ID         string `json:"id"`
	Title      string `json:"title,omitempty"`
	PriceCents int64  `json:"price_cents"`
	Available  bool   `json:"available"`
}

// Candidate is one product eligible to be recommended. Candidates are
// immutable once scored; re-scoring means recomputing the whole master
// list, never patching a single candidate in place.
type Candidate struct {
	ProductID  string    `json:"product_id"`
	VariantID  string    `json:"variant_id"`
	Title      string    `json:"title"`
	PriceCents int64     `json:"price_cents"`
	ImageURL   string    `json:"image_url,omitempty"`
	Variants   []Variant `json:"variants,omitempty"`
	Score      float64   `json:"score"`
	Reason     Reason    `json:"reason"`
}

// FirstAvailableVariant returns the id of the first available variant,
// falling back to VariantID when none is marked available.
func (c Candidate) FirstAvailableVariant() string {
	for _, v := range c.Variants {
		if v.Available {
			return v.ID
		}
	}
	return c.VariantID
}
