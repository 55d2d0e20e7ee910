package recommend

import (
	"context"
	"sort"
	"time"

	"github.com/shopglide/cartcore/internal/model"
)

// Strategy scores. Manual selections and override-rule matches outrank
// automatic complements, which outrank the price and seasonal heuristics.
const (
	scoreManual     = 0.95
	scoreOverride   = 0.95
	scoreComplement = 0.85
	scorePriceBand  = 0.40
	scoreSeasonal   = 0.30
	scorePopularity = 0.20
)

// defaultConfidenceFloor filters frequently-bought pairs with weak history.
const defaultConfidenceFloor = 0.25

// seasonalKeywords maps each month to a search keyword for the seasonal
// boost strategy.
var seasonalKeywords = map[time.Month]string{
	time.January:   "new year essentials",
	time.February:  "valentine gift",
	time.March:     "spring refresh",
	time.April:     "spring outdoor",
	time.May:       "mothers day gift",
	time.June:      "summer essentials",
	time.July:      "summer sale",
	time.August:    "back to school",
	time.September: "fall essentials",
	time.October:   "halloween",
	time.November:  "holiday gift",
	time.December:  "holiday gift",
}

// complementKeywords matches each cart line's title and product type against
// the rule set and returns the complementary search keywords, override
// matches first. The score for each keyword reflects which table matched.
type scoredKeyword struct {
	keyword string
	score   float64
}

func complementKeywords(cart *model.CartSnapshot, rules *model.RuleSet) []scoredKeyword {
	if cart == nil || rules == nil {
		return nil
	}

	seen := make(map[string]bool)
	var out []scoredKeyword
	add := func(keywords []string, score float64) {
		for _, kw := range keywords {
			if kw == "" || seen[kw] {
				continue
			}
			seen[kw] = true
			out = append(out, scoredKeyword{keyword: kw, score: score})
		}
	}

	for _, li := range cart.Items {
		if li.IsGift {
			continue
		}
		text := li.Title + " " + li.ProductType
		for i := range rules.Overrides {
			if rules.Overrides[i].Match(text) {
				add(rules.Overrides[i].Keywords, scoreOverride)
			}
		}
		for i := range rules.Automatic {
			if rules.Automatic[i].Match(text) {
				add(rules.Automatic[i].Keywords, scoreComplement)
			}
		}
	}
	return out
}

// priceWindow picks a target price band from the cart value tier. Higher
// cart values target higher-priced candidates.
func priceWindow(totalCents int64) (minCents, maxCents int64) {
	switch {
	case totalCents < 2500:
		return 500, 2500
	case totalCents < 7500:
		return 1500, 5000
	case totalCents < 15000:
		return 3000, 10000
	default:
		return 5000, 20000
	}
}

func (e *Engine) runComplement(ctx context.Context, cart *model.CartSnapshot, rules *model.RuleSet) ([]model.Candidate, error) {
	keywords := complementKeywords(cart, rules)
	var out []model.Candidate
	for _, sk := range keywords {
		found, err := e.catalog.SearchByKeyword(ctx, sk.keyword, e.searchLimit)
		if err != nil {
			return out, err
		}
		for _, c := range found {
			c.Score = sk.score
			c.Reason = model.ReasonComplement
			out = append(out, c)
		}
	}
	return out, nil
}

func (e *Engine) runFrequentlyBought(ctx context.Context, cart *model.CartSnapshot) ([]model.Candidate, error) {
	if e.pairs == nil {
		return nil, nil
	}
	var out []model.Candidate
	for _, li := range cart.Items {
		if li.IsGift {
			continue
		}
		paired, err := e.pairs.PairedWith(ctx, li.ProductID, e.confidenceFloor)
		if err != nil {
			return out, err
		}
		// Highest-confidence pairs first so dedupe keeps the strongest.
		sort.SliceStable(paired, func(i, j int) bool { return paired[i].Confidence > paired[j].Confidence })
		for _, p := range paired {
			c, err := e.catalog.GetByID(ctx, p.ProductID)
			if err != nil {
				return out, err
			}
			if c == nil {
				continue
			}
			cand := *c
			cand.Score = p.Confidence
			cand.Reason = model.ReasonFrequentlyBought
			out = append(out, cand)
		}
	}
	return out, nil
}

func (e *Engine) runPriceBand(ctx context.Context, cart *model.CartSnapshot) ([]model.Candidate, error) {
	minCents, maxCents := priceWindow(cart.TotalCents)
	found, err := e.catalog.GetByPriceRange(ctx, minCents, maxCents, e.searchLimit)
	if err != nil {
		return nil, err
	}
	out := make([]model.Candidate, 0, len(found))
	for _, c := range found {
		c.Score = scorePriceBand
		c.Reason = model.ReasonPriceIntelligence
		out = append(out, c)
	}
	return out, nil
}

func (e *Engine) runSeasonal(ctx context.Context) ([]model.Candidate, error) {
	keyword := seasonalKeywords[e.now().Month()]
	found, err := e.catalog.SearchByKeyword(ctx, keyword, e.searchLimit)
	if err != nil {
		return nil, err
	}
	out := make([]model.Candidate, 0, len(found))
	for _, c := range found {
		c.Score = scoreSeasonal
		c.Reason = model.ReasonSeasonal
		out = append(out, c)
	}
	return out, nil
}
