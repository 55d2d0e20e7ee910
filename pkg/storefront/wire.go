package storefront

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/shopglide/cartcore/internal/model"
	"github.com/shopglide/cartcore/internal/money"
)

// Line item property keys that carry provenance and gift metadata through
// the cart API. The underscore prefix hides them from themes that render
// visible properties.
const (
	propManualQty      = "_manual_qty"
	propRecommendedQty = "_recommended_qty"
	propBundleQty      = "_bundle_qty"
	propIsGift         = "_is_gift"
	propGiftTitle      = "_gift_title"
)

type wireCart struct {
	Items      []wireLine        `json:"items"`
	TotalPrice any               `json:"total_price"`
	Currency   string            `json:"currency"`
	Attributes map[string]string `json:"attributes"`
}

type wireLine struct {
	Key         string            `json:"key"`
	VariantID   json.Number       `json:"id"`
	ProductID   json.Number       `json:"product_id"`
	Title       string            `json:"title"`
	ProductType string            `json:"product_type"`
	Quantity    int               `json:"quantity"`
	Price       any               `json:"price"`
	Properties  map[string]string `json:"properties"`
}

type wireAddItem struct {
	ID         string            `json:"id"`
	Quantity   int               `json:"quantity"`
	Properties map[string]string `json:"properties,omitempty"`
}

func decodeCart(body []byte) (*model.CartSnapshot, error) {
	var wc wireCart
	if err := json.Unmarshal(body, &wc); err != nil {
		return nil, eris.Wrap(err, "storefront: unmarshal cart")
	}

	snap := &model.CartSnapshot{
		TotalCents: decodePrice(wc.TotalPrice),
		Currency:   wc.Currency,
		Attributes: wc.Attributes,
		FetchedAt:  time.Now(),
	}
	for _, wl := range wc.Items {
		if wl.VariantID.String() == "" {
			continue
		}
		snap.Items = append(snap.Items, decodeLine(wl))
	}
	return snap, nil
}

func decodeLine(wl wireLine) model.LineItem {
	li := model.LineItem{
		Key:            wl.Key,
		VariantID:      wl.VariantID.String(),
		ProductID:      wl.ProductID.String(),
		Title:          wl.Title,
		ProductType:    wl.ProductType,
		Quantity:       wl.Quantity,
		UnitPriceCents: decodePrice(wl.Price),
		Properties:     wl.Properties,
	}

	props := wl.Properties
	if props == nil {
		return li
	}
	li.IsGift = props[propIsGift] == "true"

	manual, okM := atoiProp(props, propManualQty)
	recommended, okR := atoiProp(props, propRecommendedQty)
	bundle, okB := atoiProp(props, propBundleQty)
	if okM || okR || okB {
		li.Tracked = true
		li.Counts = model.ProvenanceCounts{Manual: manual, Recommended: recommended, Bundle: bundle}
	}
	return li
}

func atoiProp(props map[string]string, key string) (int, bool) {
	raw, ok := props[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func encodeLineInput(in model.LineInput) wireAddItem {
	props := make(map[string]string, len(in.Properties)+5)
	for k, v := range in.Properties {
		props[k] = v
	}
	if in.Tracked {
		props[propManualQty] = strconv.Itoa(in.Counts.Manual)
		props[propRecommendedQty] = strconv.Itoa(in.Counts.Recommended)
		props[propBundleQty] = strconv.Itoa(in.Counts.Bundle)
	}
	if in.IsGift {
		props[propIsGift] = "true"
		if in.GiftTitle != "" {
			props[propGiftTitle] = in.GiftTitle
		}
	}
	if len(props) == 0 {
		props = nil
	}
	return wireAddItem{
		ID:         in.VariantID,
		Quantity:   in.Quantity,
		Properties: props,
	}
}

// decodePrice normalizes whatever shape the cart API uses for a price
// field. Some theme proxies rewrite integer cents into formatted strings.
func decodePrice(v any) int64 {
	switch x := v.(type) {
	case json.Number:
		return money.NormalizeToCents(x.String())
	case fmt.Stringer:
		return money.NormalizeToCents(x.String())
	default:
		return money.NormalizeToCents(v)
	}
}
