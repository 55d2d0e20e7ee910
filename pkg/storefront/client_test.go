package storefront

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopglide/cartcore/internal/model"
	"github.com/shopglide/cartcore/internal/resilience"
)

const cartPayload = `{
	"items": [
		{
			"key": "line-1",
			"id": 111,
			"product_id": 11,
			"title": "Colombian Coffee Beans",
			"product_type": "Coffee",
			"quantity": 3,
			"price": 1800,
			"properties": {"_manual_qty": "2", "_recommended_qty": "1", "_bundle_qty": "0"}
		},
		{
			"key": "line-2",
			"id": 222,
			"product_id": 22,
			"title": "Free Tote",
			"quantity": 1,
			"price": 0,
			"properties": {"_is_gift": "true", "_gift_title": "Free Tote"}
		},
		{
			"key": "line-3",
			"id": 333,
			"product_id": 33,
			"title": "Mug",
			"quantity": 1,
			"price": "12.99"
		}
	],
	"total_price": 6699,
	"currency": "USD",
	"attributes": {"discount_code": "WELCOME"}
}`

func TestGetCart_DecodesWireFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cart.js", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(cartPayload))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	snap, err := c.GetCart(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(6699), snap.TotalCents)
	assert.Equal(t, "USD", snap.Currency)
	assert.Equal(t, "WELCOME", snap.Attributes["discount_code"])
	require.Len(t, snap.Items, 3)

	tracked := snap.Items[0]
	assert.Equal(t, "111", tracked.VariantID)
	assert.Equal(t, "11", tracked.ProductID)
	assert.True(t, tracked.Tracked)
	assert.Equal(t, model.ProvenanceCounts{Manual: 2, Recommended: 1}, tracked.Counts)
	assert.Equal(t, int64(1800), tracked.UnitPriceCents)

	gift := snap.Items[1]
	assert.True(t, gift.IsGift)
	assert.False(t, gift.Tracked)

	// Formatted string prices normalize to cents.
	assert.Equal(t, int64(1299), snap.Items[2].UnitPriceCents)
}

func TestGetCart_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"items": [], "total_price": 0, "currency": "USD"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetryConfig(resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
	}))
	snap, err := c.GetCart(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.IsEmpty())
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetCart_ExhaustedRetriesSurfaceError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetryConfig(resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
	}))
	_, err := c.GetCart(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestChangeLine_RejectionIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cart/change.js", r.URL.Path)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"description": "out of stock"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.ChangeLine(context.Background(), "line-1", 5)
	require.Error(t, err)

	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, http.StatusUnprocessableEntity, rej.StatusCode)
	assert.Contains(t, rej.Message, "out of stock")
}

func TestChangeLine_WritesAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.ChangeLine(context.Background(), "line-1", 2)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAddLines_EncodesProvenanceAndFollowsWithRead(t *testing.T) {
	var sawAdd atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cart/add.js":
			sawAdd.Store(true)
			var payload struct {
				Items []wireAddItem `json:"items"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			require.Len(t, payload.Items, 1)
			item := payload.Items[0]
			assert.Equal(t, "111", item.ID)
			assert.Equal(t, 3, item.Quantity)
			assert.Equal(t, "2", item.Properties["_manual_qty"])
			assert.Equal(t, "1", item.Properties["_recommended_qty"])
			assert.Equal(t, "true", item.Properties["_is_gift"])
			assert.Equal(t, "Free Tote", item.Properties["_gift_title"])
			_, _ = w.Write([]byte(`{"items": []}`))
		case "/cart.js":
			_, _ = w.Write([]byte(cartPayload))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	snap, err := c.AddLines(context.Background(), []model.LineInput{{
		VariantID: "111",
		Quantity:  3,
		Tracked:   true,
		Counts:    model.ProvenanceCounts{Manual: 2, Recommended: 1},
		IsGift:    true,
		GiftTitle: "Free Tote",
	}})
	require.NoError(t, err)
	assert.True(t, sawAdd.Load())
	assert.Len(t, snap.Items, 3)
}
