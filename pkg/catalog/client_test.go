package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productsPayload = `[
	{
		"id": 11,
		"title": "Ceramic Mug",
		"image": "https://cdn.example.com/mug.jpg",
		"price": 1200,
		"variants": [
			{"id": 111, "title": "White", "price": 1200, "available": false},
			{"id": 112, "title": "Black", "price": 1200, "available": true}
		]
	},
	{
		"id": 22,
		"title": "No Variants Product",
		"price": 900,
		"variants": []
	}
]`

func TestSearchByKeyword_DropsUnpurchasable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/search", r.URL.Path)
		assert.Equal(t, "mug", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(productsPayload))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	found, err := c.SearchByKeyword(context.Background(), "mug", 5)
	require.NoError(t, err)

	// The variant-less product is dropped, not surfaced as an error.
	require.Len(t, found, 1)
	cand := found[0]
	assert.Equal(t, "11", cand.ProductID)
	assert.Equal(t, "112", cand.VariantID, "first available variant wins")
	assert.Equal(t, int64(1200), cand.PriceCents)
}

func TestGetByID_NotFoundIsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	cand, err := c.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, cand)
}

func TestGetByPriceRange_QueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3000", r.URL.Query().Get("min_price"))
		assert.Equal(t, "10000", r.URL.Query().Get("max_price"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	found, err := c.GetByPriceRange(context.Background(), 3000, 10000, 4)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestGetPopular_DecodesStringPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/popular", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"id": 33, "title": "Grinder", "price": "45.00", "variants": [{"id": 331, "available": true}]}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	found, err := c.GetPopular(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, int64(4500), found[0].PriceCents)
}
