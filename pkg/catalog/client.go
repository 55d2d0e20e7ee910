// Package catalog provides a client for the product catalog service used to
// source recommendation candidates.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/shopglide/cartcore/internal/model"
	"github.com/shopglide/cartcore/internal/money"
	"github.com/shopglide/cartcore/internal/resilience"
)

// Client defines the catalog lookups the recommendation engine uses.
type Client interface {
	SearchByKeyword(ctx context.Context, keyword string, limit int) ([]model.Candidate, error)
	GetByID(ctx context.Context, productID string) (*model.Candidate, error)
	GetPopular(ctx context.Context, limit int) ([]model.Candidate, error)
	GetByPriceRange(ctx context.Context, minCents, maxCents int64, limit int) ([]model.Candidate, error)
}

// Option configures the catalog client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the default request rate toward the catalog.
func WithRateLimit(rps rate.Limit, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rps, burst)
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a catalog client for the given base URL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wireProduct is the catalog API's product shape.
type wireProduct struct {
	ID       json.Number `json:"id"`
	Title    string      `json:"title"`
	Image    string      `json:"image"`
	Price    any         `json:"price"`
	Variants []struct {
		ID        json.Number `json:"id"`
		Title     string      `json:"title"`
		Price     any         `json:"price"`
		Available bool        `json:"available"`
	} `json:"variants"`
}

// toCandidate converts a wire product, returning false for products that
// cannot be recommended (no purchasable variant).
func (w wireProduct) toCandidate() (model.Candidate, bool) {
	c := model.Candidate{
		ProductID:  w.ID.String(),
		Title:      w.Title,
		ImageURL:   w.Image,
		PriceCents: money.NormalizeToCents(w.Price),
	}
	for _, v := range w.Variants {
		if v.ID.String() == "" {
			continue
		}
		c.Variants = append(c.Variants, model.Variant{
			ID:         v.ID.String(),
			Title:      v.Title,
			PriceCents: money.NormalizeToCents(v.Price),
			Available:  v.Available,
		})
	}
	if len(c.Variants) > 0 {
		c.VariantID = c.FirstAvailableVariant()
		if c.PriceCents == 0 {
			c.PriceCents = c.Variants[0].PriceCents
		}
	}
	if c.ProductID == "" || c.VariantID == "" {
		return model.Candidate{}, false
	}
	return c, true
}

func (c *httpClient) get(ctx context.Context, reqURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "catalog: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: read response body")
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("catalog: status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}
	return body, nil
}

func (c *httpClient) list(ctx context.Context, reqURL string) ([]model.Candidate, error) {
	body, err := c.get(ctx, reqURL)
	if err != nil || body == nil {
		return nil, err
	}

	var products []wireProduct
	if err := json.Unmarshal(body, &products); err != nil {
		return nil, eris.Wrap(err, "catalog: unmarshal products")
	}

	out := make([]model.Candidate, 0, len(products))
	for _, p := range products {
		if cand, ok := p.toCandidate(); ok {
			out = append(out, cand)
		}
	}
	return out, nil
}

func (c *httpClient) SearchByKeyword(ctx context.Context, keyword string, limit int) ([]model.Candidate, error) {
	reqURL := fmt.Sprintf("%s/products/search?q=%s&limit=%d", c.baseURL, url.QueryEscape(keyword), limit)
	return c.list(ctx, reqURL)
}

func (c *httpClient) GetByID(ctx context.Context, productID string) (*model.Candidate, error) {
	body, err := c.get(ctx, c.baseURL+"/products/"+url.PathEscape(productID))
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	var product wireProduct
	if err := json.Unmarshal(body, &product); err != nil {
		return nil, eris.Wrap(err, "catalog: unmarshal product")
	}
	cand, ok := product.toCandidate()
	if !ok {
		return nil, nil
	}
	return &cand, nil
}

func (c *httpClient) GetPopular(ctx context.Context, limit int) ([]model.Candidate, error) {
	return c.list(ctx, fmt.Sprintf("%s/products/popular?limit=%d", c.baseURL, limit))
}

func (c *httpClient) GetByPriceRange(ctx context.Context, minCents, maxCents int64, limit int) ([]model.Candidate, error) {
	reqURL := fmt.Sprintf("%s/products/search?min_price=%s&max_price=%s&limit=%d",
		c.baseURL,
		strconv.FormatInt(minCents, 10),
		strconv.FormatInt(maxCents, 10),
		limit,
	)
	return c.list(ctx, reqURL)
}
