// Package storefront provides a client for the storefront AJAX cart API.
// Reads are retried with backoff; cart writes are never retried because the
// remote does not guarantee idempotency.
package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/shopglide/cartcore/internal/model"
	"github.com/shopglide/cartcore/internal/resilience"
)

// Client defines the remote cart operations.
type Client interface {
	// GetCart fetches the authoritative cart state.
	GetCart(ctx context.Context) (*model.CartSnapshot, error)
	// ChangeLine sets the quantity for one cart line; quantity 0 removes it.
	ChangeLine(ctx context.Context, lineKey string, quantity int) (*model.CartSnapshot, error)
	// AddLines adds lines to the cart and returns the refreshed cart.
	AddLines(ctx context.Context, lines []model.LineInput) (*model.CartSnapshot, error)
}

// RejectionError is a remote cart rejection (invalid variant, out of
// stock). It is not transient: callers drop the offending item instead of
// retrying.
type RejectionError struct {
	StatusCode int
	Message    string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("storefront: cart rejected request (%d): %s", e.StatusCode, e.Message)
}

// Option configures the storefront client.
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

// WithRetryConfig overrides the read retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retryCfg = cfg
	}
}

type httpClient struct {
	baseURL  string
	http     *http.Client
	retryCfg resilience.RetryConfig
}

// NewClient creates a storefront cart client for the given shop base URL.
func NewClient(baseURL string, opts ...Option) Client {
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.LogRetries("storefront", "get")
	c := &httpClient{
		baseURL:  baseURL,
		retryCfg: retryCfg,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type getResult struct {
	body   []byte
	status int
}

// retryGet executes a GET with exponential backoff on transient failures.
// Only reads go through here: the cart API's writes are not idempotent.
func (c *httpClient) retryGet(ctx context.Context, url string) ([]byte, int, error) {
	res, err := resilience.DoVal(ctx, c.retryCfg, func(ctx context.Context) (getResult, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return getResult{}, eris.Wrap(err, "storefront: create request")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return getResult{}, resilience.NewTransientError(err, 0)
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return getResult{}, eris.Wrap(readErr, "storefront: read response body")
		}

		if resilience.IsTransientStatus(resp.StatusCode) {
			return getResult{}, resilience.NewTransientError(
				eris.Errorf("storefront: status %d: %s", resp.StatusCode, string(body)),
				resp.StatusCode,
			)
		}
		return getResult{body: body, status: resp.StatusCode}, nil
	})
	if err != nil {
		var te *resilience.TransientError
		if errors.As(err, &te) && te.StatusCode != 0 {
			return nil, te.StatusCode, err
		}
		return nil, 0, err
	}
	return res.body, res.status, nil
}

func (c *httpClient) post(ctx context.Context, url string, payload any) ([]byte, int, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, eris.Wrap(err, "storefront: marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, 0, eris.Wrap(err, "storefront: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, eris.Wrap(err, "storefront: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, eris.Wrap(err, "storefront: read response body")
	}
	return body, resp.StatusCode, nil
}

func (c *httpClient) GetCart(ctx context.Context) (*model.CartSnapshot, error) {
	body, statusCode, err := c.retryGet(ctx, c.baseURL+"/cart.js")
	if err != nil {
		return nil, eris.Wrap(err, "storefront: get cart")
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("storefront: get cart status %d: %s", statusCode, string(body))
	}
	return decodeCart(body)
}

func (c *httpClient) ChangeLine(ctx context.Context, lineKey string, quantity int) (*model.CartSnapshot, error) {
	payload := map[string]any{"id": lineKey, "quantity": quantity}
	body, statusCode, err := c.post(ctx, c.baseURL+"/cart/change.js", payload)
	if err != nil {
		return nil, eris.Wrap(err, "storefront: change line")
	}
	if statusCode >= 400 && statusCode < 500 {
		return nil, &RejectionError{StatusCode: statusCode, Message: string(body)}
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("storefront: change line status %d: %s", statusCode, string(body))
	}
	return decodeCart(body)
}

func (c *httpClient) AddLines(ctx context.Context, lines []model.LineInput) (*model.CartSnapshot, error) {
	items := make([]wireAddItem, 0, len(lines))
	for _, in := range lines {
		items = append(items, encodeLineInput(in))
	}
	body, statusCode, err := c.post(ctx, c.baseURL+"/cart/add.js", map[string]any{"items": items})
	if err != nil {
		return nil, eris.Wrap(err, "storefront: add lines")
	}
	if statusCode >= 400 && statusCode < 500 {
		return nil, &RejectionError{StatusCode: statusCode, Message: string(body)}
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("storefront: add lines status %d: %s", statusCode, string(body))
	}

	// add.js returns only the added lines; the authoritative cart comes
	// from a follow-up read.
	return c.GetCart(ctx)
}
