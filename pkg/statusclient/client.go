// Package statusclient is the consumer half of the billing core: a thin HTTP
// façade over the billing API plus a cached, deduplicated, failure-tolerant
// subscription-status read for UI code.
package statusclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Default timeouts per call type. Status checks are on the UI hot path and
// get a tighter budget than checkout-session creation.
const (
	DefaultStatusTimeout   = 10 * time.Second
	DefaultCheckoutTimeout = 15 * time.Second
)

// Status is the point-in-time subscription projection held by the cache.
// Replaced wholesale on every successful fetch, never partially mutated.
type Status struct {
	Subscribed bool
	PlanID     string
	PeriodEnd  *time.Time
	FetchedAt  time.Time
	// Degraded marks the conservative fallback used when billing could not
	// be reached in time.
	Degraded bool
}

// Client calls the billing API on behalf of UI consumers.
type Client struct {
	baseURL         string
	token           string
	http            *http.Client
	checkoutTimeout time.Duration
}

// NewClient creates a Client for the given API base URL. token is the bearer
// token of the current session.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:         strings.TrimSuffix(baseURL, "/"),
		token:           token,
		http:            &http.Client{},
		checkoutTimeout: DefaultCheckoutTimeout,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("statusclient: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("statusclient: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("statusclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("statusclient: %s %s returned %d: %s", method, path, resp.StatusCode, msg)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("statusclient: decode response: %w", err)
		}
	}
	return nil
}

// FetchStatus performs one uncached status query. Most callers should go
// through Cache instead.
func (c *Client) FetchStatus(ctx context.Context) (Status, error) {
	var resp struct {
		Subscribed       bool       `json:"subscribed"`
		SubscriptionTier *string    `json:"subscription_tier"`
		SubscriptionEnd  *time.Time `json:"subscription_end"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/billing/subscription", nil, &resp); err != nil {
		return Status{}, err
	}
	status := Status{
		Subscribed: resp.Subscribed,
		PeriodEnd:  resp.SubscriptionEnd,
	}
	if resp.SubscriptionTier != nil {
		status.PlanID = *resp.SubscriptionTier
	}
	return status, nil
}

// CreateCheckout requests a hosted checkout URL for the given price.
func (c *Client) CreateCheckout(ctx context.Context, priceID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.checkoutTimeout)
	defer cancel()

	var resp struct {
		URL string `json:"url"`
	}
	err := c.do(ctx, http.MethodPost, "/api/billing/checkout", map[string]string{"priceId": priceID}, &resp)
	if err != nil {
		return "", err
	}
	return resp.URL, nil
}

// OpenPortal requests a hosted billing-portal URL.
func (c *Client) OpenPortal(ctx context.Context, returnURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.checkoutTimeout)
	defer cancel()

	body := map[string]string{}
	if returnURL != "" {
		body["return_url"] = returnURL
	}
	var resp struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/billing/portal", body, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}
