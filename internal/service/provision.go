package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// AccountProvisioner delegates first-time account creation to the main
// application. It never writes to the local store itself; a non-2xx response
// or transport error is fatal for the enclosing event so the provider
// redelivers, because a paid signup must not silently fail to provision.
type AccountProvisioner struct {
	client   *http.Client
	endpoint string
	token    string
}

// NewAccountProvisioner creates an AccountProvisioner targeting the main
// application's create-account endpoint. token, when set, is sent as a bearer
// token.
func NewAccountProvisioner(endpoint, token string) *AccountProvisioner {
	return &AccountProvisioner{
		client:   &http.Client{Timeout: 15 * time.Second},
		endpoint: endpoint,
		token:    token,
	}
}

type provisionRequest struct {
	CustomerEmail        string `json:"customer_email"`
	CustomerName         string `json:"customer_name"`
	StripeCustomerID     string `json:"stripe_customer_id"`
	StripeSubscriptionID string `json:"stripe_subscription_id"`
	StripePriceID        string `json:"stripe_price_id"`
}

type provisionResponse struct {
	TenantID int64  `json:"tenant_id"`
	UserID   string `json:"user_id"`
}

// ProvisionFromCheckout creates Tenant+User+Subscription in the main
// application for a customer who completed checkout with no internal identity.
func (p *AccountProvisioner) ProvisionFromCheckout(ctx context.Context, email, name, customerID, subscriptionID, priceID string) error {
	body, err := json.Marshal(provisionRequest{
		CustomerEmail:        email,
		CustomerName:         name,
		StripeCustomerID:     customerID,
		StripeSubscriptionID: subscriptionID,
		StripePriceID:        priceID,
	})
	if err != nil {
		return fmt.Errorf("failed to encode provision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build provision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("provision call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("provision endpoint returned %d: %s", resp.StatusCode, msg)
	}

	var result provisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode provision response: %w", err)
	}

	log.Printf("[provision] account created for %s (tenant %d, user %s)", email, result.TenantID, result.UserID)
	return nil
}
