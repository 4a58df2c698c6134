package billing

import (
	"context"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeProvider implements Provider against the Stripe API.
type StripeProvider struct {
	webhookSecret string
}

// NewStripeProvider configures the Stripe SDK with the given API key and
// returns a provider that verifies webhooks with webhookSecret.
func NewStripeProvider(apiKey, webhookSecret string) *StripeProvider {
	stripe.Key = apiKey
	return &StripeProvider{webhookSecret: webhookSecret}
}

// VerifyEvent authenticates the payload against the Stripe-Signature header.
func (p *StripeProvider) VerifyEvent(payload []byte, signature string) (*Event, error) {
	if p.webhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	// Tolerate API version drift between the dashboard and the pinned SDK;
	// the payload fields we read are stable across versions.
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return &Event{
		ID:      ev.ID,
		Type:    EventType(ev.Type),
		Created: time.Unix(ev.Created, 0).UTC(),
		Raw:     ev.Data.Raw,
	}, nil
}

// GetSubscription fetches the full subscription object from Stripe.
func (p *StripeProvider) GetSubscription(_ context.Context, subscriptionID string) (*SubscriptionSnapshot, error) {
	sub, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("billing: fetch stripe subscription %s: %w", subscriptionID, err)
	}
	return fromStripeSubscription(sub), nil
}

// CreateCheckoutSession creates a subscription-mode hosted checkout session.
func (p *StripeProvider) CreateCheckoutSession(_ context.Context, params CheckoutParams) (string, error) {
	sp := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(params.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
	}
	if params.CustomerID != "" {
		sp.Customer = stripe.String(params.CustomerID)
	}
	if params.ClientReferenceID != "" {
		sp.ClientReferenceID = stripe.String(params.ClientReferenceID)
	}
	s, err := checkoutsession.New(sp)
	if err != nil {
		return "", fmt.Errorf("billing: create checkout session: %w", err)
	}
	return s.URL, nil
}

// CreatePortalSession creates a hosted billing-portal session for a customer.
func (p *StripeProvider) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	sp := &stripe.BillingPortalSessionParams{
		Customer: stripe.String(customerID),
	}
	if returnURL != "" {
		sp.ReturnURL = stripe.String(returnURL)
	}
	s, err := portalsession.New(sp)
	if err != nil {
		return "", fmt.Errorf("billing: create portal session: %w", err)
	}
	return s.URL, nil
}

func fromStripeSubscription(sub *stripe.Subscription) *SubscriptionSnapshot {
	snap := &SubscriptionSnapshot{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		snap.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			snap.PriceID = item.Price.ID
		}
		snap.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
		snap.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
	}
	return snap
}
