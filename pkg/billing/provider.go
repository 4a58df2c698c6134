package billing

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidSignature is returned by VerifyEvent when the webhook payload
// cannot be authenticated. Callers must answer 400 and stop processing.
var ErrInvalidSignature = errors.New("billing: invalid webhook signature")

// SubscriptionSnapshot is a provider-agnostic view of a subscription object,
// either embedded in a webhook event or re-fetched from the provider API.
type SubscriptionSnapshot struct {
	ID                 string
	CustomerID         string
	PriceID            string
	Status             string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
}

// CheckoutParams describe a checkout session to create.
type CheckoutParams struct {
	PriceID           string
	CustomerID        string // optional; empty for first-time customers
	ClientReferenceID string // internal user id, echoed back in the webhook
	SuccessURL        string
	CancelURL         string
}

// Provider is the boundary to the billing provider: webhook authentication,
// object re-fetch, and hosted session creation.
type Provider interface {
	// VerifyEvent authenticates a raw webhook body against the shared secret
	// and returns the parsed event. Returns ErrInvalidSignature (possibly
	// wrapped) on forgeries.
	VerifyEvent(payload []byte, signature string) (*Event, error)
	// GetSubscription fetches the current subscription object from the
	// provider. Webhook events sometimes carry only a pointer.
	GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionSnapshot, error)
	// CreateCheckoutSession returns a hosted checkout URL.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error)
	// CreatePortalSession returns a hosted billing-portal URL.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}
