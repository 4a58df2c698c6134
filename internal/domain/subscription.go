package domain

import "time"

// SubscriptionStatus mirrors the billing provider's subscription state machine.
type SubscriptionStatus string

const (
	StatusActive     SubscriptionStatus = "active"
	StatusTrialing   SubscriptionStatus = "trialing"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusCanceled   SubscriptionStatus = "canceled"
	StatusUnpaid     SubscriptionStatus = "unpaid"
	StatusIncomplete SubscriptionStatus = "incomplete"
)

// Grants reports whether a subscription in this status still grants access.
func (s SubscriptionStatus) Grants() bool {
	return s == StatusActive || s == StatusTrialing
}

// Subscription is the local mirror of a Stripe subscription object. Exactly
// one row exists per Stripe subscription id; rows are never deleted, canceled
// subscriptions remain as history.
type Subscription struct {
	ID                   string             `json:"id"`
	TenantID             int64              `json:"tenantId"`
	StripeSubscriptionID string             `json:"stripeSubscriptionId"`
	StripePriceID        string             `json:"stripePriceId"`
	Status               SubscriptionStatus `json:"status"`
	CurrentPeriodStart   time.Time          `json:"currentPeriodStart"`
	CurrentPeriodEnd     time.Time          `json:"currentPeriodEnd"`
	CancelAtPeriodEnd    bool               `json:"cancelAtPeriodEnd"`
	// EventTS is the provider timestamp of the last event applied to this
	// row. Upserts carrying an older timestamp are skipped.
	EventTS   time.Time `json:"eventTs"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CheckSubscriptionResponse is the wire shape of GET /api/billing/subscription.
type CheckSubscriptionResponse struct {
	Subscribed       bool       `json:"subscribed"`
	SubscriptionTier *string    `json:"subscription_tier"`
	SubscriptionEnd  *time.Time `json:"subscription_end"`
}

// CreateCheckoutRequest is the input for POST /api/billing/checkout.
type CreateCheckoutRequest struct {
	PriceID string `json:"priceId" validate:"required"`
}

// PortalRequest is the optional input for POST /api/billing/portal.
type PortalRequest struct {
	ReturnURL string `json:"return_url"`
}

// SessionResponse carries the URL the client should redirect the user to.
type SessionResponse struct {
	URL string `json:"url"`
}
