package service

import (
	"context"

	"github.com/pagelift/billing/internal/domain"
	"github.com/pagelift/billing/pkg/billing"
)

// StatusStore is the read path the status query needs.
type StatusStore interface {
	CurrentForTenant(ctx context.Context, tenantID int64) (*domain.Subscription, error)
}

// SessionIssuer creates hosted checkout and portal sessions.
type SessionIssuer interface {
	CreateCheckoutSession(ctx context.Context, params billing.CheckoutParams) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// SubscriptionService serves the client-facing half: the status query and
// checkout/portal session issuance.
type SubscriptionService struct {
	subs     StatusStore
	tenants  TenantStore
	sessions SessionIssuer
	siteURL  string
}

// NewSubscriptionService creates a SubscriptionService. siteURL is the base
// for checkout success/cancel redirects.
func NewSubscriptionService(subs StatusStore, tenants TenantStore, sessions SessionIssuer, siteURL string) *SubscriptionService {
	return &SubscriptionService{
		subs:     subs,
		tenants:  tenants,
		sessions: sessions,
		siteURL:  siteURL,
	}
}

// Check returns the tenant's current subscription status.
func (s *SubscriptionService) Check(ctx context.Context, tenantID int64) (*domain.CheckSubscriptionResponse, error) {
	sub, err := s.subs.CurrentForTenant(ctx, tenantID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load subscription", err)
	}
	if sub == nil || !sub.Status.Grants() {
		return &domain.CheckSubscriptionResponse{Subscribed: false}, nil
	}

	tier := sub.StripePriceID
	if plan := domain.PlanByPriceID(sub.StripePriceID); plan != nil {
		tier = plan.ID
	}
	end := sub.CurrentPeriodEnd
	return &domain.CheckSubscriptionResponse{
		Subscribed:       true,
		SubscriptionTier: &tier,
		SubscriptionEnd:  &end,
	}, nil
}

// CreateCheckout creates a hosted checkout session for the given price.
func (s *SubscriptionService) CreateCheckout(ctx context.Context, tenantID int64, userID, priceID string) (string, error) {
	if domain.PlanByPriceID(priceID) == nil {
		return "", domain.ErrBadRequest("unknown price id")
	}

	tenant, err := s.tenants.FindByID(ctx, tenantID)
	if err != nil {
		return "", domain.ErrInternal("failed to load tenant", err)
	}
	if tenant == nil {
		return "", domain.ErrNotFound("tenant not found")
	}

	params := billing.CheckoutParams{
		PriceID:           priceID,
		ClientReferenceID: userID,
		SuccessURL:        s.siteURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:         s.siteURL + "/pricing",
	}
	if tenant.StripeCustomerID != nil {
		params.CustomerID = *tenant.StripeCustomerID
	}

	url, err := s.sessions.CreateCheckoutSession(ctx, params)
	if err != nil {
		return "", domain.ErrInternal("failed to create checkout session", err)
	}
	return url, nil
}

// CreatePortal creates a hosted billing-portal session. The tenant must
// already be linked to a billing customer.
func (s *SubscriptionService) CreatePortal(ctx context.Context, tenantID int64, returnURL string) (string, error) {
	tenant, err := s.tenants.FindByID(ctx, tenantID)
	if err != nil {
		return "", domain.ErrInternal("failed to load tenant", err)
	}
	if tenant == nil {
		return "", domain.ErrNotFound("tenant not found")
	}
	if tenant.StripeCustomerID == nil {
		return "", domain.ErrBadRequest("tenant has no billing account yet")
	}
	if returnURL == "" {
		returnURL = s.siteURL + "/account"
	}

	url, err := s.sessions.CreatePortalSession(ctx, *tenant.StripeCustomerID, returnURL)
	if err != nil {
		return "", domain.ErrInternal("failed to create portal session", err)
	}
	return url, nil
}
