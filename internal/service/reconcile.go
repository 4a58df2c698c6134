package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pagelift/billing/internal/domain"
	"github.com/pagelift/billing/pkg/billing"
)

// TenantStore is the slice of the tenant repository the reconciler needs.
type TenantStore interface {
	FindByID(ctx context.Context, id int64) (*domain.Tenant, error)
	FindByCustomerID(ctx context.Context, customerID string) (*domain.Tenant, error)
	FindByUserID(ctx context.Context, userID string) (*domain.Tenant, error)
	SetCustomerID(ctx context.Context, tenantID int64, customerID string) error
}

// SubscriptionStore is the slice of the subscription repository the
// reconciler needs.
type SubscriptionStore interface {
	Upsert(ctx context.Context, sub *domain.Subscription) (bool, error)
	FindByStripeID(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error)
	UpdateStatusIfNewer(ctx context.Context, stripeSubscriptionID string, status domain.SubscriptionStatus, eventTS time.Time) (bool, error)
}

// EventLog records webhook deliveries for idempotency and failure visibility.
type EventLog interface {
	Begin(ctx context.Context, eventID, eventType string) (alreadyProcessed bool, err error)
	Succeed(ctx context.Context, eventID string) error
	Fail(ctx context.Context, eventID string, procErr error) error
}

// Provisioner creates Tenant+User+Subscription in the main application for
// first-time customers.
type Provisioner interface {
	ProvisionFromCheckout(ctx context.Context, email, name, customerID, subscriptionID, priceID string) error
}

// StatusNotifier is told about every applied subscription change so connected
// clients can drop their caches.
type StatusNotifier interface {
	NotifyStatus(tenantID int64, status domain.SubscriptionStatus, priceID string)
}

// SubscriptionFetcher re-fetches the full subscription object when an event
// carries only a pointer.
type SubscriptionFetcher interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*billing.SubscriptionSnapshot, error)
}

// ReconcileService applies verified billing events to the local store. Every
// handler is idempotent: replaying a delivery re-applies the same snapshot.
// Any returned error means the caller must answer 500 so the provider
// redelivers.
type ReconcileService struct {
	tenants     TenantStore
	subs        SubscriptionStore
	events      EventLog
	fetcher     SubscriptionFetcher
	provisioner Provisioner
	notifier    StatusNotifier
}

// NewReconcileService creates a ReconcileService. notifier may be nil.
func NewReconcileService(
	tenants TenantStore,
	subs SubscriptionStore,
	events EventLog,
	fetcher SubscriptionFetcher,
	provisioner Provisioner,
	notifier StatusNotifier,
) *ReconcileService {
	return &ReconcileService{
		tenants:     tenants,
		subs:        subs,
		events:      events,
		fetcher:     fetcher,
		provisioner: provisioner,
		notifier:    notifier,
	}
}

// HandleEvent routes a verified event to its handler.
func (s *ReconcileService) HandleEvent(ctx context.Context, ev *billing.Event) error {
	alreadyProcessed, err := s.events.Begin(ctx, ev.ID, string(ev.Type))
	if err != nil {
		return err
	}
	if alreadyProcessed {
		log.Printf("[reconcile] duplicate delivery of %s (%s), acknowledging", ev.ID, ev.Type)
		return nil
	}

	if err := s.dispatch(ctx, ev); err != nil {
		if logErr := s.events.Fail(ctx, ev.ID, err); logErr != nil {
			log.Printf("[reconcile] could not record failure for %s: %v", ev.ID, logErr)
		}
		return fmt.Errorf("event %s (%s): %w", ev.ID, ev.Type, err)
	}
	return s.events.Succeed(ctx, ev.ID)
}

func (s *ReconcileService) dispatch(ctx context.Context, ev *billing.Event) error {
	switch ev.Type {
	case billing.EventCheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, ev)
	case billing.EventSubscriptionCreated,
		billing.EventSubscriptionUpdated,
		billing.EventSubscriptionResumed,
		billing.EventSubscriptionTrialWillEnd:
		return s.handleSubscriptionLifecycle(ctx, ev)
	case billing.EventSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, ev)
	case billing.EventInvoicePaymentSucceeded:
		return s.handlePaymentSucceeded(ctx, ev)
	case billing.EventInvoicePaymentFailed:
		return s.handlePaymentFailed(ctx, ev)
	default:
		// Unknown event types must not fail the webhook.
		log.Printf("[reconcile] ignoring event type %s (%s)", ev.Type, ev.ID)
		return nil
	}
}

func (s *ReconcileService) handleCheckoutCompleted(ctx context.Context, ev *billing.Event) error {
	cs, err := ev.CheckoutSession()
	if err != nil {
		return err
	}
	if cs.Mode != "subscription" {
		log.Printf("[reconcile] ignoring %s checkout session %s", cs.Mode, cs.ID)
		return nil
	}

	// The checkout payload carries only a subscription pointer; fetch the
	// object for its price and period fields.
	snap, err := s.fetcher.GetSubscription(ctx, cs.SubscriptionID)
	if err != nil {
		return err
	}

	if cs.ClientReferenceID == "" {
		// New customer with no internal identity yet. The main application
		// creates tenant, user and subscription; nothing is written locally.
		return s.provisioner.ProvisionFromCheckout(ctx,
			cs.CustomerDetails.Email, cs.CustomerDetails.Name,
			cs.CustomerID, cs.SubscriptionID, snap.PriceID)
	}

	tenant, err := s.tenants.FindByUserID(ctx, cs.ClientReferenceID)
	if err != nil {
		return err
	}
	if tenant == nil {
		return fmt.Errorf("no tenant for user %s referenced by checkout session %s", cs.ClientReferenceID, cs.ID)
	}
	return s.applySnapshot(ctx, tenant, snap, ev.Created)
}

func (s *ReconcileService) handleSubscriptionLifecycle(ctx context.Context, ev *billing.Event) error {
	snap, err := ev.Subscription()
	if err != nil {
		return err
	}
	tenant, err := s.resolveTenant(ctx, snap.CustomerID, snap.ID)
	if err != nil {
		return err
	}
	return s.applySnapshot(ctx, tenant, snap, ev.Created)
}

func (s *ReconcileService) handleSubscriptionDeleted(ctx context.Context, ev *billing.Event) error {
	snap, err := ev.Subscription()
	if err != nil {
		return err
	}
	return s.markStatus(ctx, snap.ID, domain.StatusCanceled, ev.Created)
}

func (s *ReconcileService) handlePaymentSucceeded(ctx context.Context, ev *billing.Event) error {
	inv, err := ev.Invoice()
	if err != nil {
		return err
	}
	if inv.BillingReason != billing.BillingReasonCycle {
		return nil
	}
	subID := inv.Subscription()
	if subID == "" {
		return fmt.Errorf("renewal invoice %s has no subscription reference", inv.ID)
	}

	// Periods advanced; re-fetch the subscription and apply the fresh state.
	snap, err := s.fetcher.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	tenant, err := s.resolveTenant(ctx, snap.CustomerID, snap.ID)
	if err != nil {
		return err
	}
	return s.applySnapshot(ctx, tenant, snap, ev.Created)
}

func (s *ReconcileService) handlePaymentFailed(ctx context.Context, ev *billing.Event) error {
	inv, err := ev.Invoice()
	if err != nil {
		return err
	}
	subID := inv.Subscription()
	if subID == "" {
		// One-off invoice; nothing to reconcile.
		return nil
	}
	return s.markStatus(ctx, subID, domain.StatusPastDue, ev.Created)
}

// resolveTenant maps a billing customer id to the owning tenant, falling back
// to an existing subscription row when the tenant-customer link has not been
// backfilled yet. Failing both is fatal for the event; it must never be
// silently dropped.
func (s *ReconcileService) resolveTenant(ctx context.Context, customerID, subscriptionID string) (*domain.Tenant, error) {
	if customerID != "" {
		tenant, err := s.tenants.FindByCustomerID(ctx, customerID)
		if err != nil {
			return nil, err
		}
		if tenant != nil {
			return tenant, nil
		}
	}

	existing, err := s.subs.FindByStripeID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		tenant, err := s.tenants.FindByID(ctx, existing.TenantID)
		if err != nil {
			return nil, err
		}
		if tenant != nil {
			return tenant, nil
		}
	}
	return nil, fmt.Errorf("no tenant for customer %q / subscription %q", customerID, subscriptionID)
}

// applySnapshot upserts the full subscription snapshot and completes the
// tenant-customer linkage when it is still missing.
func (s *ReconcileService) applySnapshot(ctx context.Context, tenant *domain.Tenant, snap *billing.SubscriptionSnapshot, eventTS time.Time) error {
	sub := &domain.Subscription{
		ID:                   uuid.New().String(),
		TenantID:             tenant.ID,
		StripeSubscriptionID: snap.ID,
		StripePriceID:        snap.PriceID,
		Status:               domain.SubscriptionStatus(snap.Status),
		CurrentPeriodStart:   snap.CurrentPeriodStart,
		CurrentPeriodEnd:     snap.CurrentPeriodEnd,
		CancelAtPeriodEnd:    snap.CancelAtPeriodEnd,
		EventTS:              eventTS,
	}

	applied, err := s.subs.Upsert(ctx, sub)
	if err != nil {
		return err
	}
	if !applied {
		log.Printf("[reconcile] skipped stale snapshot for %s (event ts %s)", snap.ID, eventTS)
		return nil
	}

	if tenant.StripeCustomerID == nil && snap.CustomerID != "" {
		if err := s.tenants.SetCustomerID(ctx, tenant.ID, snap.CustomerID); err != nil {
			return err
		}
	}

	if s.notifier != nil {
		s.notifier.NotifyStatus(tenant.ID, sub.Status, sub.StripePriceID)
	}
	return nil
}

// markStatus is the status-only write path (terminal deletes and failed
// payments): period and price fields stay untouched.
func (s *ReconcileService) markStatus(ctx context.Context, stripeSubscriptionID string, status domain.SubscriptionStatus, eventTS time.Time) error {
	existing, err := s.subs.FindByStripeID(ctx, stripeSubscriptionID)
	if err != nil {
		return err
	}
	if existing == nil {
		// Retry until the row exists; the creating event may still be in flight.
		return fmt.Errorf("no local subscription %q to mark %s", stripeSubscriptionID, status)
	}

	updated, err := s.subs.UpdateStatusIfNewer(ctx, stripeSubscriptionID, status, eventTS)
	if err != nil {
		return err
	}
	if !updated {
		log.Printf("[reconcile] skipped stale status %s for %s (event ts %s)", status, stripeSubscriptionID, eventTS)
		return nil
	}

	if s.notifier != nil {
		s.notifier.NotifyStatus(existing.TenantID, status, existing.StripePriceID)
	}
	return nil
}
