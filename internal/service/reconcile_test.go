package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pagelift/billing/internal/domain"
	"github.com/pagelift/billing/pkg/billing"
)

// --- in-memory fakes -------------------------------------------------------

type fakeTenantStore struct {
	tenants  map[int64]*domain.Tenant
	byUser   map[string]int64
	setCalls []string
}

func newFakeTenantStore() *fakeTenantStore {
	return &fakeTenantStore{
		tenants: make(map[int64]*domain.Tenant),
		byUser:  make(map[string]int64),
	}
}

func (f *fakeTenantStore) add(id int64, customerID string) *domain.Tenant {
	t := &domain.Tenant{ID: id, Active: true}
	if customerID != "" {
		t.StripeCustomerID = &customerID
	}
	f.tenants[id] = t
	return t
}

func (f *fakeTenantStore) FindByID(_ context.Context, id int64) (*domain.Tenant, error) {
	return f.tenants[id], nil
}

func (f *fakeTenantStore) FindByCustomerID(_ context.Context, customerID string) (*domain.Tenant, error) {
	for _, t := range f.tenants {
		if t.StripeCustomerID != nil && *t.StripeCustomerID == customerID {
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeTenantStore) FindByUserID(_ context.Context, userID string) (*domain.Tenant, error) {
	if id, ok := f.byUser[userID]; ok {
		return f.tenants[id], nil
	}
	return nil, nil
}

func (f *fakeTenantStore) SetCustomerID(_ context.Context, tenantID int64, customerID string) error {
	f.setCalls = append(f.setCalls, fmt.Sprintf("%d=%s", tenantID, customerID))
	t := f.tenants[tenantID]
	if t != nil && t.StripeCustomerID == nil {
		t.StripeCustomerID = &customerID
	}
	return nil
}

// fakeSubscriptionStore mirrors the repository's conflict-key and event
// timestamp semantics.
type fakeSubscriptionStore struct {
	rows map[string]*domain.Subscription
}

func newFakeSubscriptionStore() *fakeSubscriptionStore {
	return &fakeSubscriptionStore{rows: make(map[string]*domain.Subscription)}
}

func (f *fakeSubscriptionStore) Upsert(_ context.Context, sub *domain.Subscription) (bool, error) {
	existing, ok := f.rows[sub.StripeSubscriptionID]
	if !ok {
		cp := *sub
		f.rows[sub.StripeSubscriptionID] = &cp
		return true, nil
	}
	if existing.EventTS.After(sub.EventTS) {
		return false, nil
	}
	existing.TenantID = sub.TenantID
	existing.StripePriceID = sub.StripePriceID
	existing.Status = sub.Status
	existing.CurrentPeriodStart = sub.CurrentPeriodStart
	existing.CurrentPeriodEnd = sub.CurrentPeriodEnd
	existing.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	existing.EventTS = sub.EventTS
	return true, nil
}

func (f *fakeSubscriptionStore) FindByStripeID(_ context.Context, id string) (*domain.Subscription, error) {
	return f.rows[id], nil
}

func (f *fakeSubscriptionStore) UpdateStatusIfNewer(_ context.Context, id string, status domain.SubscriptionStatus, eventTS time.Time) (bool, error) {
	existing, ok := f.rows[id]
	if !ok || existing.EventTS.After(eventTS) {
		return false, nil
	}
	existing.Status = status
	existing.EventTS = eventTS
	return true, nil
}

type fakeEventLog struct {
	processed map[string]bool
	failures  map[string]string
	begins    map[string]int
}

func newFakeEventLog() *fakeEventLog {
	return &fakeEventLog{
		processed: make(map[string]bool),
		failures:  make(map[string]string),
		begins:    make(map[string]int),
	}
}

func (f *fakeEventLog) Begin(_ context.Context, eventID, _ string) (bool, error) {
	f.begins[eventID]++
	return f.processed[eventID], nil
}

func (f *fakeEventLog) Succeed(_ context.Context, eventID string) error {
	f.processed[eventID] = true
	return nil
}

func (f *fakeEventLog) Fail(_ context.Context, eventID string, procErr error) error {
	f.failures[eventID] = procErr.Error()
	return nil
}

type fakeProvisioner struct {
	calls []string
	err   error
}

func (f *fakeProvisioner) ProvisionFromCheckout(_ context.Context, email, _, customerID, subscriptionID, priceID string) error {
	f.calls = append(f.calls, fmt.Sprintf("%s/%s/%s/%s", email, customerID, subscriptionID, priceID))
	return f.err
}

type fakeNotifier struct {
	updates []string
}

func (f *fakeNotifier) NotifyStatus(tenantID int64, status domain.SubscriptionStatus, priceID string) {
	f.updates = append(f.updates, fmt.Sprintf("%d:%s:%s", tenantID, status, priceID))
}

// --- helpers ---------------------------------------------------------------

type fixture struct {
	tenants     *fakeTenantStore
	subs        *fakeSubscriptionStore
	events      *fakeEventLog
	provider    *billing.MockProvider
	provisioner *fakeProvisioner
	notifier    *fakeNotifier
	svc         *ReconcileService
}

func newFixture() *fixture {
	f := &fixture{
		tenants:     newFakeTenantStore(),
		subs:        newFakeSubscriptionStore(),
		events:      newFakeEventLog(),
		provider:    billing.NewMockProvider(),
		provisioner: &fakeProvisioner{},
		notifier:    &fakeNotifier{},
	}
	f.svc = NewReconcileService(f.tenants, f.subs, f.events, f.provider, f.provisioner, f.notifier)
	return f
}

func subscriptionEvent(t *testing.T, id string, typ billing.EventType, created time.Time, subID, customerID, priceID, status string, periodEnd time.Time) *billing.Event {
	t.Helper()
	payload := map[string]interface{}{
		"id":                   subID,
		"customer":             customerID,
		"status":               status,
		"cancel_at_period_end": false,
		"current_period_start": periodEnd.Add(-30 * 24 * time.Hour).Unix(),
		"current_period_end":   periodEnd.Unix(),
		"items": map[string]interface{}{
			"data": []map[string]interface{}{
				{"price": map[string]string{"id": priceID}},
			},
		},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &billing.Event{ID: id, Type: typ, Created: created, Raw: raw}
}

func invoiceEvent(t *testing.T, id string, typ billing.EventType, created time.Time, subID, customerID, reason string) *billing.Event {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"id":             "in_" + id,
		"customer":       customerID,
		"subscription":   subID,
		"billing_reason": reason,
	})
	require.NoError(t, err)
	return &billing.Event{ID: id, Type: typ, Created: created, Raw: raw}
}

func checkoutEvent(t *testing.T, id string, created time.Time, subID, customerID, clientRef, email string) *billing.Event {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"id":                  "cs_" + id,
		"mode":                "subscription",
		"customer":            customerID,
		"subscription":        subID,
		"client_reference_id": clientRef,
		"customer_details":    map[string]string{"email": email, "name": "Test User"},
	})
	require.NoError(t, err)
	return &billing.Event{ID: id, Type: billing.EventCheckoutCompleted, Created: created, Raw: raw}
}

// --- tests -----------------------------------------------------------------

func TestSubscriptionLifecycleUpsert(t *testing.T) {
	f := newFixture()
	f.tenants.add(1, "cus_1")
	now := time.Now().UTC().Truncate(time.Second)
	end := now.Add(30 * 24 * time.Hour)

	ev := subscriptionEvent(t, "evt_1", billing.EventSubscriptionCreated, now, "sub_1", "cus_1", "price_growth_monthly", "active", end)
	require.NoError(t, f.svc.HandleEvent(context.Background(), ev))

	row := f.subs.rows["sub_1"]
	require.NotNil(t, row)
	require.Equal(t, int64(1), row.TenantID)
	require.Equal(t, domain.StatusActive, row.Status)
	require.Equal(t, "price_growth_monthly", row.StripePriceID)
	require.True(t, row.CurrentPeriodEnd.Equal(end))
	require.Equal(t, []string{"1:active:price_growth_monthly"}, f.notifier.updates)
}

func TestReplayIsIdempotent(t *testing.T) {
	f := newFixture()
	f.tenants.add(1, "cus_1")
	now := time.Now().UTC()
	end := now.Add(30 * 24 * time.Hour)

	ev := subscriptionEvent(t, "evt_1", billing.EventSubscriptionUpdated, now, "sub_1", "cus_1", "price_growth_monthly", "active", end)
	require.NoError(t, f.svc.HandleEvent(context.Background(), ev))
	first := *f.subs.rows["sub_1"]

	// The provider redelivers the identical event twice more.
	require.NoError(t, f.svc.HandleEvent(context.Background(), ev))
	require.NoError(t, f.svc.HandleEvent(context.Background(), ev))

	require.Len(t, f.subs.rows, 1)
	require.Equal(t, first, *f.subs.rows["sub_1"])
	// Duplicates are acknowledged without re-dispatching.
	require.Equal(t, 3, f.events.begins["evt_1"])
	require.Len(t, f.notifier.updates, 1)
}

func TestDistinctSubscriptionsCoexist(t *testing.T) {
	f := newFixture()
	f.tenants.add(1, "cus_1")
	now := time.Now().UTC()
	end := now.Add(30 * 24 * time.Hour)

	require.NoError(t, f.svc.HandleEvent(context.Background(),
		subscriptionEvent(t, "evt_1", billing.EventSubscriptionCreated, now, "sub_1", "cus_1", "price_starter_monthly", "canceled", end)))
	require.NoError(t, f.svc.HandleEvent(context.Background(),
		subscriptionEvent(t, "evt_2", billing.EventSubscriptionCreated, now, "sub_2", "cus_1", "price_growth_monthly", "active", end)))

	require.Len(t, f.subs.rows, 2)
}

func TestResolverFallsBackToSubscriptionRow(t *testing.T) {
	f := newFixture()
	// Tenant exists but the customer link was never backfilled.
	f.tenants.add(7, "")
	f.subs.rows["sub_1"] = &domain.Subscription{
		ID: "local-1", TenantID: 7, StripeSubscriptionID: "sub_1",
		Status: domain.StatusActive, EventTS: time.Unix(0, 0),
	}
	now := time.Now().UTC()

	ev := subscriptionEvent(t, "evt_1", billing.EventSubscriptionUpdated, now, "sub_1", "cus_unlinked", "price_growth_monthly", "active", now.Add(time.Hour))
	require.NoError(t, f.svc.HandleEvent(context.Background(), ev))

	require.Equal(t, int64(7), f.subs.rows["sub_1"].TenantID)
	// Processing the event also completes the linkage, exactly once.
	require.Equal(t, []string{"7=cus_unlinked"}, f.tenants.setCalls)
}

func TestResolverFailureIsFatal(t *testing.T) {
	f := newFixture()
	now := time.Now().UTC()

	ev := subscriptionEvent(t, "evt_1", billing.EventSubscriptionUpdated, now, "sub_unknown", "cus_unknown", "p", "active", now)
	err := f.svc.HandleEvent(context.Background(), ev)
	require.Error(t, err)
	require.Contains(t, f.events.failures["evt_1"], "no tenant")
}

func TestCustomerIDBackfillIsWriteOnce(t *testing.T) {
	f := newFixture()
	f.tenants.add(1, "cus_existing")
	now := time.Now().UTC()

	ev := subscriptionEvent(t, "evt_1", billing.EventSubscriptionUpdated, now, "sub_1", "cus_existing", "p", "active", now.Add(time.Hour))
	require.NoError(t, f.svc.HandleEvent(context.Background(), ev))

	require.Empty(t, f.tenants.setCalls)
}

func TestDeletedIsTerminalAndStatusOnly(t *testing.T) {
	f := newFixture()
	f.tenants.add(1, "cus_1")
	now := time.Now().UTC().Truncate(time.Second)
	end := now.Add(30 * 24 * time.Hour)

	require.NoError(t, f.svc.HandleEvent(context.Background(),
		subscriptionEvent(t, "evt_1", billing.EventSubscriptionCreated, now, "sub_1", "cus_1", "price_growth_monthly", "active", end)))

	del := subscriptionEvent(t, "evt_2", billing.EventSubscriptionDeleted, now.Add(time.Minute), "sub_1", "cus_1", "ignored_price", "canceled", now)
	require.NoError(t, f.svc.HandleEvent(context.Background(), del))

	row := f.subs.rows["sub_1"]
	require.Equal(t, domain.StatusCanceled, row.Status)
	// Period and price fields from the last non-deleted event stay untouched.
	require.Equal(t, "price_growth_monthly", row.StripePriceID)
	require.True(t, row.CurrentPeriodEnd.Equal(end))
}

func TestDeletedWithoutLocalRowIsFatal(t *testing.T) {
	f := newFixture()
	now := time.Now().UTC()

	del := subscriptionEvent(t, "evt_1", billing.EventSubscriptionDeleted, now, "sub_missing", "cus_1", "p", "canceled", now)
	require.Error(t, f.svc.HandleEvent(context.Background(), del))
}

func TestPaymentFailedMarksPastDue(t *testing.T) {
	f := newFixture()
	f.tenants.add(1, "cus_1")
	now := time.Now().UTC().Truncate(time.Second)
	end := now.Add(30 * 24 * time.Hour)

	require.NoError(t, f.svc.HandleEvent(context.Background(),
		subscriptionEvent(t, "evt_1", billing.EventSubscriptionCreated, now, "sub_1", "cus_1", "price_growth_monthly", "active", end)))

	require.NoError(t, f.svc.HandleEvent(context.Background(),
		invoiceEvent(t, "evt_2", billing.EventInvoicePaymentFailed, now.Add(time.Minute), "sub_1", "cus_1", "subscription_cycle")))

	row := f.subs.rows["sub_1"]
	require.Equal(t, domain.StatusPastDue, row.Status)
	require.True(t, row.CurrentPeriodEnd.Equal(end))
}

func TestRenewalRefetchesAndAdvancesPeriods(t *testing.T) {
	f := newFixture()
	f.tenants.add(1, "cus_1")
	now := time.Now().UTC().Truncate(time.Second)
	oldEnd := now.Add(24 * time.Hour)
	newEnd := now.Add(31 * 24 * time.Hour)

	require.NoError(t, f.svc.HandleEvent(context.Background(),
		subscriptionEvent(t, "evt_1", billing.EventSubscriptionCreated, now, "sub_1", "cus_1", "price_growth_monthly", "active", oldEnd)))

	f.provider.Subscriptions["sub_1"] = &billing.SubscriptionSnapshot{
		ID: "sub_1", CustomerID: "cus_1", PriceID: "price_growth_monthly",
		Status: "active", CurrentPeriodStart: now, CurrentPeriodEnd: newEnd,
	}

	require.NoError(t, f.svc.HandleEvent(context.Background(),
		invoiceEvent(t, "evt_2", billing.EventInvoicePaymentSucceeded, now.Add(time.Minute), "sub_1", "cus_1", "subscription_cycle")))

	require.Equal(t, 1, f.provider.GetSubscriptionCalls)
	require.True(t, f.subs.rows["sub_1"].CurrentPeriodEnd.Equal(newEnd))
}

func TestNonRenewalInvoiceIsIgnored(t *testing.T) {
	f := newFixture()
	now := time.Now().UTC()

	require.NoError(t, f.svc.HandleEvent(context.Background(),
		invoiceEvent(t, "evt_1", billing.EventInvoicePaymentSucceeded, now, "sub_1", "cus_1", "subscription_create")))

	require.Zero(t, f.provider.GetSubscriptionCalls)
	require.Empty(t, f.subs.rows)
}

func TestStaleEventDoesNotOverwriteNewerState(t *testing.T) {
	f := newFixture()
	f.tenants.add(1, "cus_1")
	now := time.Now().UTC().Truncate(time.Second)
	newerEnd := now.Add(60 * 24 * time.Hour)

	require.NoError(t, f.svc.HandleEvent(context.Background(),
		subscriptionEvent(t, "evt_2", billing.EventSubscriptionUpdated, now, "sub_1", "cus_1", "price_growth_monthly", "active", newerEnd)))

	// An older delivery arrives late, carrying stale state.
	stale := subscriptionEvent(t, "evt_1", billing.EventSubscriptionUpdated, now.Add(-time.Hour), "sub_1", "cus_1", "price_starter_monthly", "trialing", now)
	require.NoError(t, f.svc.HandleEvent(context.Background(), stale))

	row := f.subs.rows["sub_1"]
	require.Equal(t, domain.StatusActive, row.Status)
	require.Equal(t, "price_growth_monthly", row.StripePriceID)
	require.True(t, row.CurrentPeriodEnd.Equal(newerEnd))
}

func TestCheckoutWithoutUserReferenceProvisions(t *testing.T) {
	f := newFixture()
	now := time.Now().UTC()
	f.provider.Subscriptions["sub_new"] = &billing.SubscriptionSnapshot{
		ID: "sub_new", CustomerID: "cus_new", PriceID: "price_starter_monthly", Status: "active",
	}

	ev := checkoutEvent(t, "evt_1", now, "sub_new", "cus_new", "", "new@example.com")
	require.NoError(t, f.svc.HandleEvent(context.Background(), ev))

	require.Equal(t, []string{"new@example.com/cus_new/sub_new/price_starter_monthly"}, f.provisioner.calls)
	// Provisioning owns tenant/subscription creation; nothing is written locally.
	require.Empty(t, f.subs.rows)
}

func TestCheckoutProvisioningFailureIsFatal(t *testing.T) {
	f := newFixture()
	now := time.Now().UTC()
	f.provider.Subscriptions["sub_new"] = &billing.SubscriptionSnapshot{
		ID: "sub_new", CustomerID: "cus_new", PriceID: "price_starter_monthly", Status: "active",
	}
	f.provisioner.err = fmt.Errorf("main app unavailable")

	ev := checkoutEvent(t, "evt_1", now, "sub_new", "cus_new", "", "new@example.com")
	require.Error(t, f.svc.HandleEvent(context.Background(), ev))
}

func TestCheckoutWithUserReferenceUpserts(t *testing.T) {
	f := newFixture()
	f.tenants.add(3, "")
	f.tenants.byUser["user-9"] = 3
	now := time.Now().UTC().Truncate(time.Second)
	end := now.Add(30 * 24 * time.Hour)
	f.provider.Subscriptions["sub_9"] = &billing.SubscriptionSnapshot{
		ID: "sub_9", CustomerID: "cus_9", PriceID: "price_scale_monthly",
		Status: "active", CurrentPeriodStart: now, CurrentPeriodEnd: end,
	}

	ev := checkoutEvent(t, "evt_1", now, "sub_9", "cus_9", "user-9", "owner@example.com")
	require.NoError(t, f.svc.HandleEvent(context.Background(), ev))

	row := f.subs.rows["sub_9"]
	require.NotNil(t, row)
	require.Equal(t, int64(3), row.TenantID)
	require.Equal(t, []string{"3=cus_9"}, f.tenants.setCalls)
}

func TestUnknownEventTypeIsNoOp(t *testing.T) {
	f := newFixture()

	ev := &billing.Event{ID: "evt_1", Type: "customer.updated", Created: time.Now(), Raw: []byte(`{}`)}
	require.NoError(t, f.svc.HandleEvent(context.Background(), ev))
	require.True(t, f.events.processed["evt_1"])
	require.Empty(t, f.subs.rows)
}
