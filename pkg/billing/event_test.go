package billing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscriptionPayloadTopLevelPeriods(t *testing.T) {
	ev := &Event{
		ID:   "evt_1",
		Type: EventSubscriptionUpdated,
		Raw: json.RawMessage(`{
			"id": "sub_1",
			"customer": "cus_1",
			"status": "active",
			"cancel_at_period_end": true,
			"current_period_start": 1735689600,
			"current_period_end": 1738368000,
			"items": {"data": [{"price": {"id": "price_growth_monthly"}}]}
		}`),
	}

	snap, err := ev.Subscription()
	require.NoError(t, err)
	require.Equal(t, "sub_1", snap.ID)
	require.Equal(t, "cus_1", snap.CustomerID)
	require.Equal(t, "price_growth_monthly", snap.PriceID)
	require.True(t, snap.CancelAtPeriodEnd)
	require.Equal(t, time.Unix(1735689600, 0).UTC(), snap.CurrentPeriodStart)
	require.Equal(t, time.Unix(1738368000, 0).UTC(), snap.CurrentPeriodEnd)
}

func TestSubscriptionPayloadItemLevelPeriods(t *testing.T) {
	// Newer API versions move the period fields onto the subscription item.
	ev := &Event{
		ID:   "evt_1",
		Type: EventSubscriptionUpdated,
		Raw: json.RawMessage(`{
			"id": "sub_1",
			"customer": "cus_1",
			"status": "trialing",
			"items": {"data": [{
				"price": {"id": "price_starter_monthly"},
				"current_period_start": 1735689600,
				"current_period_end": 1738368000
			}]}
		}`),
	}

	snap, err := ev.Subscription()
	require.NoError(t, err)
	require.Equal(t, time.Unix(1735689600, 0).UTC(), snap.CurrentPeriodStart)
	require.Equal(t, time.Unix(1738368000, 0).UTC(), snap.CurrentPeriodEnd)
}

func TestInvoiceSubscriptionPointerFallsBackToParent(t *testing.T) {
	flat, err := (&Event{Raw: json.RawMessage(`{"id":"in_1","subscription":"sub_1"}`)}).Invoice()
	require.NoError(t, err)
	require.Equal(t, "sub_1", flat.Subscription())

	nested, err := (&Event{Raw: json.RawMessage(`{
		"id": "in_2",
		"parent": {"subscription_details": {"subscription": "sub_2"}}
	}`)}).Invoice()
	require.NoError(t, err)
	require.Equal(t, "sub_2", nested.Subscription())

	oneOff, err := (&Event{Raw: json.RawMessage(`{"id":"in_3"}`)}).Invoice()
	require.NoError(t, err)
	require.Empty(t, oneOff.Subscription())
}

func TestCheckoutSessionDecode(t *testing.T) {
	ev := &Event{
		ID:   "evt_1",
		Type: EventCheckoutCompleted,
		Raw: json.RawMessage(`{
			"id": "cs_1",
			"mode": "subscription",
			"customer": "cus_1",
			"subscription": "sub_1",
			"client_reference_id": "user-42",
			"customer_details": {"email": "owner@example.com", "name": "Owner"}
		}`),
	}

	cs, err := ev.CheckoutSession()
	require.NoError(t, err)
	require.Equal(t, "subscription", cs.Mode)
	require.Equal(t, "cus_1", cs.CustomerID)
	require.Equal(t, "sub_1", cs.SubscriptionID)
	require.Equal(t, "user-42", cs.ClientReferenceID)
	require.Equal(t, "owner@example.com", cs.CustomerDetails.Email)
}
