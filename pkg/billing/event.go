package billing

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags a webhook event. The dispatcher handles the closed set
// below; anything else is acknowledged and ignored.
type EventType string

const (
	EventCheckoutCompleted        EventType = "checkout.session.completed"
	EventSubscriptionCreated      EventType = "customer.subscription.created"
	EventSubscriptionUpdated      EventType = "customer.subscription.updated"
	EventSubscriptionResumed      EventType = "customer.subscription.resumed"
	EventSubscriptionTrialWillEnd EventType = "customer.subscription.trial_will_end"
	EventSubscriptionDeleted      EventType = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded  EventType = "invoice.payment_succeeded"
	EventInvoicePaymentFailed     EventType = "invoice.payment_failed"
)

// BillingReasonCycle marks an invoice generated by a period renewal.
const BillingReasonCycle = "subscription_cycle"

// Event is a verified webhook event. Raw holds the provider's data.object
// payload; the typed accessors below decode it per event family.
type Event struct {
	ID      string
	Type    EventType
	Created time.Time
	Raw     json.RawMessage
}

// CheckoutSession is the slice of a checkout.session.completed payload the
// dispatcher needs.
type CheckoutSession struct {
	ID                string `json:"id"`
	Mode              string `json:"mode"`
	CustomerID        string `json:"customer"`
	SubscriptionID    string `json:"subscription"`
	ClientReferenceID string `json:"client_reference_id"`
	CustomerDetails   struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"customer_details"`
}

// Invoice is the slice of an invoice.* payload the dispatcher needs.
type Invoice struct {
	ID             string `json:"id"`
	CustomerID     string `json:"customer"`
	SubscriptionID string `json:"subscription"`
	BillingReason  string `json:"billing_reason"`
	// Newer API versions nest the subscription pointer under parent.
	Parent *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// Subscription returns the invoice's subscription id, wherever the API
// version put it. Empty for one-off invoices.
func (i *Invoice) Subscription() string {
	if i.SubscriptionID != "" {
		return i.SubscriptionID
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return i.Parent.SubscriptionDetails.Subscription
	}
	return ""
}

// subscriptionPayload matches the subscription object wire format. Period
// fields live at the top level on older API versions and on the first
// subscription item on newer ones.
type subscriptionPayload struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func (p *subscriptionPayload) snapshot() *SubscriptionSnapshot {
	snap := &SubscriptionSnapshot{
		ID:                 p.ID,
		CustomerID:         p.Customer,
		Status:             p.Status,
		CancelAtPeriodEnd:  p.CancelAtPeriodEnd,
		CurrentPeriodStart: unixTime(p.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(p.CurrentPeriodEnd),
	}
	if len(p.Items.Data) > 0 {
		item := p.Items.Data[0]
		snap.PriceID = item.Price.ID
		if snap.CurrentPeriodStart.IsZero() {
			snap.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
		}
		if snap.CurrentPeriodEnd.IsZero() {
			snap.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
		}
	}
	return snap
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// CheckoutSession decodes the payload of a checkout.session.completed event.
func (e *Event) CheckoutSession() (*CheckoutSession, error) {
	var cs CheckoutSession
	if err := json.Unmarshal(e.Raw, &cs); err != nil {
		return nil, fmt.Errorf("billing: parse checkout session from event %s: %w", e.ID, err)
	}
	return &cs, nil
}

// Subscription decodes the payload of a customer.subscription.* event.
func (e *Event) Subscription() (*SubscriptionSnapshot, error) {
	var p subscriptionPayload
	if err := json.Unmarshal(e.Raw, &p); err != nil {
		return nil, fmt.Errorf("billing: parse subscription from event %s: %w", e.ID, err)
	}
	return p.snapshot(), nil
}

// Invoice decodes the payload of an invoice.* event.
func (e *Event) Invoice() (*Invoice, error) {
	var inv Invoice
	if err := json.Unmarshal(e.Raw, &inv); err != nil {
		return nil, fmt.Errorf("billing: parse invoice from event %s: %w", e.ID, err)
	}
	return &inv, nil
}
