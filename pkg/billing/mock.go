package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MockProvider is a dummy implementation for tests and local development.
// VerifyEvent accepts any payload whose signature equals "valid".
type MockProvider struct {
	// Subscriptions served by GetSubscription, keyed by id.
	Subscriptions map[string]*SubscriptionSnapshot
	// CheckoutURL / PortalURL returned by the session calls.
	CheckoutURL string
	PortalURL   string

	GetSubscriptionCalls int
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		Subscriptions: make(map[string]*SubscriptionSnapshot),
		CheckoutURL:   "https://checkout.example.com/session",
		PortalURL:     "https://portal.example.com/session",
	}
}

func (m *MockProvider) VerifyEvent(payload []byte, signature string) (*Event, error) {
	if signature != "valid" {
		return nil, ErrInvalidSignature
	}
	var envelope struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Created int64  `json:"created"`
		Data    struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("billing: parse mock event: %w", err)
	}
	return &Event{
		ID:      envelope.ID,
		Type:    EventType(envelope.Type),
		Created: time.Unix(envelope.Created, 0).UTC(),
		Raw:     envelope.Data.Object,
	}, nil
}

func (m *MockProvider) GetSubscription(_ context.Context, subscriptionID string) (*SubscriptionSnapshot, error) {
	m.GetSubscriptionCalls++
	snap, ok := m.Subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("billing: mock subscription %s not found", subscriptionID)
	}
	return snap, nil
}

func (m *MockProvider) CreateCheckoutSession(_ context.Context, _ CheckoutParams) (string, error) {
	return m.CheckoutURL, nil
}

func (m *MockProvider) CreatePortalSession(_ context.Context, _, _ string) (string, error) {
	return m.PortalURL, nil
}
