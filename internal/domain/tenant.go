package domain

import "time"

// Tenant is the internal organization that owns billing state. The Stripe
// customer id stays NULL until the first successful checkout links it.
type Tenant struct {
	ID               int64     `json:"id"`
	StripeCustomerID *string   `json:"stripeCustomerId,omitempty"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// User is a principal belonging to exactly one tenant. Users are created by
// the main application at signup; this service only reads them to resolve
// checkout events back to a tenant.
type User struct {
	ID        string    `json:"id"`
	TenantID  int64     `json:"tenantId"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}
