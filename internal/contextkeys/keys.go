package contextkeys

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey string

const (
	// TenantID is the context key for the authenticated tenant's ID.
	TenantID contextKey = "tenantID"
	// UserID is the context key for the authenticated user's ID.
	UserID contextKey = "userID"
	// UserEmail is the context key for the authenticated user's email.
	UserEmail contextKey = "userEmail"
)
