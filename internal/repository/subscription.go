package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pagelift/billing/internal/domain"
)

// SubscriptionRepository handles database operations for subscriptions.
type SubscriptionRepository struct {
	db *pgxpool.Pool
}

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(db *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `id, tenant_id, stripe_subscription_id, stripe_price_id, status,
	current_period_start, current_period_end, cancel_at_period_end, event_ts, created_at, updated_at`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var s domain.Subscription
	err := row.Scan(
		&s.ID, &s.TenantID, &s.StripeSubscriptionID, &s.StripePriceID, &s.Status,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.CancelAtPeriodEnd,
		&s.EventTS, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	return &s, nil
}

// Upsert writes the full subscription snapshot, keyed on the Stripe
// subscription id. The conflict branch only applies when the incoming event
// timestamp is not older than the one already recorded, so a stale retried
// delivery cannot overwrite newer truth. Returns false when the write was
// skipped as stale.
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub *domain.Subscription) (bool, error) {
	query := `
		INSERT INTO subscriptions
			(id, tenant_id, stripe_subscription_id, stripe_price_id, status,
			 current_period_start, current_period_end, cancel_at_period_end, event_ts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (stripe_subscription_id) DO UPDATE SET
			tenant_id            = EXCLUDED.tenant_id,
			stripe_price_id      = EXCLUDED.stripe_price_id,
			status               = EXCLUDED.status,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end   = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			event_ts             = EXCLUDED.event_ts,
			updated_at           = NOW()
		WHERE subscriptions.event_ts <= EXCLUDED.event_ts
	`
	tag, err := r.db.Exec(ctx, query,
		sub.ID, sub.TenantID, sub.StripeSubscriptionID, sub.StripePriceID, sub.Status,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd, sub.EventTS,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FindByStripeID returns the subscription row for a Stripe subscription id.
func (r *SubscriptionRepository) FindByStripeID(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE stripe_subscription_id = $1`
	return scanSubscription(r.db.QueryRow(ctx, query, stripeSubscriptionID))
}

// UpdateStatusIfNewer changes only the status field of the matching row,
// leaving period and price fields untouched. The event timestamp guard keeps
// out-of-order deliveries from regressing the status. Returns false when no
// row matched (missing or stale).
func (r *SubscriptionRepository) UpdateStatusIfNewer(ctx context.Context, stripeSubscriptionID string, status domain.SubscriptionStatus, eventTS time.Time) (bool, error) {
	query := `
		UPDATE subscriptions SET status = $1, event_ts = $2, updated_at = NOW()
		WHERE stripe_subscription_id = $3 AND event_ts <= $2
	`
	tag, err := r.db.Exec(ctx, query, status, eventTS, stripeSubscriptionID)
	if err != nil {
		return false, fmt.Errorf("failed to update subscription status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CurrentForTenant returns the tenant's most recent access-granting
// subscription, or the most recent row of any status when none grants access.
func (r *SubscriptionRepository) CurrentForTenant(ctx context.Context, tenantID int64) (*domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE tenant_id = $1
		ORDER BY (status IN ('active', 'trialing')) DESC, created_at DESC
		LIMIT 1
	`
	return scanSubscription(r.db.QueryRow(ctx, query, tenantID))
}
