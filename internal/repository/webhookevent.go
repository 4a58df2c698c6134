package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookEventRepository records every webhook delivery for idempotent
// processing and failure visibility. The provider event id is the primary
// key; retried deliveries bump the attempt counter.
type WebhookEventRepository struct {
	db *pgxpool.Pool
}

// NewWebhookEventRepository creates a new WebhookEventRepository.
func NewWebhookEventRepository(db *pgxpool.Pool) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Begin records the delivery and reports whether the event was already
// processed successfully. Already-processed duplicates should be acknowledged
// without reprocessing.
func (r *WebhookEventRepository) Begin(ctx context.Context, eventID, eventType string) (alreadyProcessed bool, err error) {
	query := `
		INSERT INTO webhook_events (provider_event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (provider_event_id) DO UPDATE
		SET attempts = webhook_events.attempts + 1
		RETURNING processed_at IS NOT NULL
	`
	if err := r.db.QueryRow(ctx, query, eventID, eventType).Scan(&alreadyProcessed); err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	return alreadyProcessed, nil
}

// Succeed marks the event as processed.
func (r *WebhookEventRepository) Succeed(ctx context.Context, eventID string) error {
	query := `UPDATE webhook_events SET processed_at = NOW(), last_error = '' WHERE provider_event_id = $1`
	if _, err := r.db.Exec(ctx, query, eventID); err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}

// Fail records the processing error. Repeated failures for the same event id
// show up as a high attempt count with processed_at still NULL.
func (r *WebhookEventRepository) Fail(ctx context.Context, eventID string, procErr error) error {
	query := `UPDATE webhook_events SET last_error = $1 WHERE provider_event_id = $2`
	if _, err := r.db.Exec(ctx, query, procErr.Error(), eventID); err != nil {
		return fmt.Errorf("failed to record webhook event error: %w", err)
	}
	return nil
}
