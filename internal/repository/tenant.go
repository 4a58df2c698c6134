package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pagelift/billing/internal/domain"
)

// TenantRepository handles database operations for tenants.
type TenantRepository struct {
	db *pgxpool.Pool
}

// NewTenantRepository creates a new TenantRepository.
func NewTenantRepository(db *pgxpool.Pool) *TenantRepository {
	return &TenantRepository{db: db}
}

const tenantColumns = `id, stripe_customer_id, active, created_at, updated_at`

func scanTenant(row pgx.Row) (*domain.Tenant, error) {
	var t domain.Tenant
	err := row.Scan(&t.ID, &t.StripeCustomerID, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}
	return &t, nil
}

// FindByID returns a tenant by internal id.
func (r *TenantRepository) FindByID(ctx context.Context, id int64) (*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	return scanTenant(r.db.QueryRow(ctx, query, id))
}

// FindByCustomerID returns the tenant linked to a Stripe customer id.
func (r *TenantRepository) FindByCustomerID(ctx context.Context, customerID string) (*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE stripe_customer_id = $1`
	return scanTenant(r.db.QueryRow(ctx, query, customerID))
}

// FindByUserID returns the tenant owning the given user.
func (r *TenantRepository) FindByUserID(ctx context.Context, userID string) (*domain.Tenant, error) {
	query := `
		SELECT t.id, t.stripe_customer_id, t.active, t.created_at, t.updated_at
		FROM tenants t JOIN users u ON u.tenant_id = t.id
		WHERE u.id = $1
	`
	return scanTenant(r.db.QueryRow(ctx, query, userID))
}

// SetCustomerID links a tenant to its Stripe customer id. The link is
// write-once: a non-null value is never overwritten.
func (r *TenantRepository) SetCustomerID(ctx context.Context, tenantID int64, customerID string) error {
	query := `
		UPDATE tenants SET stripe_customer_id = $1, updated_at = NOW()
		WHERE id = $2 AND stripe_customer_id IS NULL
	`
	_, err := r.db.Exec(ctx, query, customerID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to set tenant customer id: %w", err)
	}
	return nil
}
