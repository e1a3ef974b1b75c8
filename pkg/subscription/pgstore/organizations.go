package pgstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billing/pkg/pg"
	"github.com/dmitrymomot/billing/pkg/subscription"
)

// Organizations reads the organizations table.
type Organizations struct {
	pool *pgxpool.Pool
}

var _ subscription.Organizations = (*Organizations)(nil)

func NewOrganizations(pool *pgxpool.Pool) *Organizations {
	return &Organizations{pool: pool}
}

func (o *Organizations) Lookup(ctx context.Context, orgID uuid.UUID) (*subscription.Organization, error) {
	org := subscription.Organization{ID: orgID}
	err := o.pool.QueryRow(ctx,
		`SELECT name, owner_email, free_only, webhook_url, webhook_secret FROM organizations WHERE id = $1`,
		orgID,
	).Scan(&org.Name, &org.OwnerEmail, &org.FreeOnly, &org.WebhookURL, &org.WebhookSecret)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, subscription.ErrOrganizationNotFound
		}
		return nil, err
	}
	return &org, nil
}

// Upsert creates or updates an organization. Used by provisioning and tests.
func (o *Organizations) Upsert(ctx context.Context, org subscription.Organization) error {
	_, err := o.pool.Exec(ctx,
		`INSERT INTO organizations (id, name, owner_email, free_only, webhook_url, webhook_secret)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, owner_email = EXCLUDED.owner_email,
			free_only = EXCLUDED.free_only, webhook_url = EXCLUDED.webhook_url,
			webhook_secret = EXCLUDED.webhook_secret`,
		org.ID, org.Name, org.OwnerEmail, org.FreeOnly, org.WebhookURL, org.WebhookSecret,
	)
	return err
}
