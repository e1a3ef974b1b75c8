// Package pgstore implements subscription.Store and subscription.Organizations on
// PostgreSQL through pgx.
package pgstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billing/pkg/pg"
	"github.com/dmitrymomot/billing/pkg/subscription"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations holds the goose migrations for the billing schema, rooted at the
// migrations directory so it can be passed straight to pg.Migrate.
var Migrations = mustSub(migrationFiles, "migrations")

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

const columns = `organization_id, plan, status, trial_start, trial_end, period_start, period_end,
	cancel_at_period_end, cancelled_at, provider, customer_id, provider_subscription_id,
	last_order_id, last_applied_event_id, last_event_at, version, created_at, updated_at`

// selectColumns adds the drift checkpoint, which only MarkChecked writes.
const selectColumns = columns + `, checked_at`

// seenAt matches subscription.Subscription.SeenAt. GREATEST skips NULLs.
const seenAt = `GREATEST(updated_at, checked_at)`

// Store is the PostgreSQL subscription store.
type Store struct {
	pool *pgxpool.Pool
}

var _ subscription.Store = (*Store)(nil)

// New creates a store on top of an open pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type row struct {
	OrganizationID         uuid.UUID  `db:"organization_id"`
	Plan                   string     `db:"plan"`
	Status                 string     `db:"status"`
	TrialStart             *time.Time `db:"trial_start"`
	TrialEnd               *time.Time `db:"trial_end"`
	PeriodStart            *time.Time `db:"period_start"`
	PeriodEnd              *time.Time `db:"period_end"`
	CancelAtPeriodEnd      bool       `db:"cancel_at_period_end"`
	CancelledAt            *time.Time `db:"cancelled_at"`
	Provider               string     `db:"provider"`
	CustomerID             string     `db:"customer_id"`
	ProviderSubscriptionID string     `db:"provider_subscription_id"`
	LastOrderID            string     `db:"last_order_id"`
	LastAppliedEventID     string     `db:"last_applied_event_id"`
	LastEventAt            *time.Time `db:"last_event_at"`
	Version                int64      `db:"version"`
	CreatedAt              time.Time  `db:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at"`
	CheckedAt              *time.Time `db:"checked_at"`
}

// toSubscription normalises the stored enums, which older writers persisted in
// mixed casing.
func (r row) toSubscription() (*subscription.Subscription, error) {
	plan, err := subscription.ParsePlan(r.Plan)
	if err != nil {
		return nil, fmt.Errorf("organization %s: %w", r.OrganizationID, err)
	}
	status, err := subscription.ParseStatus(r.Status)
	if err != nil {
		return nil, fmt.Errorf("organization %s: %w", r.OrganizationID, err)
	}

	sub := &subscription.Subscription{
		OrganizationID:    r.OrganizationID,
		Plan:              plan,
		Status:            status,
		TrialWindow:       window(r.TrialStart, r.TrialEnd),
		BillingPeriod:     window(r.PeriodStart, r.PeriodEnd),
		CancelAtPeriodEnd: r.CancelAtPeriodEnd,
		CancelledAt:       utcPtr(r.CancelledAt),
		Refs: subscription.ProviderRefs{
			Provider:       subscription.Provider(r.Provider),
			CustomerID:     r.CustomerID,
			SubscriptionID: r.ProviderSubscriptionID,
			LastOrderID:    r.LastOrderID,
		},
		LastAppliedEventID: r.LastAppliedEventID,
		Version:            r.Version,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
	if r.LastEventAt != nil {
		sub.LastEventAt = r.LastEventAt.UTC()
	}
	if r.CheckedAt != nil {
		sub.CheckedAt = r.CheckedAt.UTC()
	}
	return sub, nil
}

func window(start, end *time.Time) *subscription.Window {
	if start == nil || end == nil {
		return nil
	}
	return &subscription.Window{Start: start.UTC(), End: end.UTC()}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func windowBounds(w *subscription.Window) (*time.Time, *time.Time) {
	if w == nil {
		return nil, nil
	}
	return &w.Start, &w.End
}

// args returns the values of every column, in the order of columns.
func args(s *subscription.Subscription) []any {
	trialStart, trialEnd := windowBounds(s.TrialWindow)
	periodStart, periodEnd := windowBounds(s.BillingPeriod)
	return []any{
		s.OrganizationID,
		string(s.Plan),
		string(s.Status),
		trialStart,
		trialEnd,
		periodStart,
		periodEnd,
		s.CancelAtPeriodEnd,
		s.CancelledAt,
		string(s.Refs.Provider),
		s.Refs.CustomerID,
		s.Refs.SubscriptionID,
		s.Refs.LastOrderID,
		s.LastAppliedEventID,
		nullTime(s.LastEventAt),
		s.Version,
		s.CreatedAt,
		s.UpdatedAt,
	}
}

func (s *Store) queryOne(ctx context.Context, sql string, args ...any) (*subscription.Subscription, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	r, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[row])
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, subscription.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return r.toSubscription()
}

func (s *Store) queryMany(ctx context.Context, sql string, args ...any) ([]*subscription.Subscription, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[row])
	if err != nil {
		return nil, err
	}

	out := make([]*subscription.Subscription, 0, len(records))
	for _, r := range records {
		sub, err := r.toSubscription()
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, orgID uuid.UUID) (*subscription.Subscription, error) {
	return s.queryOne(ctx, `SELECT `+selectColumns+` FROM subscriptions WHERE organization_id = $1`, orgID)
}

func (s *Store) FindByProviderSubscription(ctx context.Context, provider subscription.Provider, subscriptionID string) (*subscription.Subscription, error) {
	if subscriptionID == "" {
		return nil, subscription.ErrSubscriptionNotFound
	}
	return s.queryOne(ctx,
		`SELECT `+selectColumns+` FROM subscriptions
		WHERE provider = $1 AND provider_subscription_id = $2
		ORDER BY updated_at DESC LIMIT 1`,
		string(provider), subscriptionID,
	)
}

func (s *Store) Create(ctx context.Context, sub *subscription.Subscription) error {
	rec := sub.Clone()
	rec.Version = 1

	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		args(&rec)...,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return subscription.ErrSubscriptionAlreadyExists
		}
		return err
	}

	sub.Version = 1
	return nil
}

func (s *Store) Update(ctx context.Context, sub *subscription.Subscription, expectedVersion int64, receipt *subscription.Receipt) error {
	rec := sub.Clone()
	rec.Version = expectedVersion + 1
	values := append(args(&rec), expectedVersion)

	err := pg.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE subscriptions SET
				plan = $2, status = $3, trial_start = $4, trial_end = $5,
				period_start = $6, period_end = $7, cancel_at_period_end = $8,
				cancelled_at = $9, provider = $10, customer_id = $11,
				provider_subscription_id = $12, last_order_id = $13,
				last_applied_event_id = $14, last_event_at = $15, version = $16,
				created_at = $17, updated_at = $18
			WHERE organization_id = $1 AND version = $19`,
			values...,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM subscriptions WHERE organization_id = $1)`,
				sub.OrganizationID,
			).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return subscription.ErrSubscriptionNotFound
			}
			return subscription.ErrConcurrencyConflict
		}

		if receipt == nil {
			return nil
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO webhook_receipts (provider, event_id, received_at) VALUES ($1, $2, $3)`,
			string(receipt.Provider), receipt.EventID, receipt.ReceivedAt,
		)
		if pg.IsDuplicateKeyError(err) {
			return subscription.ErrDuplicateReceipt
		}
		return err
	})
	if err != nil {
		if pg.IsSerializationError(err) {
			return errors.Join(subscription.ErrConcurrencyConflict, err)
		}
		return err
	}

	sub.Version = rec.Version
	return nil
}

func (s *Store) HasReceipt(ctx context.Context, provider subscription.Provider, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM webhook_receipts WHERE provider = $1 AND event_id = $2)`,
		string(provider), eventID,
	).Scan(&exists)
	return exists, err
}

// ListExpiredTrials returns expired trials, oldest update first. LIMIT NULL is
// LIMIT ALL, so a zero limit returns every match. Status is compared on its
// upper-cased form so rows written by older clients still match.
func (s *Store) ListExpiredTrials(ctx context.Context, now time.Time, limit int) ([]*subscription.Subscription, error) {
	return s.queryMany(ctx,
		`SELECT `+selectColumns+` FROM subscriptions
		WHERE upper(status) IN ('TRIAL', 'TRIALING') AND trial_end IS NOT NULL AND trial_end <= $1
		ORDER BY updated_at
		LIMIT NULLIF($2::int, 0)`,
		now, limit,
	)
}

func (s *Store) ListStale(ctx context.Context, seenBefore time.Time, after subscription.StaleCursor, limit int) ([]*subscription.Subscription, error) {
	return s.queryMany(ctx,
		`SELECT `+selectColumns+` FROM subscriptions
		WHERE provider <> '' AND provider_subscription_id <> ''
			AND upper(status) NOT IN ('CANCELLED', 'CANCELED')
			AND `+seenAt+` < $1
			AND (`+seenAt+`, organization_id) > ($2, $3)
		ORDER BY `+seenAt+`, organization_id
		LIMIT NULLIF($4::int, 0)`,
		seenBefore, after.SeenAt, after.OrganizationID, limit,
	)
}

func (s *Store) MarkChecked(ctx context.Context, orgID uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET checked_at = GREATEST(checked_at, $2) WHERE organization_id = $1`,
		orgID, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) PruneReceipts(ctx context.Context, receivedBefore time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhook_receipts WHERE received_at < $1`, receivedBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
