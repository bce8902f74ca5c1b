package account

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mbd888/coachgate/internal/apierror"
)

const accountColumns = `id, identity_ref, tier, status, usage_count,
	billing_customer_ref, billing_subscription_ref, created_at, updated_at`

// PostgresStore persists accounts in PostgreSQL.
type PostgresStore struct {
	db       *sql.DB
	defaults Defaults
}

// NewPostgresStore creates a new PostgreSQL-backed account store.
func NewPostgresStore(db *sql.DB, defaults Defaults) *PostgresStore {
	return &PostgresStore{db: db, defaults: defaults}
}

// GetOrCreate relies on the unique identity_ref constraint. The no-op DO UPDATE
// makes RETURNING yield the existing row when another request created it first.
func (p *PostgresStore) GetOrCreate(ctx context.Context, identityRef string) (*Account, error) {
	ref, err := normalizeIdentity(identityRef)
	if err != nil {
		return nil, err
	}
	a, err := scanAccount(p.db.QueryRowContext(ctx, `
		INSERT INTO accounts (identity_ref, tier, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity_ref) DO UPDATE SET identity_ref = EXCLUDED.identity_ref
		RETURNING `+accountColumns,
		ref, string(p.defaults.Tier), string(p.defaults.Status),
	))
	if err != nil {
		return nil, apierror.Storage("get or create account", err)
	}
	return a, nil
}

func (p *PostgresStore) SetBillingCustomerRef(ctx context.Context, identityRef, customerRef string) error {
	ref, err := normalizeIdentity(identityRef)
	if err != nil {
		return err
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE accounts SET billing_customer_ref = $2, updated_at = NOW()
		WHERE identity_ref = $1 AND billing_customer_ref IS DISTINCT FROM $2`,
		ref, customerRef,
	)
	if err != nil {
		return apierror.Storage("set billing customer", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.Storage("set billing customer", err)
	}
	if rows > 0 {
		return nil
	}

	// Nothing changed: either already set to the same value or no such account.
	var exists bool
	err = p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE identity_ref = $1)`, ref).Scan(&exists)
	if err != nil {
		return apierror.Storage("set billing customer", err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ApplyBillingUpdate(ctx context.Context, u BillingUpdate) (bool, error) {
	if u.CustomerRef == "" {
		return false, nil
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE accounts SET tier = $2, status = $3,
			billing_subscription_ref = COALESCE(NULLIF($4::text, ''), billing_subscription_ref),
			updated_at = NOW()
		WHERE billing_customer_ref = $1`,
		u.CustomerRef, string(u.Tier), string(u.Status), u.SubscriptionRef,
	)
	if err != nil {
		return false, apierror.Storage("apply billing update", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, apierror.Storage("apply billing update", err)
	}
	return rows > 0, nil
}

func (p *PostgresStore) IncrementUsage(ctx context.Context, identityRef string) (int64, error) {
	ref, err := normalizeIdentity(identityRef)
	if err != nil {
		return 0, err
	}
	var count int64
	err = p.db.QueryRowContext(ctx, `
		UPDATE accounts SET usage_count = usage_count + 1, updated_at = NOW()
		WHERE identity_ref = $1
		RETURNING usage_count`, ref).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, apierror.Storage("increment usage", err)
	}
	return count, nil
}

func scanAccount(row *sql.Row) (*Account, error) {
	a := &Account{}
	var (
		tier, status        string
		customerRef, subRef sql.NullString
	)
	err := row.Scan(&a.ID, &a.IdentityRef, &tier, &status, &a.UsageCount,
		&customerRef, &subRef, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Tier = Tier(tier)
	a.Status = Status(status)
	a.BillingCustomerRef = customerRef.String
	a.BillingSubscriptionRef = subRef.String
	return a, nil
}

var _ Store = (*PostgresStore)(nil)
