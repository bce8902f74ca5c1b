package waitlist

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mbd888/coachgate/internal/apierror"
)

// PostgresStore persists waitlist entries in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed waitlist store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Add(ctx context.Context, e *Entry) (bool, error) {
	email := NormalizeEmail(e.Email)
	if email == "" {
		return false, ErrInvalidEmail
	}

	err := p.db.QueryRowContext(ctx, `
		INSERT INTO waitlist (email, name, tier, status)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4)
		ON CONFLICT (email) DO NOTHING
		RETURNING id, created_at`,
		email, e.Name, e.Tier, StatusPending,
	).Scan(&e.ID, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apierror.Storage("add waitlist entry", err)
	}
	e.Email = email
	e.Status = StatusPending
	return true, nil
}

var _ Store = (*PostgresStore)(nil)
