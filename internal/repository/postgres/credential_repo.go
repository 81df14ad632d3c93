package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/NordCoder/Storefront/internal/domain/session"
	"github.com/jackc/pgx/v5"
)

// CredentialRepo stores one row per profile in session_credentials.
type CredentialRepo struct {
	db      *DB
	profile string
}

var _ session.Store = (*CredentialRepo)(nil)

func NewCredentialRepo(db *DB, profile string) *CredentialRepo {
	return &CredentialRepo{db: db, profile: profile}
}

const (
	qCredLoad = `
SELECT access_token, refresh_token
FROM session_credentials
WHERE profile = $1;
`
	qCredSave = `
INSERT INTO session_credentials(profile, access_token, refresh_token, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (profile) DO UPDATE
SET access_token = EXCLUDED.access_token,
    refresh_token = EXCLUDED.refresh_token,
    updated_at = NOW();
`
	qCredClear = `
DELETE FROM session_credentials WHERE profile = $1;
`
)

func (r *CredentialRepo) Load(ctx context.Context) (session.Credentials, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var c session.Credentials
	err := r.db.Pool.QueryRow(ctx, qCredLoad, r.profile).Scan(&c.Access, &c.Refresh)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Credentials{}, nil
	}
	if err != nil {
		return session.Credentials{}, fmt.Errorf("load credentials: %w", err)
	}
	return c, nil
}

func (r *CredentialRepo) Save(ctx context.Context, c session.Credentials) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.Pool.Exec(ctx, qCredSave, r.profile, c.Access, c.Refresh); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (r *CredentialRepo) Clear(ctx context.Context) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.Pool.Exec(ctx, qCredClear, r.profile); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}
