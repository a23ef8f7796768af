package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// InsertChallenge creates a pending ACME HTTP-01 challenge row.
func (s *Store) InsertChallenge(ctx context.Context, c AcmeChallenge) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO acme_challenges (token, key_auth, domain, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token) DO UPDATE SET
			key_auth = EXCLUDED.key_auth,
			domain = EXCLUDED.domain,
			expires_at = EXCLUDED.expires_at`,
		c.Token, c.KeyAuth, c.Domain, c.ExpiresAt)
	if err != nil {
		return fmt.Errorf("inserting acme challenge for %s: %w", c.Domain, err)
	}
	return nil
}

// GetChallenge looks up a challenge by token. Callers must check the
// returned ExpiresAt themselves (or use challenge.Service.Lookup,
// which deletes and reports not-found on expiry) since this is a plain read.
func (s *Store) GetChallenge(ctx context.Context, token string) (AcmeChallenge, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT token, key_auth, domain, expires_at FROM acme_challenges WHERE token = $1`, token)
	var c AcmeChallenge
	err := row.Scan(&c.Token, &c.KeyAuth, &c.Domain, &c.ExpiresAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return AcmeChallenge{}, ErrNotFound
		}
		return AcmeChallenge{}, fmt.Errorf("getting acme challenge %s: %w", token, err)
	}
	return c, nil
}

// DeleteChallenge removes a challenge row by token. Idempotent.
func (s *Store) DeleteChallenge(ctx context.Context, token string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM acme_challenges WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("deleting acme challenge %s: %w", token, err)
	}
	return nil
}

// DeleteExpiredChallenges removes every challenge whose expires_at predates
// the cutoff.
func (s *Store) DeleteExpiredChallenges(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM acme_challenges WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting expired acme challenges: %w", err)
	}
	return tag.RowsAffected(), nil
}
