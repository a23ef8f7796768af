package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// InsertCertificate creates a new certificate row. Certificate rows are
// append-only except for LastUsedAt and IsOrphaned.
func (s *Store) InsertCertificate(ctx context.Context, c Certificate) (Certificate, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO certificates (id, domains, domains_hash, cert_pem, key_pem, issued_at, expires_at, last_used_at, is_orphaned)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, domains, domains_hash, cert_pem, key_pem, issued_at, expires_at, last_used_at, is_orphaned`,
		c.ID, c.Domains, c.DomainsHash, c.CertPEM, c.KeyPEM, c.IssuedAt, c.ExpiresAt, c.LastUsedAt, c.IsOrphaned)
	return scanCertificate(row)
}

// FindValidCertificate returns the active certificate for a domains hash:
// not orphaned, with expires_at after expiresAfter (now + renewBeforeDays),
// ordered by the latest expiry first. Returns ErrNotFound if none match.
func (s *Store) FindValidCertificate(ctx context.Context, domainsHash string, expiresAfter time.Time) (Certificate, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, domains, domains_hash, cert_pem, key_pem, issued_at, expires_at, last_used_at, is_orphaned
		FROM certificates
		WHERE domains_hash = $1 AND is_orphaned = false AND expires_at > $2
		ORDER BY expires_at DESC
		LIMIT 1`, domainsHash, expiresAfter)
	c, err := scanCertificate(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Certificate{}, ErrNotFound
		}
		return Certificate{}, fmt.Errorf("finding valid certificate for %s: %w", domainsHash, err)
	}
	return c, nil
}

// GetCertificate fetches a certificate by id.
func (s *Store) GetCertificate(ctx context.Context, id string) (Certificate, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, domains, domains_hash, cert_pem, key_pem, issued_at, expires_at, last_used_at, is_orphaned
		FROM certificates WHERE id = $1`, id)
	c, err := scanCertificate(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Certificate{}, ErrNotFound
		}
		return Certificate{}, fmt.Errorf("getting certificate %s: %w", id, err)
	}
	return c, nil
}

// ListCertificates returns every certificate row, for the monitor and
// listing/status surfaces.
func (s *Store) ListCertificates(ctx context.Context) ([]Certificate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, domains, domains_hash, cert_pem, key_pem, issued_at, expires_at, last_used_at, is_orphaned
		FROM certificates
		ORDER BY expires_at`)
	if err != nil {
		return nil, fmt.Errorf("listing certificates: %w", err)
	}
	defer rows.Close()

	var out []Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning certificate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TouchCertificateLastUsed bumps LastUsedAt to the given time.
func (s *Store) TouchCertificateLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE certificates SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touching certificate %s: %w", id, err)
	}
	return nil
}

// SetCertificateOrphaned updates the IsOrphaned flag for a single row.
func (s *Store) SetCertificateOrphaned(ctx context.Context, id string, orphaned bool) error {
	_, err := s.pool.Exec(ctx, `UPDATE certificates SET is_orphaned = $2 WHERE id = $1`, id, orphaned)
	if err != nil {
		return fmt.Errorf("setting orphaned flag on certificate %s: %w", id, err)
	}
	return nil
}

// DeleteCertificate removes a certificate row.
func (s *Store) DeleteCertificate(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM certificates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting certificate %s: %w", id, err)
	}
	return nil
}

// DeleteExpiredCertificates removes every row with expires_at before the
// given cutoff, returning the number of rows removed.
func (s *Store) DeleteExpiredCertificates(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM certificates WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting expired certificates: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteOrphanedCertificates removes every row currently flagged orphaned,
// returning the number of rows removed.
func (s *Store) DeleteOrphanedCertificates(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM certificates WHERE is_orphaned = true`)
	if err != nil {
		return 0, fmt.Errorf("deleting orphaned certificates: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanCertificate(row rowScanner) (Certificate, error) {
	var c Certificate
	err := row.Scan(&c.ID, &c.Domains, &c.DomainsHash, &c.CertPEM, &c.KeyPEM,
		&c.IssuedAt, &c.ExpiresAt, &c.LastUsedAt, &c.IsOrphaned)
	if err != nil {
		return Certificate{}, err
	}
	return c, nil
}
