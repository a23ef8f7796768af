package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ListProxyEntries returns every declared route. Entries are owned by the
// external admin API; this gateway only reads them.
func (s *Store) ListProxyEntries(ctx context.Context) ([]ProxyEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, domains, upstream, type, ssl, nginx_custom_code, created_at, updated_at
		FROM proxy_entries
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing proxy entries: %w", err)
	}
	defer rows.Close()

	var out []ProxyEntry
	for rows.Next() {
		e, err := scanProxyEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning proxy entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetProxyEntry fetches a single entry by id.
func (s *Store) GetProxyEntry(ctx context.Context, id string) (ProxyEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, domains, upstream, type, ssl, nginx_custom_code, created_at, updated_at
		FROM proxy_entries WHERE id = $1`, id)
	e, err := scanProxyEntry(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ProxyEntry{}, ErrNotFound
		}
		return ProxyEntry{}, fmt.Errorf("getting proxy entry %s: %w", id, err)
	}
	return e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProxyEntry(row rowScanner) (ProxyEntry, error) {
	var e ProxyEntry
	var entryType string
	err := row.Scan(&e.ID, &e.Domains, &e.Upstream, &entryType, &e.SSL,
		&e.NginxCustomCode, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return ProxyEntry{}, err
	}
	e.Type = EntryType(entryType)
	return e, nil
}
