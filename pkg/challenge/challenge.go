// Package challenge implements the shared ACME HTTP-01 challenge store
// (component E): the leader creates a token/key-authorization pair on
// whichever node handled the ACME order, and any node in the cluster must
// be able to serve it back when the CA's validator hits
// /.well-known/acme-challenge/:token.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ridgeline/proxyguard/internal/store"
)

// ChallengeStore is the subset of the database gateway this package needs.
type ChallengeStore interface {
	InsertChallenge(ctx context.Context, c store.AcmeChallenge) error
	GetChallenge(ctx context.Context, token string) (store.AcmeChallenge, error)
	DeleteChallenge(ctx context.Context, token string) error
	DeleteExpiredChallenges(ctx context.Context, cutoff time.Time) (int64, error)
}

// ErrExpired is returned by Lookup when a challenge row exists but has
// passed its expiry; the caller should treat this the same as not-found.
var ErrExpired = errors.New("challenge expired")

// DefaultTTL is how long a challenge token remains servable after creation,
// generous enough to cover ACME validator retries.
const DefaultTTL = 10 * time.Minute

// Service manages ACME challenge tokens on top of the shared store.
type Service struct {
	db  ChallengeStore
	ttl time.Duration
}

// New creates a Service with the given token lifetime. Pass 0 to use
// DefaultTTL.
func New(db ChallengeStore, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{db: db, ttl: ttl}
}

// Create stores a new token/key-authorization pair for domain, servable by
// any node until it expires.
func (s *Service) Create(ctx context.Context, token, keyAuth, domain string) error {
	c := store.AcmeChallenge{
		Token:     token,
		KeyAuth:   keyAuth,
		Domain:    domain,
		ExpiresAt: time.Now().Add(s.ttl),
	}
	if err := s.db.InsertChallenge(ctx, c); err != nil {
		return fmt.Errorf("creating challenge for %s: %w", domain, err)
	}
	return nil
}

// Lookup returns the key authorization for token. It reports store.ErrNotFound
// if no such token exists, and ErrExpired (after deleting the stale row) if
// the token existed but is past its expiry.
func (s *Service) Lookup(ctx context.Context, token string) (string, error) {
	c, err := s.db.GetChallenge(ctx, token)
	if err != nil {
		return "", err
	}
	if time.Now().After(c.ExpiresAt) {
		if delErr := s.db.DeleteChallenge(ctx, token); delErr != nil {
			return "", fmt.Errorf("deleting expired challenge %s: %w", token, delErr)
		}
		return "", ErrExpired
	}
	return c.KeyAuth, nil
}

// Delete removes a challenge token once validation has completed.
func (s *Service) Delete(ctx context.Context, token string) error {
	if err := s.db.DeleteChallenge(ctx, token); err != nil {
		return fmt.Errorf("deleting challenge %s: %w", token, err)
	}
	return nil
}

// Sweep deletes every expired challenge row, for use by a periodic cleanup
// caller (e.g. piggybacked on the certificate daily cleanup pass).
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	n, err := s.db.DeleteExpiredChallenges(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("sweeping expired challenges: %w", err)
	}
	return n, nil
}
