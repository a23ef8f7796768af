// Package certificate implements the certificate lifecycle engine
// (component F): lookup/cache by domain-set hash, ACME issuance gated by
// the cluster leader lock, upload and self-signed paths, a periodic
// renewal sweep, and daily orphan/expiry cleanup.
package certificate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ridgeline/proxyguard/internal/store"
)

// Store is the subset of the database gateway this engine needs.
type Store interface {
	InsertCertificate(ctx context.Context, c store.Certificate) (store.Certificate, error)
	FindValidCertificate(ctx context.Context, domainsHash string, expiresAfter time.Time) (store.Certificate, error)
	GetCertificate(ctx context.Context, id string) (store.Certificate, error)
	ListCertificates(ctx context.Context) ([]store.Certificate, error)
	TouchCertificateLastUsed(ctx context.Context, id string, at time.Time) error
	SetCertificateOrphaned(ctx context.Context, id string, orphaned bool) error
	DeleteCertificate(ctx context.Context, id string) error
	DeleteExpiredCertificates(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteOrphanedCertificates(ctx context.Context) (int64, error)
	ListProxyEntries(ctx context.Context) ([]store.ProxyEntry, error)
}

// Leader reports whether this process currently holds the cluster leader
// lock. The lock is held continuously for the lifetime of the leader node
// rather than re-acquired per operation, so the engine only ever needs the
// pure local check. Satisfied by *lock.Manager.
type Leader interface {
	IsLeader() bool
}

// Filesystem is the narrow set of filesystem operations the engine needs,
// kept as an interface so tests never touch a real disk.
type Filesystem interface {
	WriteCertPair(primary, certPEM, keyPEM string) error
	RemoveCertDir(primary string) error
}

// Reloader requests a local nginx reload after the renewal sweep
// completes.
type Reloader interface {
	Reload(ctx context.Context) error
}

// NonLeaderPolicy controls what ensureCertificate does on a non-leader node
// when no valid cached certificate exists.
type NonLeaderPolicy int

const (
	// NonLeaderPoll retries findValid a few times with a short delay
	// before giving up. This is the default: it gives the leader a
	// realistic window to finish issuing before the caller gives up.
	NonLeaderPoll NonLeaderPolicy = iota
	// NonLeaderSkip returns immediately without a certificate.
	NonLeaderSkip
)

var (
	// ErrValidationFailed reports a malformed or mismatched cert/key pair.
	ErrValidationFailed = errors.New("certificate validation failed")
	// ErrNoCertificate is returned by ensureCertificate on a non-leader
	// node when no cached certificate exists and the policy is skip (or
	// polling is exhausted).
	ErrNoCertificate = errors.New("no certificate available")
)

// RenewalError wraps an ACME client failure with the domain group that
// failed.
type RenewalError struct {
	Domains []string
	Cause   error
}

func (e *RenewalError) Error() string {
	return fmt.Sprintf("renewing certificate for %v: %v", e.Domains, e.Cause)
}

func (e *RenewalError) Unwrap() error { return e.Cause }

// Config holds the engine's tunables, sourced from env in production.
type Config struct {
	AdminEmail      string
	RenewBeforeDays int
	Development     bool
	NonLeaderPolicy NonLeaderPolicy
	RenewInterval   time.Duration
	CertLiveDir     string
	SelfSignedDays  int
}

// DefaultConfig returns the documented defaults: 30 day renewal window, 12h
// renewal sweep interval, 365 day self-signed validity.
func DefaultConfig() Config {
	return Config{
		RenewBeforeDays: 30,
		NonLeaderPolicy: NonLeaderPoll,
		RenewInterval:   12 * time.Hour,
		CertLiveDir:     "/etc/letsencrypt/live",
		SelfSignedDays:  365,
	}
}

// Engine is the certificate lifecycle service for one node.
type Engine struct {
	store  Store
	locks  Leader
	fs     Filesystem
	acme   ACMEAdapter
	reload Reloader
	logger *slog.Logger
	cfg    Config
}

// New wires an Engine from its collaborators.
func New(st Store, locks Leader, fs Filesystem, acme ACMEAdapter, reload Reloader, logger *slog.Logger, cfg Config) *Engine {
	return &Engine{store: st, locks: locks, fs: fs, acme: acme, reload: reload, logger: logger, cfg: cfg}
}
