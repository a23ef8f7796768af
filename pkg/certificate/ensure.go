package certificate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ridgeline/proxyguard/internal/store"
	"github.com/ridgeline/proxyguard/internal/telemetry"
	"github.com/ridgeline/proxyguard/pkg/domainset"
)

// EnsureCertificate is the engine's central
// operation. It is a no-op in development mode. On a cache hit it writes
// the cached PEMs to the filesystem and bumps LastUsedAt. On a miss, only
// the leader runs the ACME client; non-leaders apply cfg.NonLeaderPolicy.
func (e *Engine) EnsureCertificate(ctx context.Context, rawDomains string) (store.Certificate, error) {
	if e.cfg.Development {
		return store.Certificate{}, nil
	}

	domains := domainset.Parse(rawDomains)
	if len(domains) == 0 {
		return store.Certificate{}, fmt.Errorf("%w: empty domain list", ErrValidationFailed)
	}
	primary := domains[0]

	cert, err := e.findValid(ctx, domains)
	if err == nil {
		if writeErr := e.fs.WriteCertPair(primary, cert.CertPEM, cert.KeyPEM); writeErr != nil {
			return store.Certificate{}, fmt.Errorf("writing cached cert for %s: %w", primary, writeErr)
		}
		if touchErr := e.store.TouchCertificateLastUsed(ctx, cert.ID, time.Now()); touchErr != nil {
			e.logger.Warn("touching certificate last-used", "id", cert.ID, "error", touchErr)
		}
		return cert, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Certificate{}, fmt.Errorf("looking up certificate for %v: %w", domains, err)
	}

	if !e.locks.IsLeader() {
		return e.ensureCertificateAsNonLeader(ctx, domains)
	}

	return e.issueCertificate(ctx, domains)
}

// ensureCertificateAsNonLeader applies the policy decided for the open
// question resolved as: poll findValid briefly in case the leader is
// already issuing, otherwise report ErrNoCertificate rather than block.
func (e *Engine) ensureCertificateAsNonLeader(ctx context.Context, domains []string) (store.Certificate, error) {
	if e.cfg.NonLeaderPolicy == NonLeaderSkip {
		return store.Certificate{}, ErrNoCertificate
	}

	const pollAttempts = 3
	const pollDelay = 2 * time.Second

	for i := 0; i < pollAttempts; i++ {
		select {
		case <-ctx.Done():
			return store.Certificate{}, ctx.Err()
		case <-time.After(pollDelay):
		}

		cert, err := e.findValid(ctx, domains)
		if err == nil {
			primary := domains[0]
			if writeErr := e.fs.WriteCertPair(primary, cert.CertPEM, cert.KeyPEM); writeErr != nil {
				return store.Certificate{}, fmt.Errorf("writing cached cert for %s: %w", primary, writeErr)
			}
			return cert, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return store.Certificate{}, fmt.Errorf("polling for certificate: %w", err)
		}
	}
	return store.Certificate{}, ErrNoCertificate
}

// issueCertificate runs the ACME client (leader-only caller) and persists
// the result.
func (e *Engine) issueCertificate(ctx context.Context, domains []string) (store.Certificate, error) {
	primary := domains[0]

	issued, err := e.acme.Issue(ctx, domains, e.cfg.AdminEmail)
	if err != nil {
		telemetry.CertificateIssuanceFailuresTotal.WithLabelValues("acme").Inc()
		return store.Certificate{}, &RenewalError{Domains: domains, Cause: err}
	}

	certPEM, keyPEM, err := readIssuedPEMs(issued)
	if err != nil {
		return store.Certificate{}, &RenewalError{Domains: domains, Cause: err}
	}

	notAfter, err := e.acme.ReadNotAfter(ctx, issued.CertPath)
	if err != nil {
		e.logger.Warn("reading certificate expiry, defaulting to 90 days", "domains", domains, "error", err)
		notAfter = time.Now().Add(90 * 24 * time.Hour)
	}

	now := time.Now()
	cert := store.Certificate{
		ID:          uuid.NewString(),
		Domains:     domainset.Join(domains),
		DomainsHash: domainset.Hash(domains),
		CertPEM:     certPEM,
		KeyPEM:      keyPEM,
		IssuedAt:    now,
		ExpiresAt:   notAfter,
		LastUsedAt:  now,
		IsOrphaned:  false,
	}

	saved, err := e.store.InsertCertificate(ctx, cert)
	if err != nil {
		return store.Certificate{}, fmt.Errorf("saving issued certificate for %s: %w", primary, err)
	}

	if err := e.fs.WriteCertPair(primary, saved.CertPEM, saved.KeyPEM); err != nil {
		return store.Certificate{}, fmt.Errorf("writing issued cert for %s: %w", primary, err)
	}

	telemetry.CertificatesIssuedTotal.WithLabelValues("acme").Inc()
	return saved, nil
}
