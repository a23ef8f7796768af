package certificate

import (
	"context"
	"fmt"
	"time"

	"github.com/ridgeline/proxyguard/internal/store"
	"github.com/ridgeline/proxyguard/pkg/domainset"
)

// findValid looks up the active, non-orphaned,
// not-about-to-expire row for this domain set, or store.ErrNotFound.
func (e *Engine) findValid(ctx context.Context, domains []string) (store.Certificate, error) {
	hash := domainset.Hash(domains)
	expiresAfter := time.Now().Add(time.Duration(e.cfg.RenewBeforeDays) * 24 * time.Hour)

	cert, err := e.store.FindValidCertificate(ctx, hash, expiresAfter)
	if err != nil {
		return store.Certificate{}, err
	}
	return cert, nil
}

// getValid is findValid plus a LastUsedAt touch, for callers that are
// about to actually serve the certificate.
func (e *Engine) getValid(ctx context.Context, domains []string) (store.Certificate, error) {
	cert, err := e.findValid(ctx, domains)
	if err != nil {
		return store.Certificate{}, err
	}
	if err := e.store.TouchCertificateLastUsed(ctx, cert.ID, time.Now()); err != nil {
		return store.Certificate{}, fmt.Errorf("touching certificate %s: %w", cert.ID, err)
	}
	cert.LastUsedAt = time.Now()
	return cert, nil
}
