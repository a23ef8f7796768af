package certificate

import (
	"context"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/ridgeline/proxyguard/internal/store"
	"github.com/ridgeline/proxyguard/pkg/domainset"
)

// Status classifies a certificate's remaining lifetime.
type Status string

const (
	StatusExpired      Status = "expired"
	StatusExpiringSoon Status = "expiring_soon"
	StatusValid        Status = "valid"
)

// CertificateInfo pairs a stored certificate with its derived status, for
// the listing surface.
type CertificateInfo struct {
	Certificate      store.Certificate
	DaysUntilExpiry  int
	Status           Status
}

// classify implements the expired/expiring-soon/valid three-way split.
func (e *Engine) classify(cert store.Certificate) CertificateInfo {
	days := daysUntilExpiry(cert.ExpiresAt)

	status := StatusValid
	switch {
	case days < 0:
		status = StatusExpired
	case days <= e.cfg.RenewBeforeDays:
		status = StatusExpiringSoon
	}

	return CertificateInfo{Certificate: cert, DaysUntilExpiry: days, Status: status}
}

func daysUntilExpiry(expiresAt time.Time) int {
	d := time.Until(expiresAt)
	return int(math.Ceil(d.Hours() / 24))
}

// ListWithStatus returns every stored certificate with its derived status.
func (e *Engine) ListWithStatus(ctx context.Context) ([]CertificateInfo, error) {
	certs, err := e.store.ListCertificates(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing certificates: %w", err)
	}

	out := make([]CertificateInfo, 0, len(certs))
	for _, c := range certs {
		out = append(out, e.classify(c))
	}
	return out, nil
}

// DomainValidation is the result of a DNS resolvability probe for a single
// domain.
type DomainValidation struct {
	Domain  string
	Valid   bool
	Message string
}

// ValidateDomain performs the DNS A/AAAA lookup used to gate issuance.
func (e *Engine) ValidateDomain(ctx context.Context, domain string) DomainValidation {
	clean := domainset.StripWildcard(domain)

	var resolver net.Resolver
	addrs, err := resolver.LookupHost(ctx, clean)
	if err != nil || len(addrs) == 0 {
		msg := "no DNS records found"
		if err != nil {
			msg = err.Error()
		}
		return DomainValidation{Domain: domain, Valid: false, Message: msg}
	}
	return DomainValidation{Domain: domain, Valid: true, Message: "resolved"}
}

// DeleteCertificate removes a certificate's row and, best-effort, its filesystem
// removal under the certificate's primary domain, then delete the row
// regardless of filesystem outcome.
func (e *Engine) DeleteCertificate(ctx context.Context, id string) error {
	cert, err := e.store.GetCertificate(ctx, id)
	if err != nil {
		return fmt.Errorf("getting certificate %s: %w", id, err)
	}

	primary := domainset.Primary(domainset.Parse(cert.Domains))
	if primary != "" {
		if err := e.fs.RemoveCertDir(primary); err != nil {
			e.logger.Warn("removing certificate directory", "primary", primary, "error", err)
		}
	}

	if err := e.store.DeleteCertificate(ctx, id); err != nil {
		return fmt.Errorf("deleting certificate %s: %w", id, err)
	}
	return nil
}
