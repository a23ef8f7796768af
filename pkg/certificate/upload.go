package certificate

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ridgeline/proxyguard/internal/store"
	"github.com/ridgeline/proxyguard/internal/telemetry"
	"github.com/ridgeline/proxyguard/pkg/domainset"
)

// UploadRequest is the input to UploadCertificate.
type UploadRequest struct {
	Domains []string
	CertPEM string
	KeyPEM  string
	ChainPEM string
}

// UploadCertificate validates that certPEM and keyPEM form a matching
// pair, composes the full chain when a chain is supplied, persists the
// result, and writes it to the filesystem under the primary domain.
func (e *Engine) UploadCertificate(ctx context.Context, req UploadRequest) (store.Certificate, error) {
	if len(req.Domains) == 0 {
		return store.Certificate{}, fmt.Errorf("%w: empty domain list", ErrValidationFailed)
	}
	if err := verifyPEM(req.CertPEM); err != nil {
		return store.Certificate{}, err
	}
	if err := verifyPEM(req.KeyPEM); err != nil {
		return store.Certificate{}, err
	}

	fullChain := req.CertPEM
	if req.ChainPEM != "" {
		fullChain = req.CertPEM + "\n" + req.ChainPEM
	}

	notAfter, cleanup, err := e.validateUploadedPair(ctx, fullChain, req.KeyPEM)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		return store.Certificate{}, err
	}

	primary := req.Domains[0]
	now := time.Now()
	cert := store.Certificate{
		ID:          uuid.NewString(),
		Domains:     domainset.Join(req.Domains),
		DomainsHash: domainset.Hash(req.Domains),
		CertPEM:     fullChain,
		KeyPEM:      req.KeyPEM,
		IssuedAt:    now,
		ExpiresAt:   notAfter,
		LastUsedAt:  now,
		IsOrphaned:  false,
	}

	saved, err := e.store.InsertCertificate(ctx, cert)
	if err != nil {
		return store.Certificate{}, fmt.Errorf("saving uploaded certificate for %s: %w", primary, err)
	}

	if err := e.fs.WriteCertPair(primary, saved.CertPEM, saved.KeyPEM); err != nil {
		return store.Certificate{}, fmt.Errorf("writing uploaded cert for %s: %w", primary, err)
	}

	telemetry.CertificatesIssuedTotal.WithLabelValues("upload").Inc()
	return saved, nil
}

// validateUploadedPair writes temp files for cert/key, checks their
// moduli match via the subprocess adapter, and reads the cert's expiry.
// Temp files are always cleaned up by the returned func regardless of
// outcome.
func (e *Engine) validateUploadedPair(ctx context.Context, certPEM, keyPEM string) (time.Time, func(), error) {
	certFile, err := os.CreateTemp("", "proxyguard-upload-cert-*.pem")
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("creating temp cert file: %w", err)
	}
	keyFile, err := os.CreateTemp("", "proxyguard-upload-key-*.pem")
	if err != nil {
		os.Remove(certFile.Name())
		return time.Time{}, nil, fmt.Errorf("creating temp key file: %w", err)
	}

	cleanup := func() {
		os.Remove(certFile.Name())
		os.Remove(keyFile.Name())
	}

	if _, err := certFile.WriteString(certPEM); err != nil {
		certFile.Close()
		keyFile.Close()
		return time.Time{}, cleanup, fmt.Errorf("writing temp cert file: %w", err)
	}
	certFile.Close()
	if _, err := keyFile.WriteString(keyPEM); err != nil {
		keyFile.Close()
		return time.Time{}, cleanup, fmt.Errorf("writing temp key file: %w", err)
	}
	keyFile.Close()

	certModulus, err := e.acme.Modulus(ctx, certFile.Name())
	if err != nil {
		return time.Time{}, cleanup, fmt.Errorf("reading certificate modulus: %w", err)
	}
	keyModulus, err := e.acme.Modulus(ctx, keyFile.Name())
	if err != nil {
		return time.Time{}, cleanup, fmt.Errorf("reading key modulus: %w", err)
	}
	if certModulus != keyModulus {
		return time.Time{}, cleanup, fmt.Errorf("%w: certificate and key modulus mismatch", ErrValidationFailed)
	}

	notAfter, err := e.acme.ReadNotAfter(ctx, certFile.Name())
	if err != nil {
		return time.Time{}, cleanup, fmt.Errorf("reading certificate expiry: %w", err)
	}

	return notAfter, cleanup, nil
}

// GenerateSelfSigned creates a 2048-bit RSA self-signed
// certificate valid for cfg.SelfSignedDays, persisted the same way as an
// upload.
func (e *Engine) GenerateSelfSigned(ctx context.Context, domains []string) (store.Certificate, error) {
	if len(domains) == 0 {
		return store.Certificate{}, fmt.Errorf("%w: empty domain list", ErrValidationFailed)
	}

	signed, err := e.acme.SelfSign(ctx, domains, e.cfg.SelfSignedDays)
	if err != nil {
		telemetry.CertificateIssuanceFailuresTotal.WithLabelValues("self-signed").Inc()
		return store.Certificate{}, fmt.Errorf("generating self-signed certificate: %w", err)
	}

	primary := domains[0]
	now := time.Now()
	cert := store.Certificate{
		ID:          uuid.NewString(),
		Domains:     domainset.Join(domains),
		DomainsHash: domainset.Hash(domains),
		CertPEM:     signed.CertPEM,
		KeyPEM:      signed.KeyPEM,
		IssuedAt:    now,
		ExpiresAt:   now.Add(time.Duration(e.cfg.SelfSignedDays) * 24 * time.Hour),
		LastUsedAt:  now,
		IsOrphaned:  false,
	}

	saved, err := e.store.InsertCertificate(ctx, cert)
	if err != nil {
		return store.Certificate{}, fmt.Errorf("saving self-signed certificate for %s: %w", primary, err)
	}

	if err := e.fs.WriteCertPair(primary, saved.CertPEM, saved.KeyPEM); err != nil {
		return store.Certificate{}, fmt.Errorf("writing self-signed cert for %s: %w", primary, err)
	}

	telemetry.CertificatesIssuedTotal.WithLabelValues("self-signed").Inc()
	return saved, nil
}
