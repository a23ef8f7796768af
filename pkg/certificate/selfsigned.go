package certificate

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// generateSelfSignedPEM builds a 2048-bit RSA key and a self-signed X.509
// certificate valid for the given number of days, CN set to the primary
// domain and SANs covering the full domain set. This is
// the one place the engine reaches for the standard library instead of
// the ACME/cert-tool subprocess boundary: no example in the pack shells
// out for key generation, and crypto/x509+crypto/rsa is the idiomatic Go
// way to mint a cert in-process.
func generateSelfSignedPEM(domains []string, days int) (SelfSignedCert, error) {
	if len(domains) == 0 {
		return SelfSignedCert{}, fmt.Errorf("self-sign: no domains given")
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return SelfSignedCert{}, fmt.Errorf("generating RSA key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return SelfSignedCert{}, fmt.Errorf("generating serial number: %w", err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: domains[0]},
		NotBefore:             now,
		NotAfter:              now.Add(time.Duration(days) * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              domains,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return SelfSignedCert{}, fmt.Errorf("creating self-signed certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	return SelfSignedCert{CertPEM: string(certPEM), KeyPEM: string(keyPEM)}, nil
}
