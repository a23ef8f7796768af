package certificate

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirFilesystem writes certificate material under a real
// /etc/letsencrypt/live-shaped directory tree.
type DirFilesystem struct {
	LiveDir string
}

// NewDirFilesystem wires a DirFilesystem rooted at liveDir (e.g.
// "/etc/letsencrypt/live").
func NewDirFilesystem(liveDir string) *DirFilesystem {
	return &DirFilesystem{LiveDir: liveDir}
}

// WriteCertPair writes fullchain.pem and privkey.pem under
// <LiveDir>/<primary>/, creating the directory if needed.
func (d *DirFilesystem) WriteCertPair(primary, certPEM, keyPEM string) error {
	dir := filepath.Join(d.LiveDir, primary)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cert directory %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "fullchain.pem"), []byte(certPEM), 0o644); err != nil {
		return fmt.Errorf("writing fullchain.pem for %s: %w", primary, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "privkey.pem"), []byte(keyPEM), 0o600); err != nil {
		return fmt.Errorf("writing privkey.pem for %s: %w", primary, err)
	}
	return nil
}

// RemoveCertDir best-effort removes the cert directory for primary. Errors
// are returned, but DeleteCertificate treats filesystem removal
// as best-effort and proceeds to delete the DB row regardless.
func (d *DirFilesystem) RemoveCertDir(primary string) error {
	dir := filepath.Join(d.LiveDir, primary)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing cert directory %s: %w", dir, err)
	}
	return nil
}

// readIssuedPEMs reads the cert and key files an ACMEAdapter.Issue call
// produced on disk.
func readIssuedPEMs(issued IssuedCert) (certPEM, keyPEM string, err error) {
	cert, err := os.ReadFile(issued.CertPath)
	if err != nil {
		return "", "", fmt.Errorf("reading issued cert %s: %w", issued.CertPath, err)
	}
	key, err := os.ReadFile(issued.KeyPath)
	if err != nil {
		return "", "", fmt.Errorf("reading issued key %s: %w", issued.KeyPath, err)
	}
	return string(cert), string(key), nil
}

// HasCertPair reports whether both fullchain.pem and privkey.pem exist
// under <LiveDir>/<primary>/, the probe pkg/nginxconf uses to decide
// hasCert for a rendered server block.
func (d *DirFilesystem) HasCertPair(primary string) bool {
	dir := filepath.Join(d.LiveDir, primary)
	if _, err := os.Stat(filepath.Join(dir, "fullchain.pem")); err != nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(dir, "privkey.pem")); err != nil {
		return false
	}
	return true
}
