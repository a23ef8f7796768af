package certificate

import (
	"bytes"
	"context"
	"encoding/pem"
	"fmt"
	"os/exec"
	"regexp"
	"time"
)

// IssuedCert is the filesystem result of an ACME issuance.
type IssuedCert struct {
	CertPath string
	KeyPath  string
}

// SelfSignedCert is the in-memory result of generating a self-signed pair.
type SelfSignedCert struct {
	CertPEM string
	KeyPEM  string
}

// ACMEAdapter is the narrow subprocess boundary to the ACME client and cert tool:
// the ACME client and the cert inspection tool are external binaries, not
// in-process libraries (explicitly out of scope). Implementations shell
// out; tests substitute a fake.
type ACMEAdapter interface {
	// Issue runs the ACME client non-interactively for the given domain
	// set and admin email, returning the filesystem paths of the
	// resulting PEM files.
	Issue(ctx context.Context, domains []string, email string) (IssuedCert, error)
	// ReadNotAfter extracts the certificate's expiry from a PEM file on
	// disk.
	ReadNotAfter(ctx context.Context, certPath string) (time.Time, error)
	// SelfSign generates a self-signed certificate for the given domains,
	// valid for the given number of days.
	SelfSign(ctx context.Context, domains []string, days int) (SelfSignedCert, error)
	// Modulus returns the RSA modulus of the key or cert at path, for
	// upload-path validation that a cert and key pair match.
	Modulus(ctx context.Context, path string) (string, error)
}

// ExecACMEAdapter shells out to a real ACME client binary (e.g. certbot)
// and the system cert tool (openssl), matching the subprocess contracts in
// the config defaults. HTTP-01 validation is solved through this node's own
// challenge store rather than the ACME client's built-in webroot/standalone
// plugins: certbot's manual-auth-hook/manual-cleanup-hook are pointed back
// at CallbackAddr, the loopback endpoint component E mounts, so whichever
// node is running the issuance (always the leader) is the one that writes
// and clears the token any node in the cluster can then serve back to the
// CA's validator.
type ExecACMEAdapter struct {
	ACMEClientPath string
	CertToolPath   string
	CertLiveDir    string
	CallbackAddr   string
	Timeout        time.Duration
}

// NewExecACMEAdapter wires an adapter against the named binaries.
// callbackAddr is this node's own loopback challenge-publish endpoint
// (e.g. "http://127.0.0.1:3000/internal/acme-challenge"). A 300s subprocess
// timeout leaves headroom for a real ACME order round trip.
func NewExecACMEAdapter(acmeClientPath, certToolPath, certLiveDir, callbackAddr string) *ExecACMEAdapter {
	return &ExecACMEAdapter{
		ACMEClientPath: acmeClientPath,
		CertToolPath:   certToolPath,
		CertLiveDir:    certLiveDir,
		CallbackAddr:   callbackAddr,
		Timeout:        300 * time.Second,
	}
}

func (a *ExecACMEAdapter) Issue(ctx context.Context, domains []string, email string) (IssuedCert, error) {
	if len(domains) == 0 {
		return IssuedCert{}, fmt.Errorf("issue: no domains given")
	}

	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	authHook := fmt.Sprintf(
		`curl -sf -X POST -H "Content-Type: application/json" `+
			`-d "{\"token\":\"$CERTBOT_TOKEN\",\"keyAuth\":\"$CERTBOT_VALIDATION\",\"domain\":\"$CERTBOT_DOMAIN\"}" %s`,
		a.CallbackAddr,
	)
	cleanupHook := fmt.Sprintf(`curl -sf -X DELETE %s/"$CERTBOT_TOKEN"`, a.CallbackAddr)

	args := []string{
		"certonly", "--non-interactive", "--agree-tos", "-m", email,
		"--manual", "--preferred-challenges", "http",
		"--manual-auth-hook", authHook,
		"--manual-cleanup-hook", cleanupHook,
	}
	for _, d := range domains {
		args = append(args, "-d", d)
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, a.ACMEClientPath, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return IssuedCert{}, fmt.Errorf("acme client failed: %w: %s", err, out.String())
	}

	primary := domains[0]
	return IssuedCert{
		CertPath: fmt.Sprintf("%s/%s/fullchain.pem", a.CertLiveDir, primary),
		KeyPath:  fmt.Sprintf("%s/%s/privkey.pem", a.CertLiveDir, primary),
	}, nil
}

var notAfterPattern = regexp.MustCompile(`notAfter=(.+)`)

func (a *ExecACMEAdapter) ReadNotAfter(ctx context.Context, certPath string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, a.CertToolPath, "x509", "-enddate", "-noout", "-in", certPath)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return time.Time{}, fmt.Errorf("cert tool failed: %w: %s", err, out.String())
	}

	m := notAfterPattern.FindStringSubmatch(out.String())
	if m == nil {
		return time.Time{}, fmt.Errorf("parsing notAfter from cert tool output: %q", out.String())
	}

	t, err := time.Parse("Jan 2 15:04:05 2006 MST", trimTrailingNewline(m[1]))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing notAfter date %q: %w", m[1], err)
	}
	return t, nil
}

func (a *ExecACMEAdapter) Modulus(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, a.CertToolPath, "x509", "-noout", "-modulus", "-in", path)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		// Not every path is a cert; try the key variant before failing.
		out.Reset()
		cmd = exec.CommandContext(ctx, a.CertToolPath, "rsa", "-noout", "-modulus", "-in", path)
		cmd.Stdout = &out
		cmd.Stderr = &out
		if keyErr := cmd.Run(); keyErr != nil {
			return "", fmt.Errorf("cert tool modulus failed: %w: %s", err, out.String())
		}
	}
	return trimTrailingNewline(out.String()), nil
}

// SelfSign is implemented with the standard library rather than the
// external cert tool: generating key material is cheap to do in-process
// and correctness-sensitive, and no pack example shells out for key
// generation.
func (a *ExecACMEAdapter) SelfSign(ctx context.Context, domains []string, days int) (SelfSignedCert, error) {
	return generateSelfSignedPEM(domains, days)
}

func trimTrailingNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// verifyPEM is a light sanity check used before writing cert material to
// disk: it must parse as at least one PEM block.
func verifyPEM(data string) error {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return fmt.Errorf("%w: no PEM block found", ErrValidationFailed)
	}
	return nil
}
