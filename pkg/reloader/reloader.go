// Package reloader implements the on-node reconciliation driver
// (component I): a three-phase rebuild of /etc/nginx from declarative
// proxy entries, validated out-of-process and reloaded gracefully.
package reloader

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/ridgeline/proxyguard/internal/store"
	"github.com/ridgeline/proxyguard/internal/telemetry"
	"github.com/ridgeline/proxyguard/pkg/domainset"
	"github.com/ridgeline/proxyguard/pkg/nginxconf"
)

// EntryStore is the subset of the database gateway the reconciler needs.
type EntryStore interface {
	ListProxyEntries(ctx context.Context) ([]store.ProxyEntry, error)
}

// CertEnsurer runs the leader-gated certificate issuance path (component
// F's EnsureCertificate). Non-leader nodes calling this is safe: the
// engine itself decides whether to actually invoke the ACME client.
type CertEnsurer interface {
	EnsureCertificate(ctx context.Context, rawDomains string) (store.Certificate, error)
}

// CertProbe reports whether a usable certificate exists for a primary
// domain, used to build nginxconf.Probes for each render pass.
type CertProbe interface {
	HasCertPair(primary string) bool
}

// NGINXRunner is the subprocess boundary to the nginx binary itself.
type NGINXRunner interface {
	Validate(ctx context.Context) (string, error)
	Reload(ctx context.Context) (string, error)
}

// Config holds the reconciler's filesystem roots and timer interval.
type Config struct {
	NginxDir       string
	ConfDDir       string
	ReloadInterval time.Duration
}

// DefaultConfig returns /etc/nginx as the root and the 5 minute periodic
// reload interval.
func DefaultConfig() Config {
	return Config{
		NginxDir:       "/etc/nginx",
		ConfDDir:       "/etc/nginx/conf.d",
		ReloadInterval: 5 * time.Minute,
	}
}

// Result reports the outcome of one reconciliation pass.
type Result struct {
	OK    bool
	Error string
}

// Reconciler drives the reconciliation algorithm for one node. Invocations
// are serialized on a local mutex: no two reloads run concurrently on the
// same node.
type Reconciler struct {
	entries EntryStore
	certs   CertEnsurer
	probe   CertProbe
	nginx   NGINXRunner
	logger  *slog.Logger
	cfg     Config

	mu sync.Mutex
}

// New wires a Reconciler from its collaborators.
func New(entries EntryStore, certs CertEnsurer, probe CertProbe, nginx NGINXRunner, logger *slog.Logger, cfg Config) *Reconciler {
	return &Reconciler{entries: entries, certs: certs, probe: probe, nginx: nginx, logger: logger, cfg: cfg}
}

// Reconcile runs the full three-phase reconciliation algorithm. It is
// serialized: a call that arrives while another is in flight
// blocks until the first completes.
func (r *Reconciler) Reconcile(ctx context.Context) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	defer func() {
		telemetry.ReloadDuration.Observe(time.Since(start).Seconds())
	}()

	if err := r.phase0Reset(); err != nil {
		return Result{OK: false, Error: fmt.Sprintf("phase 0 filesystem reset: %v", err)}
	}

	entries, err := r.entries.ListProxyEntries(ctx)
	if err != nil {
		return Result{OK: false, Error: fmt.Sprintf("loading proxy entries: %v", err)}
	}

	if err := r.renderAll(entries); err != nil {
		return Result{OK: false, Error: fmt.Sprintf("phase 1 render: %v", err)}
	}
	if out, err := r.nginx.Validate(ctx); err != nil {
		return Result{OK: false, Error: fmt.Sprintf("nginx -t failed: %v: %s", err, out)}
	}
	if out, err := r.nginx.Reload(ctx); err != nil {
		return Result{OK: false, Error: fmt.Sprintf("nginx -s reload failed: %v: %s", err, out)}
	}

	r.ensureCerts(ctx, entries)

	if err := r.renderAll(entries); err != nil {
		return Result{OK: false, Error: fmt.Sprintf("phase 3 render: %v", err)}
	}
	if out, err := r.nginx.Validate(ctx); err != nil {
		return Result{OK: false, Error: fmt.Sprintf("nginx -t failed: %v: %s", err, out)}
	}
	if out, err := r.nginx.Reload(ctx); err != nil {
		return Result{OK: false, Error: fmt.Sprintf("nginx -s reload failed: %v: %s", err, out)}
	}

	return Result{OK: true}
}

// phase0Reset clears /etc/nginx, copies the packaged template tree back
// in, and ensures /var/log/nginx exists. Directories referenced by custom
// nginx code are created later, by renderAll.
func (r *Reconciler) phase0Reset() error {
	if err := clearDir(r.cfg.NginxDir); err != nil {
		return fmt.Errorf("clearing %s: %w", r.cfg.NginxDir, err)
	}
	if err := nginxconf.CopyTemplateTree(r.cfg.NginxDir); err != nil {
		return fmt.Errorf("copying template tree: %w", err)
	}
	if err := os.MkdirAll("/var/log/nginx", 0o755); err != nil {
		return fmt.Errorf("creating /var/log/nginx: %w", err)
	}
	return nil
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(dir, 0o755)
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

var directivePaths = []*regexp.Regexp{
	regexp.MustCompile(`root\s+([^;]+);`),
	regexp.MustCompile(`alias\s+([^;]+);`),
}

// ensureCustomCodeDirs scans every entry's custom code for root/alias
// directives and creates the directories they reference.
func ensureCustomCodeDirs(entries []store.ProxyEntry) error {
	for _, e := range entries {
		for _, re := range directivePaths {
			for _, m := range re.FindAllStringSubmatch(e.NginxCustomCode, -1) {
				path := trimQuotes(m[1])
				if path == "" {
					continue
				}
				if err := os.MkdirAll(path, 0o755); err != nil {
					return fmt.Errorf("creating directory %s referenced by entry %s: %w", path, e.ID, err)
				}
			}
		}
	}
	return nil
}

func trimQuotes(s string) string {
	s = trimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}

// renderAll first creates the directories referenced by entries' custom
// code, then writes every entry's conf file atomically.
func (r *Reconciler) renderAll(entries []store.ProxyEntry) error {
	if err := ensureCustomCodeDirs(entries); err != nil {
		return err
	}

	for _, e := range entries {
		rendered := nginxconf.Render(e, r.probesFor())
		if rendered == "" {
			continue
		}
		if err := writeConfAtomically(r.cfg.ConfDDir, e.ID, rendered); err != nil {
			return fmt.Errorf("rendering entry %s: %w", e.ID, err)
		}
	}
	return nil
}

func writeConfAtomically(confDDir, entryID, contents string) error {
	if err := os.MkdirAll(confDDir, 0o755); err != nil {
		return err
	}
	final := filepath.Join(confDDir, entryID+".conf")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, []byte(contents), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

func (r *Reconciler) probesFor() nginxconf.Probes {
	return nginxconf.Probes{
		HasCert:            r.probe.HasCertPair,
		UpstreamResolvable: dnsResolvable,
	}
}

func dnsResolvable(host string) bool {
	if host == "" {
		return false
	}
	var resolver net.Resolver
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	addrs, err := resolver.LookupHost(ctx, host)
	return err == nil && len(addrs) > 0
}

// ensureCerts implements phase 2: for every ssl=true entry missing a cert
// pair, call EnsureCertificate. Per-entry failures are logged, never
// abort the phase.
func (r *Reconciler) ensureCerts(ctx context.Context, entries []store.ProxyEntry) {
	for _, e := range entries {
		if !e.SSL {
			continue
		}
		domains := domainset.Parse(e.Domains)
		if len(domains) == 0 {
			continue
		}
		primary := domains[0]
		if r.probe.HasCertPair(primary) {
			continue
		}
		if _, err := r.certs.EnsureCertificate(ctx, e.Domains); err != nil {
			r.logger.Error("ensuring certificate during reconciliation", "entry_id", e.ID, "error", err)
		}
	}
}

// ReconcileOrError adapts Reconcile's Result to a plain error, for callers
// (e.g. pkg/cluster's reload handler and fan-out) that just need
// success/failure.
func (r *Reconciler) ReconcileOrError(ctx context.Context) error {
	res := r.Reconcile(ctx)
	if !res.OK {
		return fmt.Errorf("%s", res.Error)
	}
	return nil
}

// StartPeriodicReload runs Reconcile every cfg.ReloadInterval until ctx is
// cancelled, logging but not propagating per-tick failures.
func (r *Reconciler) StartPeriodicReload(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if res := r.Reconcile(ctx); !res.OK {
				r.logger.Error("periodic reload failed", "error", res.Error)
			}
		}
	}
}
