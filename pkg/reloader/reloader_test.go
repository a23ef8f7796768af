package reloader

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ridgeline/proxyguard/internal/store"
)

type fakeEntryStore struct {
	entries []store.ProxyEntry
}

func (f *fakeEntryStore) ListProxyEntries(context.Context) ([]store.ProxyEntry, error) {
	return f.entries, nil
}

type fakeCertEnsurer struct {
	calls []string
}

func (f *fakeCertEnsurer) EnsureCertificate(_ context.Context, rawDomains string) (store.Certificate, error) {
	f.calls = append(f.calls, rawDomains)
	return store.Certificate{}, nil
}

type fakeCertProbe struct {
	has map[string]bool
}

func (f *fakeCertProbe) HasCertPair(primary string) bool {
	return f.has[primary]
}

type fakeNginxRunner struct {
	validateErr error
	reloadErr   error
	validations int
	reloads     int
}

func (f *fakeNginxRunner) Validate(context.Context) (string, error) {
	f.validations++
	return "", f.validateErr
}

func (f *fakeNginxRunner) Reload(context.Context) (string, error) {
	f.reloads++
	return "", f.reloadErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReconcileEmptyEntriesSucceeds(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{NginxDir: dir, ConfDDir: filepath.Join(dir, "conf.d")}

	nginx := &fakeNginxRunner{}
	r := New(&fakeEntryStore{}, &fakeCertEnsurer{}, &fakeCertProbe{has: map[string]bool{}}, nginx, testLogger(), cfg)

	res := r.Reconcile(context.Background())
	if !res.OK {
		t.Fatalf("expected success, got error: %s", res.Error)
	}
	if nginx.validations != 2 || nginx.reloads != 2 {
		t.Errorf("expected 2 validate+reload calls (phase 1 and phase 3), got %d/%d", nginx.validations, nginx.reloads)
	}
	if _, err := os.Stat(filepath.Join(dir, "nginx.conf")); err != nil {
		t.Errorf("expected base nginx.conf to be copied from the template tree: %v", err)
	}
}

func TestReconcileWritesConfForEachEntry(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{NginxDir: dir, ConfDDir: filepath.Join(dir, "conf.d")}

	entries := &fakeEntryStore{entries: []store.ProxyEntry{
		{ID: "e1", Domains: "example.com", Upstream: "app:8080", Type: store.EntryTypeProxy},
	}}
	nginx := &fakeNginxRunner{}
	r := New(entries, &fakeCertEnsurer{}, &fakeCertProbe{has: map[string]bool{}}, nginx, testLogger(), cfg)

	res := r.Reconcile(context.Background())
	if !res.OK {
		t.Fatalf("expected success, got error: %s", res.Error)
	}

	confPath := filepath.Join(dir, "conf.d", "e1.conf")
	if _, err := os.Stat(confPath); err != nil {
		t.Fatalf("expected conf.d/e1.conf to exist: %v", err)
	}
}

func TestReconcileAbortsOnValidationFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{NginxDir: dir, ConfDDir: filepath.Join(dir, "conf.d")}

	nginx := &fakeNginxRunner{validateErr: context.DeadlineExceeded}
	r := New(&fakeEntryStore{}, &fakeCertEnsurer{}, &fakeCertProbe{has: map[string]bool{}}, nginx, testLogger(), cfg)

	res := r.Reconcile(context.Background())
	if res.OK {
		t.Fatal("expected failure when nginx -t fails")
	}
	if nginx.reloads != 0 {
		t.Error("reload must never be signaled after a failed validation")
	}
}

func TestReconcileEnsuresCertsForSSLEntriesMissingCert(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{NginxDir: dir, ConfDDir: filepath.Join(dir, "conf.d")}

	entries := &fakeEntryStore{entries: []store.ProxyEntry{
		{ID: "e1", Domains: "example.com", Upstream: "app:8080", Type: store.EntryTypeProxy, SSL: true},
		{ID: "e2", Domains: "other.com", Upstream: "app2:8080", Type: store.EntryTypeProxy, SSL: true},
	}}
	certs := &fakeCertEnsurer{}
	probe := &fakeCertProbe{has: map[string]bool{"other.com": true}}
	nginx := &fakeNginxRunner{}
	r := New(entries, certs, probe, nginx, testLogger(), cfg)

	res := r.Reconcile(context.Background())
	if !res.OK {
		t.Fatalf("expected success, got: %s", res.Error)
	}
	if len(certs.calls) != 1 || certs.calls[0] != "example.com" {
		t.Errorf("expected EnsureCertificate called only for the entry missing a cert, got %v", certs.calls)
	}
}

func TestReconcileIdempotentOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{NginxDir: dir, ConfDDir: filepath.Join(dir, "conf.d")}

	entries := &fakeEntryStore{entries: []store.ProxyEntry{
		{ID: "e1", Domains: "example.com", Upstream: "app:8080", Type: store.EntryTypeProxy},
	}}
	nginx := &fakeNginxRunner{}
	r := New(entries, &fakeCertEnsurer{}, &fakeCertProbe{has: map[string]bool{}}, nginx, testLogger(), cfg)

	first := r.Reconcile(context.Background())
	firstConf, err := os.ReadFile(filepath.Join(dir, "conf.d", "e1.conf"))
	if err != nil {
		t.Fatalf("reading first conf: %v", err)
	}

	second := r.Reconcile(context.Background())
	secondConf, err := os.ReadFile(filepath.Join(dir, "conf.d", "e1.conf"))
	if err != nil {
		t.Fatalf("reading second conf: %v", err)
	}

	if !first.OK || !second.OK {
		t.Fatalf("expected both reconciliations to succeed: %s / %s", first.Error, second.Error)
	}
	if string(firstConf) != string(secondConf) {
		t.Error("expected byte-identical conf.d output across repeated reconciliations with no DB changes")
	}
}
