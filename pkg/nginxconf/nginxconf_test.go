package nginxconf

import (
	"strings"
	"testing"

	"github.com/ridgeline/proxyguard/internal/store"
)

func alwaysResolvable() Probes {
	return Probes{
		HasCert:            func(string) bool { return false },
		UpstreamResolvable: func(string) bool { return true },
	}
}

func TestRenderEmptyDomainsProducesNothing(t *testing.T) {
	entry := store.ProxyEntry{ID: "e1", Domains: "", Upstream: "app:8080", Type: store.EntryTypeProxy}
	out := Render(entry, Probes{})
	if out != "" {
		t.Errorf("expected empty output, got %q", out)
	}
}

func TestRenderSingleHTTPProxy(t *testing.T) {
	entry := store.ProxyEntry{ID: "e1", Domains: "example.com", Upstream: "app:8080", Type: store.EntryTypeProxy, SSL: false}
	probes := Probes{
		HasCert:            func(string) bool { return false },
		UpstreamResolvable: func(string) bool { return true },
	}

	out := Render(entry, probes)

	if strings.Count(out, "server {") != 1 {
		t.Fatalf("expected exactly one server block, got:\n%s", out)
	}
	if !strings.Contains(out, "listen 80;") {
		t.Error("expected a plain HTTP listener")
	}
	if !strings.Contains(out, "server_name example.com;") {
		t.Error("expected server_name example.com")
	}
	if !strings.Contains(out, "proxy_pass http://app:8080;") {
		t.Error("expected proxy_pass to the upstream")
	}
	if strings.Contains(out, "listen 443") {
		t.Error("did not expect a TLS server block without a cert")
	}
}

func TestRenderHTTPSWhenCertPresent(t *testing.T) {
	entry := store.ProxyEntry{ID: "e1", Domains: "example.com", Upstream: "app:8080", Type: store.EntryTypeProxy, SSL: true}
	probes := Probes{
		HasCert:            func(primary string) bool { return primary == "example.com" },
		UpstreamResolvable: func(string) bool { return true },
	}

	out := Render(entry, probes)

	if !strings.Contains(out, "listen 443 ssl http2;") {
		t.Error("expected an HTTPS server block")
	}
	if !strings.Contains(out, "/.well-known/acme-challenge/") {
		t.Error("expected the HTTP server to still serve ACME challenges")
	}
	if !strings.Contains(out, "return 301 https://$host$request_uri;") {
		t.Error("expected the HTTP server to redirect to HTTPS")
	}
	if !strings.Contains(out, "/etc/letsencrypt/live/example.com/fullchain.pem") {
		t.Error("expected cert path for primary domain")
	}
}

func TestRenderRequiresSSLFlagEvenWithCert(t *testing.T) {
	entry := store.ProxyEntry{ID: "e1", Domains: "example.com", Upstream: "app:8080", Type: store.EntryTypeProxy, SSL: false}
	probes := Probes{
		HasCert:            func(string) bool { return true },
		UpstreamResolvable: func(string) bool { return true },
	}

	out := Render(entry, probes)
	if strings.Contains(out, "listen 443") {
		t.Error("ssl=false must never produce a TLS server block even if a cert exists")
	}
}

func TestRenderUnresolvableUpstreamProduces503(t *testing.T) {
	entry := store.ProxyEntry{ID: "e1", Domains: "example.com", Upstream: "app:8080", Type: store.EntryTypeProxy}
	probes := Probes{
		HasCert:            func(string) bool { return false },
		UpstreamResolvable: func(string) bool { return false },
	}

	out := Render(entry, probes)
	if !strings.Contains(out, "return 503") {
		t.Errorf("expected a 503 fallback server, got:\n%s", out)
	}
}

func TestRenderRedirectType(t *testing.T) {
	entry := store.ProxyEntry{ID: "e1", Domains: "old.com", Upstream: "https://new.com", Type: store.EntryTypeRedirect}
	out := Render(entry, Probes{})

	if !strings.Contains(out, "return 301 https://new.com$request_uri;") {
		t.Errorf("expected a 301 redirect to the target, got:\n%s", out)
	}
}

func TestRenderStripsWildcardDomains(t *testing.T) {
	entry := store.ProxyEntry{ID: "e1", Domains: "*.example.com", Upstream: "app:8080", Type: store.EntryTypeProxy}
	out := Render(entry, alwaysResolvable())

	if !strings.Contains(out, "server_name example.com;") {
		t.Errorf("expected wildcard stripped from server_name, got:\n%s", out)
	}
}

func TestRenderCustomCodeInjected(t *testing.T) {
	entry := store.ProxyEntry{
		ID: "e1", Domains: "example.com", Upstream: "app:8080", Type: store.EntryTypeProxy,
		NginxCustomCode: "add_header X-Custom 1;",
	}
	out := Render(entry, alwaysResolvable())

	if !strings.Contains(out, "add_header X-Custom 1;") {
		t.Errorf("expected custom code injected, got:\n%s", out)
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	entry := store.ProxyEntry{ID: "e1", Domains: "example.com", Upstream: "app:8080", Type: store.EntryTypeProxy, SSL: true}
	probes := Probes{
		HasCert:            func(string) bool { return true },
		UpstreamResolvable: func(string) bool { return true },
	}

	first := Render(entry, probes)
	second := Render(entry, probes)
	if first != second {
		t.Error("expected byte-identical output across repeated renders with unchanged inputs")
	}
}
