// Package nginxconf implements the NGINX config generator (component H):
// a pure function of (entry, injected probes) -> rendered server blocks.
// Rendering never touches a filesystem or network itself; callers
// (pkg/reloader) supply probe results so rendering stays deterministic in
// tests. CopyTemplateTree, which writes the packaged template tree to disk,
// is the package's only filesystem writer.
package nginxconf

import (
	"fmt"
	"strings"

	"github.com/ridgeline/proxyguard/internal/store"
	"github.com/ridgeline/proxyguard/pkg/domainset"
)

// Probes are the external facts the generator needs but must not compute
// itself: DNS resolvability and cert presence must be injected for
// determinism in tests.
type Probes struct {
	// HasCert reports whether both fullchain.pem and privkey.pem exist
	// for the given primary domain.
	HasCert func(primary string) bool
	// UpstreamResolvable reports whether the given upstream host is
	// currently DNS-resolvable.
	UpstreamResolvable func(host string) bool
}

const (
	connectTimeout = "5s"
	sendTimeout    = "60s"
	readTimeout    = "60s"
)

// Render produces the contents of conf.d/<entry.id>.conf for one
// ProxyEntry, or an empty string if the entry has no usable domains.
func Render(entry store.ProxyEntry, probes Probes) string {
	domains := domainset.NormalizeForServerName(entry.Domains)
	if len(domains) == 0 {
		return ""
	}
	primary := domains[0]
	serverNames := strings.Join(domains, " ")

	switch entry.Type {
	case store.EntryTypeRedirect:
		return renderRedirect(entry, serverNames, primary, probes)
	default:
		return renderProxy(entry, domains, serverNames, primary, probes)
	}
}

func hasUsableCert(entry store.ProxyEntry, primary string, probes Probes) bool {
	if !entry.SSL {
		return false
	}
	if probes.HasCert == nil || !probes.HasCert(primary) {
		return false
	}
	return true
}

func renderProxy(entry store.ProxyEntry, domains []string, serverNames, primary string, probes Probes) string {
	resolvable := true
	if probes.UpstreamResolvable != nil {
		resolvable = probes.UpstreamResolvable(upstreamHost(entry.Upstream))
	}

	if !resolvable {
		return renderUnavailable(serverNames, entry)
	}

	var b strings.Builder
	if hasUsableCert(entry, primary, probes) {
		writeACMERedirectServer(&b, serverNames)
		writeHTTPSProxyServer(&b, entry, serverNames, primary)
	} else {
		writeHTTPProxyServer(&b, entry, serverNames)
	}
	return b.String()
}

func renderRedirect(entry store.ProxyEntry, serverNames, primary string, probes Probes) string {
	var b strings.Builder
	if hasUsableCert(entry, primary, probes) {
		writeACMERedirectServer(&b, serverNames)
		writeHTTPSRedirectServer(&b, entry, serverNames, primary)
	} else {
		writeHTTPRedirectServer(&b, entry, serverNames)
	}
	return b.String()
}

// renderUnavailable emits a server that always answers 503, keeping nginx
// valid when the proxy target's host can't currently be resolved.
func renderUnavailable(serverNames string, entry store.ProxyEntry) string {
	return fmt.Sprintf(`server {
    listen 80;
    server_name %s;

    location / {
        return 503 "upstream unavailable";
        default_type text/plain;
    }
}
`, serverNames)
}

func upstreamHost(upstream string) string {
	host := upstream
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, ":/"); i >= 0 {
		host = host[:i]
	}
	return host
}

func proxyPassTarget(upstream string) string {
	if strings.Contains(upstream, "://") {
		return upstream
	}
	return "http://" + upstream
}
