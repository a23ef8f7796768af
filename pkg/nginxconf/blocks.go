package nginxconf

import (
	"fmt"
	"strings"

	"github.com/ridgeline/proxyguard/internal/store"
)

const proxyHeaders = `        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
        proxy_set_header X-Forwarded-Host $host;
        proxy_set_header X-Forwarded-Port $server_port;
        proxy_set_header Forwarded $proxy_add_forwarded;
        proxy_set_header CF-Connecting-IP $http_cf_connecting_ip;
        proxy_set_header CF-IPCountry $http_cf_ipcountry;
        proxy_set_header True-Client-IP $http_true_client_ip;
        proxy_set_header Upgrade $http_upgrade;
        proxy_set_header Connection $connection_upgrade;
`

const proxyTimeouts = `        proxy_connect_timeout ` + connectTimeout + `;
        proxy_send_timeout ` + sendTimeout + `;
        proxy_read_timeout ` + readTimeout + `;
`

func customCodeBlock(entry store.ProxyEntry) string {
	if entry.NginxCustomCode == "" {
		return ""
	}
	return "\n        " + strings.ReplaceAll(strings.TrimSpace(entry.NginxCustomCode), "\n", "\n        ") + "\n"
}

func writeACMERedirectServer(b *strings.Builder, serverNames string) {
	fmt.Fprintf(b, `server {
    listen 80;
    server_name %s;

    location /.well-known/acme-challenge/ {
        proxy_pass http://127.0.0.1:3000;
    }

    location / {
        return 301 https://$host$request_uri;
    }
}
`, serverNames)
}

func writeHTTPProxyServer(b *strings.Builder, entry store.ProxyEntry, serverNames string) {
	fmt.Fprintf(b, `server {
    listen 80;
    server_name %s;

    location /.well-known/acme-challenge/ {
        proxy_pass http://127.0.0.1:3000;
    }

    location / {
%s%s        proxy_pass %s;%s
    }
}
`, serverNames, proxyHeaders, proxyTimeouts, proxyPassTarget(entry.Upstream), customCodeBlock(entry))
}

func writeHTTPSProxyServer(b *strings.Builder, entry store.ProxyEntry, serverNames, primary string) {
	fmt.Fprintf(b, `server {
    listen 443 ssl http2;
    server_name %s;

    ssl_certificate /etc/letsencrypt/live/%s/fullchain.pem;
    ssl_certificate_key /etc/letsencrypt/live/%s/privkey.pem;
    ssl_protocols TLSv1.2 TLSv1.3;
    ssl_ciphers HIGH:!aNULL:!MD5;
    ssl_prefer_server_ciphers on;
    ssl_session_cache shared:SSL:10m;
    ssl_stapling on;
    ssl_stapling_verify on;
    add_header Strict-Transport-Security "max-age=63072000; includeSubDomains; preload" always;

    location / {
%s%s        proxy_pass %s;%s
    }
}
`, serverNames, primary, primary, proxyHeaders, proxyTimeouts, proxyPassTarget(entry.Upstream), customCodeBlock(entry))
}

func writeHTTPRedirectServer(b *strings.Builder, entry store.ProxyEntry, serverNames string) {
	fmt.Fprintf(b, `server {
    listen 80;
    server_name %s;

    location /.well-known/acme-challenge/ {
        proxy_pass http://127.0.0.1:3000;
    }

    location / {
        return 301 %s$request_uri;
    }
}
`, serverNames, entry.Upstream)
}

func writeHTTPSRedirectServer(b *strings.Builder, entry store.ProxyEntry, serverNames, primary string) {
	fmt.Fprintf(b, `server {
    listen 443 ssl http2;
    server_name %s;

    ssl_certificate /etc/letsencrypt/live/%s/fullchain.pem;
    ssl_certificate_key /etc/letsencrypt/live/%s/privkey.pem;
    ssl_protocols TLSv1.2 TLSv1.3;
    ssl_ciphers HIGH:!aNULL:!MD5;
    ssl_prefer_server_ciphers on;

    location / {
        return 301 %s$request_uri;
    }
}
`, serverNames, primary, primary, entry.Upstream)
}
