// Package domainset provides pure helpers for parsing, joining, and
// canonically hashing the ';'-joined domain lists stored on ProxyEntry and
// Certificate rows.
package domainset

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

const separator = ";"

// Parse splits a ';'-joined domain list, trims whitespace from each entry,
// drops empty tokens, and preserves input order (including duplicates).
func Parse(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, separator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Join is the inverse of Parse: it joins domains with ';' and never emits a
// trailing separator.
func Join(domains []string) string {
	return strings.Join(domains, separator)
}

// Hash computes a stable SHA-256 hex digest over the canonicalized domain
// set: lowercase, trim, dedupe, sort lexicographically, join with ';'. The
// result is identical for any permutation or duplication of the same
// logical set, and the empty set hashes to the hash of the empty string.
func Hash(domains []string) string {
	seen := make(map[string]struct{}, len(domains))
	unique := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		unique = append(unique, d)
	}
	sort.Strings(unique)

	sum := sha256.Sum256([]byte(strings.Join(unique, separator)))
	return hex.EncodeToString(sum[:])
}

// Primary returns the first domain in the set, used as the filesystem key
// for certificate storage. It returns "" for an empty set.
func Primary(domains []string) string {
	if len(domains) == 0 {
		return ""
	}
	return domains[0]
}

// StripWildcard drops a leading "*." from a single domain, used by the
// NGINX config generator when normalizing server_name entries.
func StripWildcard(domain string) string {
	return strings.TrimPrefix(domain, "*.")
}

// NormalizeForServerName parses, strips wildcards, and drops empties —
// the normalization the config generator applies before emitting a
// server_name directive.
func NormalizeForServerName(s string) []string {
	raw := Parse(s)
	out := make([]string, 0, len(raw))
	for _, d := range raw {
		d = StripWildcard(d)
		if d == "" {
			continue
		}
		out = append(out, d)
	}
	return out
}
