package certificate

import (
	"context"
	"time"

	"github.com/ridgeline/proxyguard/internal/store"
	"github.com/ridgeline/proxyguard/pkg/domainset"
)

// RunRenewalSweep builds the set of unique
// domain groups from current proxy entries and ensure a certificate for
// each, then request a local reload. It is a no-op unless this process
// holds the leader lock. Per-group failures are logged, never abort the
// sweep.
func (e *Engine) RunRenewalSweep(ctx context.Context) error {
	if !e.locks.IsLeader() {
		return nil
	}

	entries, err := e.store.ListProxyEntries(ctx)
	if err != nil {
		e.logger.Error("listing proxy entries for renewal sweep", "error", err)
		return nil
	}

	groups := uniqueDomainGroups(entries)
	for _, raw := range groups {
		if _, err := e.EnsureCertificate(ctx, raw); err != nil {
			e.logger.Error("renewing certificate group", "domains", raw, "error", err)
		}
	}

	if e.reload != nil {
		if err := e.reload.Reload(ctx); err != nil {
			e.logger.Error("reloading nginx after renewal sweep", "error", err)
		}
	}
	return nil
}

// StartRenewalLoop runs RunRenewalSweep every cfg.RenewInterval until ctx
// is cancelled.
func (e *Engine) StartRenewalLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.RunRenewalSweep(ctx); err != nil {
				e.logger.Error("renewal sweep failed", "error", err)
			}
		}
	}
}

// uniqueDomainGroups de-duplicates SSL-enabled entries by domain-set hash,
// so entries whose domain lists are permutations of each other collapse to
// one issuance target (the joined form of the first entry seen).
func uniqueDomainGroups(entries []store.ProxyEntry) []string {
	seen := make(map[string]struct{})
	var groups []string
	for _, e := range entries {
		if !e.SSL {
			continue
		}
		domains := domainset.Parse(e.Domains)
		if len(domains) == 0 {
			continue
		}
		key := domainset.Hash(domains)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		groups = append(groups, domainset.Join(domains))
	}
	return groups
}
