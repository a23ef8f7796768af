package certificate

import (
	"context"
	"fmt"
	"time"

	"github.com/ridgeline/proxyguard/pkg/domainset"
)

// CleanupResult reports what a daily cleanup pass changed.
type CleanupResult struct {
	OrphanedMarked   int
	ExpiredDeleted   int64
	OrphansDeleted   int64
}

// RunDailyCleanup recomputes IsOrphaned against
// current proxy entries, then delete expired rows, then delete orphaned
// rows.
func (e *Engine) RunDailyCleanup(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult

	marked, err := e.recomputeOrphans(ctx)
	if err != nil {
		return res, fmt.Errorf("recomputing orphaned certificates: %w", err)
	}
	res.OrphanedMarked = marked

	expired, err := e.store.DeleteExpiredCertificates(ctx, time.Now())
	if err != nil {
		return res, fmt.Errorf("deleting expired certificates: %w", err)
	}
	res.ExpiredDeleted = expired

	orphans, err := e.store.DeleteOrphanedCertificates(ctx)
	if err != nil {
		return res, fmt.Errorf("deleting orphaned certificates: %w", err)
	}
	res.OrphansDeleted = orphans

	return res, nil
}

// recomputeOrphans marks every certificate whose domainsHash matches no
// current proxy entry (SSL-enabled or not) as orphaned, and un-orphans any
// that are referenced again.
func (e *Engine) recomputeOrphans(ctx context.Context) (int, error) {
	entries, err := e.store.ListProxyEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing proxy entries: %w", err)
	}

	live := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		domains := domainset.Parse(entry.Domains)
		if len(domains) == 0 {
			continue
		}
		live[domainset.Hash(domains)] = struct{}{}
	}

	certs, err := e.store.ListCertificates(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing certificates: %w", err)
	}

	marked := 0
	for _, cert := range certs {
		_, referenced := live[cert.DomainsHash]
		wantOrphaned := !referenced
		if wantOrphaned == cert.IsOrphaned {
			continue
		}
		if err := e.store.SetCertificateOrphaned(ctx, cert.ID, wantOrphaned); err != nil {
			return marked, fmt.Errorf("setting orphaned flag on %s: %w", cert.ID, err)
		}
		if wantOrphaned {
			marked++
		}
	}
	return marked, nil
}

// StartDailyCleanupLoop runs RunDailyCleanup once per day at the given
// local hour/minute until ctx is cancelled.
func (e *Engine) StartDailyCleanupLoop(ctx context.Context, hour, minute int) {
	for {
		next := nextOccurrence(time.Now(), hour, minute)
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := e.RunDailyCleanup(ctx); err != nil {
				e.logger.Error("daily certificate cleanup failed", "error", err)
			}
		}
	}
}

// nextOccurrence returns the next time at hour:minute local time, today if
// it hasn't passed yet, tomorrow otherwise.
func nextOccurrence(from time.Time, hour, minute int) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), hour, minute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
