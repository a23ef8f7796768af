// Package certmonitor implements the certificate health scan (component
// G): a periodic sweep that classifies every non-orphaned certificate by
// expiry and delegates notification to an external Alerter.
package certmonitor

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/ridgeline/proxyguard/internal/store"
	"github.com/ridgeline/proxyguard/internal/telemetry"
	"github.com/ridgeline/proxyguard/pkg/domainset"
)

// Store is the subset of the database gateway the monitor needs.
type Store interface {
	ListCertificates(ctx context.Context) ([]store.Certificate, error)
}

// Alerter is the external notification collaborator. Delivery (email,
// webhook) is out of scope; only the interface is defined here, with a
// concrete no-op implementation for environments that run without one
// configured.
type Alerter interface {
	Expired(ctx context.Context, cert store.Certificate)
	ExpiringSoon(ctx context.Context, cert store.Certificate, daysUntilExpiry int)
	RenewalFailure(ctx context.Context, domains []string, cause error)
	IssuanceFailure(ctx context.Context, domains []string, cause error)
}

// NoopAlerter discards every event. It is the default Alerter when no
// delivery mechanism is configured.
type NoopAlerter struct{}

func (NoopAlerter) Expired(context.Context, store.Certificate)           {}
func (NoopAlerter) ExpiringSoon(context.Context, store.Certificate, int) {}
func (NoopAlerter) RenewalFailure(context.Context, []string, error)      {}
func (NoopAlerter) IssuanceFailure(context.Context, []string, error)     {}

// LogAlerter emits each event as a structured log line at warn/error
// level. It is the default Alerter in production: every deployment gets at
// least a searchable audit trail even without a webhook or mail relay
// configured.
type LogAlerter struct {
	logger *slog.Logger
}

// NewLogAlerter creates a LogAlerter.
func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) Expired(_ context.Context, cert store.Certificate) {
	a.logger.Error("certificate expired", "certificate_id", cert.ID, "domains", cert.Domains)
}

func (a *LogAlerter) ExpiringSoon(_ context.Context, cert store.Certificate, daysUntilExpiry int) {
	a.logger.Warn("certificate expiring soon", "certificate_id", cert.ID, "domains", cert.Domains, "days_until_expiry", daysUntilExpiry)
}

func (a *LogAlerter) RenewalFailure(_ context.Context, domains []string, cause error) {
	a.logger.Error("certificate renewal failed", "domains", domains, "error", cause)
}

func (a *LogAlerter) IssuanceFailure(_ context.Context, domains []string, cause error) {
	a.logger.Error("certificate issuance failed", "domains", domains, "error", cause)
}

// Config holds the monitor's thresholds and scan schedule.
type Config struct {
	AlertThresholdDays int
	DailyHour          int
	DailyMinute        int
}

// DefaultConfig returns the documented defaults: a 14 day expiring-soon threshold and
// a daily scan at 09:00 local.
func DefaultConfig() Config {
	return Config{AlertThresholdDays: 14, DailyHour: 9, DailyMinute: 0}
}

// Monitor runs the periodic certificate health scan.
type Monitor struct {
	store   Store
	alerter Alerter
	logger  *slog.Logger
	cfg     Config
}

// New wires a Monitor from its collaborators.
func New(st Store, alerter Alerter, logger *slog.Logger, cfg Config) *Monitor {
	if alerter == nil {
		alerter = NoopAlerter{}
	}
	return &Monitor{store: st, alerter: alerter, logger: logger, cfg: cfg}
}

// StatusCount tallies certificates by their classified status.
type StatusCount struct {
	Expired      int `json:"expired"`
	ExpiringSoon int `json:"expiringSoon"`
	Valid        int `json:"valid"`
}

// Summary is the result of a scan: totals by status plus per-cert detail.
type Summary struct {
	Counts  StatusCount  `json:"counts"`
	Details []CertDetail `json:"details"`
	ScanAt  time.Time    `json:"scanAt"`
}

// CertDetail reports one certificate's classification.
type CertDetail struct {
	ID              string `json:"id"`
	PrimaryDomain   string `json:"primaryDomain"`
	DaysUntilExpiry int    `json:"daysUntilExpiry"`
	Status          string `json:"status"`
}

// Scan runs one health-scan pass: classifies every non-orphaned
// certificate, emits Alerter events for expired and expiring-soon certs,
// and returns the summary for getSummary().
func (m *Monitor) Scan(ctx context.Context) (Summary, error) {
	summary, certs, err := m.classifyAll(ctx)
	if err != nil {
		return Summary{}, err
	}

	for i, c := range certs {
		switch summary.Details[i].Status {
		case "expired":
			m.alerter.Expired(ctx, c)
		case "expiring_soon":
			m.alerter.ExpiringSoon(ctx, c, summary.Details[i].DaysUntilExpiry)
		}
	}

	telemetry.CertificatesExpiringGauge.WithLabelValues("expired").Set(float64(summary.Counts.Expired))
	telemetry.CertificatesExpiringGauge.WithLabelValues("expiring_soon").Set(float64(summary.Counts.ExpiringSoon))
	telemetry.CertificatesExpiringGauge.WithLabelValues("valid").Set(float64(summary.Counts.Valid))

	m.logger.Info("certificate monitor scan complete",
		"expired", summary.Counts.Expired,
		"expiring_soon", summary.Counts.ExpiringSoon,
		"valid", summary.Counts.Valid,
	)
	return summary, nil
}

// GetSummary classifies every non-orphaned certificate without emitting
// alert events, for on-demand reporting (e.g. an HTTP status endpoint).
func (m *Monitor) GetSummary(ctx context.Context) (Summary, error) {
	summary, _, err := m.classifyAll(ctx)
	return summary, err
}

func (m *Monitor) classifyAll(ctx context.Context) (Summary, []store.Certificate, error) {
	certs, err := m.store.ListCertificates(ctx)
	if err != nil {
		return Summary{}, nil, err
	}

	summary := Summary{ScanAt: time.Now()}
	live := make([]store.Certificate, 0, len(certs))
	for _, c := range certs {
		if c.IsOrphaned {
			continue
		}

		days := daysUntilExpiry(c.ExpiresAt)
		primary := domainset.Primary(domainset.Parse(c.Domains))
		detail := CertDetail{ID: c.ID, PrimaryDomain: primary, DaysUntilExpiry: days}

		switch {
		case days < 0:
			detail.Status = "expired"
			summary.Counts.Expired++
		case days <= m.cfg.AlertThresholdDays:
			detail.Status = "expiring_soon"
			summary.Counts.ExpiringSoon++
		default:
			detail.Status = "valid"
			summary.Counts.Valid++
		}

		summary.Details = append(summary.Details, detail)
		live = append(live, c)
	}
	return summary, live, nil
}

func daysUntilExpiry(expiresAt time.Time) int {
	return int(math.Ceil(time.Until(expiresAt).Hours() / 24))
}

// StartPeriodicScan runs Scan once after the given initial delay (60s by
// default), then daily at cfg.DailyHour:DailyMinute local time until ctx is
// cancelled.
func (m *Monitor) StartPeriodicScan(ctx context.Context, initialDelay time.Duration) {
	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if _, err := m.Scan(ctx); err != nil {
		m.logger.Error("initial certificate scan failed", "error", err)
	}

	for {
		next := nextDailyOccurrence(time.Now(), m.cfg.DailyHour, m.cfg.DailyMinute)
		wait := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			wait.Stop()
			return
		case <-wait.C:
			if _, err := m.Scan(ctx); err != nil {
				m.logger.Error("daily certificate scan failed", "error", err)
			}
		}
	}
}

func nextDailyOccurrence(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
