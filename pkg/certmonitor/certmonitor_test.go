package certmonitor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ridgeline/proxyguard/internal/store"
)

type fakeStore struct {
	certs []store.Certificate
}

func (f *fakeStore) ListCertificates(context.Context) ([]store.Certificate, error) {
	return f.certs, nil
}

type recordingAlerter struct {
	expired         []string
	expiringSoon    []string
	renewalFailures int
	issuanceFailures int
}

func (a *recordingAlerter) Expired(_ context.Context, cert store.Certificate) {
	a.expired = append(a.expired, cert.ID)
}

func (a *recordingAlerter) ExpiringSoon(_ context.Context, cert store.Certificate, _ int) {
	a.expiringSoon = append(a.expiringSoon, cert.ID)
}

func (a *recordingAlerter) RenewalFailure(context.Context, []string, error) {
	a.renewalFailures++
}

func (a *recordingAlerter) IssuanceFailure(context.Context, []string, error) {
	a.issuanceFailures++
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScanClassifiesAndAlerts(t *testing.T) {
	now := time.Now()
	st := &fakeStore{certs: []store.Certificate{
		{ID: "expired", Domains: "a.com", ExpiresAt: now.Add(-24 * time.Hour)},
		{ID: "soon", Domains: "b.com", ExpiresAt: now.Add(5 * 24 * time.Hour)},
		{ID: "valid", Domains: "c.com", ExpiresAt: now.Add(90 * 24 * time.Hour)},
		{ID: "orphan", Domains: "d.com", ExpiresAt: now.Add(-48 * time.Hour), IsOrphaned: true},
	}}
	alerter := &recordingAlerter{}
	m := New(st, alerter, testLogger(), DefaultConfig())

	summary, err := m.Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Counts.Expired != 1 || summary.Counts.ExpiringSoon != 1 || summary.Counts.Valid != 1 {
		t.Fatalf("unexpected counts: %+v", summary.Counts)
	}
	if len(summary.Details) != 3 {
		t.Fatalf("expected orphaned cert excluded from details, got %d", len(summary.Details))
	}
	if len(alerter.expired) != 1 || alerter.expired[0] != "expired" {
		t.Errorf("expected Expired alert for the expired cert, got %v", alerter.expired)
	}
	if len(alerter.expiringSoon) != 1 || alerter.expiringSoon[0] != "soon" {
		t.Errorf("expected ExpiringSoon alert for the soon-to-expire cert, got %v", alerter.expiringSoon)
	}
}

func TestGetSummaryDoesNotEmitAlerts(t *testing.T) {
	now := time.Now()
	st := &fakeStore{certs: []store.Certificate{
		{ID: "expired", Domains: "a.com", ExpiresAt: now.Add(-24 * time.Hour)},
	}}
	alerter := &recordingAlerter{}
	m := New(st, alerter, testLogger(), DefaultConfig())

	summary, err := m.GetSummary(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Counts.Expired != 1 {
		t.Fatalf("expected 1 expired cert in summary, got %+v", summary.Counts)
	}
	if len(alerter.expired) != 0 {
		t.Error("GetSummary must not emit alert events")
	}
}

func TestScanDefaultsAlerterWhenNil(t *testing.T) {
	st := &fakeStore{certs: []store.Certificate{
		{ID: "expired", Domains: "a.com", ExpiresAt: time.Now().Add(-time.Hour)},
	}}
	m := New(st, nil, testLogger(), DefaultConfig())

	if _, err := m.Scan(context.Background()); err != nil {
		t.Fatalf("unexpected error with nil alerter: %v", err)
	}
}

func TestNextDailyOccurrenceRollsOverToTomorrow(t *testing.T) {
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	next := nextDailyOccurrence(now, 9, 0)
	if next.Day() != 31 || next.Hour() != 9 {
		t.Errorf("expected rollover to tomorrow 09:00, got %v", next)
	}
}

func TestNextDailyOccurrenceSameDayWhenStillAhead(t *testing.T) {
	now := time.Date(2026, 7, 30, 6, 0, 0, 0, time.UTC)
	next := nextDailyOccurrence(now, 9, 0)
	if next.Day() != 30 || next.Hour() != 9 {
		t.Errorf("expected same-day 09:00, got %v", next)
	}
}
