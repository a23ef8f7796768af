package challenge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ridgeline/proxyguard/internal/store"
)

type fakeChallengeStore struct {
	rows map[string]store.AcmeChallenge
}

func newFakeChallengeStore() *fakeChallengeStore {
	return &fakeChallengeStore{rows: make(map[string]store.AcmeChallenge)}
}

func (f *fakeChallengeStore) InsertChallenge(_ context.Context, c store.AcmeChallenge) error {
	f.rows[c.Token] = c
	return nil
}

func (f *fakeChallengeStore) GetChallenge(_ context.Context, token string) (store.AcmeChallenge, error) {
	c, ok := f.rows[token]
	if !ok {
		return store.AcmeChallenge{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeChallengeStore) DeleteChallenge(_ context.Context, token string) error {
	delete(f.rows, token)
	return nil
}

func (f *fakeChallengeStore) DeleteExpiredChallenges(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for tok, c := range f.rows {
		if c.ExpiresAt.Before(cutoff) {
			delete(f.rows, tok)
			n++
		}
	}
	return n, nil
}

func TestCreateAndLookup(t *testing.T) {
	db := newFakeChallengeStore()
	svc := New(db, time.Minute)

	if err := svc.Create(context.Background(), "tok1", "keyauth1", "example.com"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := svc.Lookup(context.Background(), "tok1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != "keyauth1" {
		t.Errorf("got %q, want keyauth1", got)
	}
}

func TestLookupNotFound(t *testing.T) {
	db := newFakeChallengeStore()
	svc := New(db, time.Minute)

	_, err := svc.Lookup(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLookupExpiredDeletesAndReportsExpired(t *testing.T) {
	db := newFakeChallengeStore()
	db.rows["tok1"] = store.AcmeChallenge{
		Token: "tok1", KeyAuth: "keyauth1", Domain: "example.com",
		ExpiresAt: time.Now().Add(-time.Second),
	}
	svc := New(db, time.Minute)

	_, err := svc.Lookup(context.Background(), "tok1")
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if _, ok := db.rows["tok1"]; ok {
		t.Fatal("expired challenge should have been deleted")
	}
}

func TestSweepRemovesExpiredOnly(t *testing.T) {
	db := newFakeChallengeStore()
	db.rows["expired"] = store.AcmeChallenge{Token: "expired", ExpiresAt: time.Now().Add(-time.Hour)}
	db.rows["fresh"] = store.AcmeChallenge{Token: "fresh", ExpiresAt: time.Now().Add(time.Hour)}
	svc := New(db, time.Minute)

	n, err := svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 swept, got %d", n)
	}
	if _, ok := db.rows["fresh"]; !ok {
		t.Fatal("fresh challenge should remain")
	}
}

func TestNewDefaultsTTL(t *testing.T) {
	svc := New(newFakeChallengeStore(), 0)
	if svc.ttl != DefaultTTL {
		t.Errorf("expected default ttl %v, got %v", DefaultTTL, svc.ttl)
	}
}
