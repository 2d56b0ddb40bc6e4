package badge

import (
	"context"
	"sync"
	"testing"
	"time"

	"openbackpack.org/internal/store"
)

// fakeClock lets tests move wall-clock time around reconciliation calls.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store *store.InMemory
	svc   *Service
	clock *fakeClock
	ctx   context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewInMemory()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := New(st, Options{
		EnvPrefix: "dev",
		BaseURL:   "http://localhost:8080",
		History:   true,
		Now:       clock.Now,
	})
	return &fixture{store: st, svc: svc, clock: clock, ctx: context.Background()}
}

// seed installs the standard user/project/badge/issuer/course graph.
func (f *fixture) seed(t *testing.T, periodOfValidity int) {
	t.Helper()
	ctx := f.ctx
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(f.store.Set(ctx, "users/u1", User{Email: "ada@example.org", Name: "Ada", Points: 5}))
	must(f.store.Set(ctx, "projects/p1", Project{
		BadgeClass:       "b1",
		Course:           "c1",
		Points:           25,
		PeriodOfValidity: periodOfValidity,
	}))
	must(f.store.Set(ctx, "badges/b1", BadgeClass{
		Name:   "Graph Wrangler",
		Image:  "http://img.example.org/b1.png",
		Issuer: "i1",
	}))
	must(f.store.Set(ctx, "issuers/i1", Issuer{Name: "Example University"}))
	must(f.store.Set(ctx, "courses/c1", Course{Name: "Graphs 101"}))
}

func (f *fixture) issue(t *testing.T, userID, projectID string) Assertion {
	t.Helper()
	a, err := f.svc.Issue(f.ctx, userID, projectID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return a
}

func (f *fixture) loadAssertion(t *testing.T, uid string) Assertion {
	t.Helper()
	var a Assertion
	if err := f.store.Get(f.ctx, "assertions/"+uid, &a); err != nil {
		t.Fatalf("load assertion %s: %v", uid, err)
	}
	return a
}

func (f *fixture) loadRecord(t *testing.T, uid string) RevocationRecord {
	t.Helper()
	var rec RevocationRecord
	if err := f.store.Get(f.ctx, "revoked/"+uid, &rec); err != nil {
		t.Fatalf("load revocation record %s: %v", uid, err)
	}
	return rec
}

func TestReconcileExpiryConvergence(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 30)
	a := f.issue(t, "u1", "p1")

	// At T+31d the assertion is past its validity window.
	f.clock.Advance(31 * 24 * time.Hour)

	rec, err := f.svc.Reconcile(f.ctx, &a)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !rec.RevokedStatus || rec.Reason != ReasonExpired {
		t.Fatalf("expected expired revocation, got %+v", rec)
	}
	if !a.Revoked {
		t.Fatal("cached revoked flag not synced")
	}

	stored := f.loadAssertion(t, a.UID)
	if !stored.Revoked {
		t.Fatal("persisted revoked flag not synced")
	}
	if got := f.loadRecord(t, a.UID); !got.RevokedStatus || got.Reason != ReasonExpired {
		t.Fatalf("persisted record mismatch: %+v", got)
	}
}

func TestReconcileBeforeExpiryIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 30)
	a := f.issue(t, "u1", "p1")

	f.clock.Advance(29 * 24 * time.Hour)

	rec, err := f.svc.Reconcile(f.ctx, &a)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if rec.RevokedStatus || rec.Reason != ReasonPlaceholder {
		t.Fatalf("expected placeholder record, got %+v", rec)
	}
	if a.Revoked {
		t.Fatal("assertion should not be revoked")
	}
}

func TestReconcileExpiryRectification(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 30)
	a := f.issue(t, "u1", "p1")

	// Auto-revoke at T+31d, then pretend the validity period got extended:
	// push expires out and move back inside the window.
	f.clock.Advance(31 * 24 * time.Hour)
	if _, err := f.svc.Reconcile(f.ctx, &a); err != nil {
		t.Fatal(err)
	}
	if !a.Revoked {
		t.Fatal("setup: expected auto-revocation")
	}

	extended := f.clock.Now().Add(10 * 24 * time.Hour).Format(time.RFC3339)
	a.Expires = extended
	if err := f.store.Set(f.ctx, "assertions/"+a.UID+"/expires", extended); err != nil {
		t.Fatal(err)
	}

	rec, err := f.svc.Reconcile(f.ctx, &a)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if rec.RevokedStatus || rec.Reason != ReasonPlaceholder {
		t.Fatalf("expected rectified record, got %+v", rec)
	}
	if a.Revoked {
		t.Fatal("revoked flag should have been rectified")
	}
}

func TestAdministrativeRevocationIsSticky(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 30)
	a := f.issue(t, "u1", "p1")

	// An external actor revokes directly in the revocation record.
	if err := f.store.Set(f.ctx, "revoked/"+a.UID, RevocationRecord{
		RevokedStatus: true,
		Reason:        "code of conduct violation",
	}); err != nil {
		t.Fatal(err)
	}

	// Well inside the validity window; rectification must not kick in.
	rec, err := f.svc.Reconcile(f.ctx, &a)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !rec.RevokedStatus || rec.Reason != "code of conduct violation" {
		t.Fatalf("administrative revocation was not preserved: %+v", rec)
	}
	if !a.Revoked {
		t.Fatal("cached flag must follow the administrative record")
	}

	// Repeated reconciliations never flip it back.
	for i := 0; i < 3; i++ {
		rec, err = f.svc.Reconcile(f.ctx, &a)
		if err != nil {
			t.Fatal(err)
		}
		if !rec.RevokedStatus {
			t.Fatalf("pass %d un-revoked an administrative revocation", i)
		}
	}
}

func TestReconcileWithoutExpiration(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 0) // periodOfValidity unset: never expires
	a := f.issue(t, "u1", "p1")

	if a.Expires != "" {
		t.Fatalf("expected no expiration, got %q", a.Expires)
	}

	// Decades later it is still valid.
	f.clock.Advance(100000 * time.Hour)
	rec, err := f.svc.Reconcile(f.ctx, &a)
	if err != nil {
		t.Fatal(err)
	}
	if rec.RevokedStatus {
		t.Fatalf("assertion without expires must not auto-revoke: %+v", rec)
	}

	// But administrative revocation still applies.
	if err := f.store.Set(f.ctx, "revoked/"+a.UID, RevocationRecord{RevokedStatus: true, Reason: "revoked by admin"}); err != nil {
		t.Fatal(err)
	}
	rec, err = f.svc.Reconcile(f.ctx, &a)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.RevokedStatus || !a.Revoked {
		t.Fatalf("administrative revocation not surfaced: %+v", rec)
	}
}

func TestReconcileHealsStaleCache(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 0)
	a := f.issue(t, "u1", "p1")

	// Drift: the record says revoked but the cached flag was never updated.
	if err := f.store.Set(f.ctx, "revoked/"+a.UID, RevocationRecord{RevokedStatus: true, Reason: "fraud"}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.Reconcile(f.ctx, &a); err != nil {
		t.Fatal(err)
	}
	if stored := f.loadAssertion(t, a.UID); !stored.Revoked {
		t.Fatal("reconcile must heal the cached flag to match the record")
	}
}

func TestReconcileMissingRecordFails(t *testing.T) {
	f := newFixture(t)
	a := Assertion{UID: "dev-ghost"}
	if _, err := f.svc.Reconcile(f.ctx, &a); err == nil {
		t.Fatal("expected error for assertion without revocation record")
	}
}
