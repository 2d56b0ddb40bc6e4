package badge

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestIssueCreatesAssertion(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 30)

	a := f.issue(t, "u1", "p1")

	if !strings.HasPrefix(a.UID, "dev-") {
		t.Fatalf("uid not environment-prefixed: %s", a.UID)
	}
	if a.Revoked {
		t.Fatal("fresh assertion must not be revoked")
	}
	if a.Points != 25 {
		t.Fatalf("points not copied from project: %d", a.Points)
	}
	if a.Recipient.Identity != "ada@example.org" || a.Recipient.Type != "email" {
		t.Fatalf("unexpected recipient: %+v", a.Recipient)
	}
	if a.Verify.Type != "hosted" || a.Verify.URL != "http://localhost:8080/v1/assertions/"+a.UID {
		t.Fatalf("verification url not self-referential: %+v", a.Verify)
	}

	issued, err := time.Parse(time.RFC3339, a.IssuedOn)
	if err != nil {
		t.Fatalf("issuedOn not RFC3339: %v", err)
	}
	expires, err := time.Parse(time.RFC3339, a.Expires)
	if err != nil {
		t.Fatalf("expires not RFC3339: %v", err)
	}
	if got := expires.Sub(issued); got != 30*24*time.Hour {
		t.Fatalf("expires not issuedOn+30d: %v", got)
	}

	// Revocation record must exist from birth.
	if rec := f.loadRecord(t, a.UID); rec.RevokedStatus || rec.Reason != ReasonPlaceholder {
		t.Fatalf("unexpected initial revocation record: %+v", rec)
	}

	// Points and badge map updated.
	var user User
	if err := f.store.Get(f.ctx, "users/u1", &user); err != nil {
		t.Fatal(err)
	}
	if user.Points != 30 {
		t.Fatalf("expected 5+25 points, got %d", user.Points)
	}
	held, ok := user.Badges["b1"]
	if !ok || held.AssertionID != a.UID {
		t.Fatalf("badge map not updated: %+v", user.Badges)
	}

	// History enabled: exactly one event.
	var history map[string]HistoryEvent
	if err := f.store.Get(f.ctx, "history", &history); err != nil {
		t.Fatalf("history not written: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 history event, got %d", len(history))
	}
	for _, ev := range history {
		if ev.Type != "Open Badge assertion" || ev.Assertion != a.UID || ev.User != "u1" {
			t.Fatalf("unexpected history event: %+v", ev)
		}
	}
}

func TestIssueWithoutValidityNeverExpires(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 0)

	a := f.issue(t, "u1", "p1")
	if a.Expires != "" {
		t.Fatalf("expected assertion without expires, got %q", a.Expires)
	}
}

func TestIssueDuplicateIsConflict(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 30)

	first := f.issue(t, "u1", "p1")

	_, err := f.svc.Issue(f.ctx, "u1", "p1")
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Assertion.UID != first.UID {
		t.Fatalf("conflict must reference the existing assertion: %s != %s", conflict.Assertion.UID, first.UID)
	}

	// No double reward, no second assertion.
	var user User
	if err := f.store.Get(f.ctx, "users/u1", &user); err != nil {
		t.Fatal(err)
	}
	if user.Points != 30 {
		t.Fatalf("points changed on conflict: %d", user.Points)
	}
	if len(user.Badges) != 1 {
		t.Fatalf("expected one held badge, got %d", len(user.Badges))
	}
}

func TestIssueExpiredBadgeIsRevokedNotReissued(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 30)
	first := f.issue(t, "u1", "p1")

	f.clock.Advance(31 * 24 * time.Hour)

	_, err := f.svc.Issue(f.ctx, "u1", "p1")
	var revoked *RevokedError
	if !errors.As(err, &revoked) {
		t.Fatalf("expected RevokedError, got %v", err)
	}
	if revoked.Record.Reason != ReasonExpired {
		t.Fatalf("expected expiry reason, got %+v", revoked.Record)
	}
	if revoked.Assertion.UID != first.UID {
		t.Fatal("revoked response must carry the existing assertion")
	}
	if revoked.Assertion.RevocationDetails == nil {
		t.Fatal("revocation details annotation missing")
	}

	var user User
	if err := f.store.Get(f.ctx, "users/u1", &user); err != nil {
		t.Fatal(err)
	}
	if user.Points != 30 || len(user.Badges) != 1 {
		t.Fatal("expired badge must not be reissued or re-rewarded")
	}
}

func TestIssueAdministrativelyRevokedBadge(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 0)
	first := f.issue(t, "u1", "p1")

	if err := f.store.Set(f.ctx, "revoked/"+first.UID, RevocationRecord{
		RevokedStatus: true,
		Reason:        "plagiarism",
	}); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Issue(f.ctx, "u1", "p1")
	var revoked *RevokedError
	if !errors.As(err, &revoked) {
		t.Fatalf("expected RevokedError, got %v", err)
	}
	if revoked.Record.Reason != "plagiarism" {
		t.Fatalf("expected administrative reason, got %+v", revoked.Record)
	}
}

func TestIssueUnknownRecords(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 30)

	if _, err := f.svc.Issue(f.ctx, "ghost", "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
	if _, err := f.svc.Issue(f.ctx, "u1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown project, got %v", err)
	}
}

func TestIssueConcurrentSameBadge(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 30)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Issue(f.ctx, "u1", "p1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, conflicts int
	for err := range results {
		switch {
		case err == nil:
			successes++
		default:
			var conflict *ConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("unexpected error: %v", err)
			}
			conflicts++
		}
	}
	if successes != 1 || conflicts != 9 {
		t.Fatalf("expected exactly one issuance, got %d successes / %d conflicts", successes, conflicts)
	}

	var user User
	if err := f.store.Get(f.ctx, "users/u1", &user); err != nil {
		t.Fatal(err)
	}
	if user.Points != 30 {
		t.Fatalf("points awarded more than once: %d", user.Points)
	}
}
