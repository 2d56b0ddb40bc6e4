package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"openbackpack.org/internal/badge"
	"openbackpack.org/internal/store"
)

// Exercises the full assertion lifecycle against the in-memory store:
// issue, duplicate rejection, expiry-driven auto-revocation,
// rectification, and backpack collection.
func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	docs := store.NewInMemory()
	seed(ctx, docs)

	clock := time.Now().UTC()
	svc := badge.New(docs, badge.Options{
		EnvPrefix: "smoke",
		BaseURL:   "http://localhost:8080",
		Now:       func() time.Time { return clock },
	})

	assertion, err := svc.Issue(ctx, "u1", "p1")
	if err != nil {
		log.Fatalf("issue: %v", err)
	}
	if assertion.Points != 25 {
		log.Fatalf("points not copied from project: %d", assertion.Points)
	}

	// The same badge class can only be earned once.
	if _, err := svc.Issue(ctx, "u1", "p1"); err == nil {
		log.Fatalf("duplicate issuance must fail")
	} else {
		var conflict *badge.ConflictError
		if !errors.As(err, &conflict) {
			log.Fatalf("expected conflict, got: %v", err)
		}
	}

	// Jump past the validity window: collection must auto-revoke.
	clock = clock.AddDate(0, 0, 31)
	records, err := svc.Collect(ctx, "u1")
	if err != nil {
		log.Fatalf("collect: %v", err)
	}
	if len(records) != 1 {
		log.Fatalf("expected 1 badge, got %d", len(records))
	}
	if !records[0].RevokedStatus || records[0].RevokedReason != badge.ReasonExpired {
		log.Fatalf("badge should have expired: %+v", records[0])
	}

	// Extend the expiry date: the next reconciliation rectifies.
	extended := clock.AddDate(0, 0, 30).Format(time.RFC3339)
	if err := docs.Set(ctx, "assertions/"+assertion.UID+"/expires", extended); err != nil {
		log.Fatalf("extend expiry: %v", err)
	}
	records, err = svc.Collect(ctx, "u1")
	if err != nil {
		log.Fatalf("collect after extension: %v", err)
	}
	if records[0].RevokedStatus {
		log.Fatalf("badge should be live again: %+v", records[0])
	}

	name, points, err := svc.Profile(ctx, "u1")
	if err != nil {
		log.Fatalf("profile: %v", err)
	}
	if points != 30 {
		log.Fatalf("expected 30 points, got %d", points)
	}

	fmt.Printf("✅ backpack smoke test passed: user=%s assertion=%s\n", name, assertion.UID)
}

func seed(ctx context.Context, docs store.Store) {
	fixtures := map[string]any{
		"users/u1": badge.User{Email: "smoke@example.org", Name: "Smoke Tester", Points: 5},
		"projects/p1": badge.Project{
			BadgeClass: "b1", Course: "c1", Points: 25, PeriodOfValidity: 30,
		},
		"badges/b1": badge.BadgeClass{
			Name: "Smoke Badge", Image: "http://localhost/b1.png", Issuer: "i1",
		},
		"issuers/i1": badge.Issuer{Name: "Smoke University"},
		"courses/c1": badge.Course{Name: "Smoke 101"},
	}
	for path, v := range fixtures {
		if err := docs.Set(ctx, path, v); err != nil {
			log.Fatalf("seed %s: %v", path, err)
		}
	}
}
