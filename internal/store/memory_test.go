package store

import (
	"context"
	"sync"
	"testing"
)

func TestSetGetRoundTrip(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	type doc struct {
		Name   string `json:"name"`
		Points int    `json:"points"`
	}

	if err := s.Set(ctx, "users/u1", doc{Name: "Ada", Points: 10}); err != nil {
		t.Fatal(err)
	}

	var got doc
	if err := s.Get(ctx, "users/u1", &got); err != nil {
		t.Fatal(err)
	}
	if got.Name != "Ada" || got.Points != 10 {
		t.Fatalf("unexpected doc: %+v", got)
	}
}

func TestSubPathWriteAndRead(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if err := s.Set(ctx, "users/u1", map[string]any{"name": "Ada", "points": 10}); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "users/u1/points", 25); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "users/u1/badges/b1", map[string]any{"assertionId": "a1"}); err != nil {
		t.Fatal(err)
	}

	var points int
	if err := s.Get(ctx, "users/u1/points", &points); err != nil {
		t.Fatal(err)
	}
	if points != 25 {
		t.Fatalf("expected 25, got %d", points)
	}

	var name string
	if err := s.Get(ctx, "users/u1/name", &name); err != nil {
		t.Fatal(err)
	}
	if name != "Ada" {
		t.Fatalf("sibling key lost on sub-path write: %q", name)
	}
}

func TestGetMissing(t *testing.T) {
	s := NewInMemory()
	var v any
	if err := s.Get(context.Background(), "users/nope", &v); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPushGeneratesUniqueKeys(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, err := s.Push(ctx, "assertions", nil)
		if err != nil {
			t.Fatal(err)
		}
		if seen[key] {
			t.Fatalf("duplicate push key: %s", key)
		}
		seen[key] = true
	}

	// Push with a value must also persist it under the new key.
	key, err := s.Push(ctx, "history", map[string]any{"type": "test"})
	if err != nil {
		t.Fatal(err)
	}
	var ev map[string]any
	if err := s.Get(ctx, Join("history", key), &ev); err != nil {
		t.Fatal(err)
	}
	if ev["type"] != "test" {
		t.Fatalf("pushed value not stored: %v", ev)
	}
}

func TestDelete(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if err := s.Set(ctx, "tokens/t1", map[string]any{"valid": true}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "tokens/t1"); err != nil {
		t.Fatal(err)
	}
	var v any
	if err := s.Get(ctx, "tokens/t1", &v); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	// deleting a missing path is a no-op
	if err := s.Delete(ctx, "tokens/absent"); err != nil {
		t.Fatal(err)
	}
}

func TestConcurrentWriters(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Push(ctx, "history", map[string]any{"n": i})
		}(i)
	}
	wg.Wait()

	var events map[string]any
	if err := s.Get(ctx, "history", &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 50 {
		t.Fatalf("expected 50 events, got %d", len(events))
	}
}
