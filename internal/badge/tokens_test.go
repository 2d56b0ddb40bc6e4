package badge

import (
	"errors"
	"testing"
)

func TestDownloadTokenLifecycle(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 0)

	token, err := f.svc.CreateDownloadToken(f.ctx, "u1")
	if err != nil {
		t.Fatalf("CreateDownloadToken: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}

	if err := f.svc.RedeemDownloadToken(f.ctx, "u1", token); err != nil {
		t.Fatalf("first redemption failed: %v", err)
	}

	// Tokens are invalidated on first use.
	if err := f.svc.RedeemDownloadToken(f.ctx, "u1", token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken on reuse, got %v", err)
	}
}

func TestRedeemRejectsUnknownToken(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 0)

	if err := f.svc.RedeemDownloadToken(f.ctx, "u1", "no-such-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if err := f.svc.RedeemDownloadToken(f.ctx, "u1", ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestCreateTokenUnknownUser(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.CreateDownloadToken(f.ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
