package session

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryRevocationList(t *testing.T) {
	ctx := context.Background()
	list := NewInMemoryRevocationList()

	if _, ok, err := list.RevokedAt(ctx, "uid-1"); err != nil || ok {
		t.Fatalf("RevokedAt() before revocation = (%v, %v), want none", ok, err)
	}

	first := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	if err := list.Revoke(ctx, "uid-1", first); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	at, ok, err := list.RevokedAt(ctx, "uid-1")
	if err != nil || !ok {
		t.Fatalf("RevokedAt() = (%v, %v)", ok, err)
	}
	if !at.Equal(first) {
		t.Errorf("revoked at = %v, want %v", at, first)
	}

	// A later revocation supersedes the earlier one.
	second := first.Add(time.Hour)
	if err := list.Revoke(ctx, "uid-1", second); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	at, _, _ = list.RevokedAt(ctx, "uid-1")
	if !at.Equal(second) {
		t.Errorf("revoked at = %v, want later %v", at, second)
	}

	// An earlier revocation does not roll it back.
	if err := list.Revoke(ctx, "uid-1", first); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	at, _, _ = list.RevokedAt(ctx, "uid-1")
	if !at.Equal(second) {
		t.Errorf("revoked at = %v, want preserved %v", at, second)
	}

	// Other subjects are unaffected.
	if _, ok, _ := list.RevokedAt(ctx, "uid-2"); ok {
		t.Error("unrelated subject reported revoked")
	}
}
