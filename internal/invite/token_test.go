package invite

import (
	"errors"
	"testing"
	"time"
)

func TestInviteTokenRoundTrip(t *testing.T) {
	signer, err := NewTokenSigner("test-secret")
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	token, err := signer.Mint("inv-1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	got, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != "inv-1" {
		t.Fatalf("wrong subject %q", got)
	}
}

func TestInviteTokenWrongSecret(t *testing.T) {
	a, _ := NewTokenSigner("secret-a")
	b, _ := NewTokenSigner("secret-b")
	token, err := a.Mint("inv-1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := b.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestInviteTokenClaimExpiry(t *testing.T) {
	signer, _ := NewTokenSigner("test-secret")
	token, err := signer.Mint("inv-1", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := signer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("stale claim must read as invalid, got %v", err)
	}
}

func TestInviteTokenMintRequiresID(t *testing.T) {
	signer, _ := NewTokenSigner("test-secret")
	if _, err := signer.Mint("  ", time.Now().Add(time.Hour)); err == nil {
		t.Fatal("expected error for empty invite id")
	}
}
