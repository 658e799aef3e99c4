package redis

import (
	"context"
	"testing"
	"time"

	"sms-auth-service/internal/models"
)

func TestRefreshSessionRedeemIsSingleUse(t *testing.T) {
	rc, _ := setupCache(t)
	cache := NewSessionCache(rc)
	ctx := context.Background()

	sess := models.RefreshSession{UserID: "user-1", CreatedAt: time.Now().UTC()}
	if err := cache.Create(ctx, "token-abc", sess, 30*24*time.Hour); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := cache.Redeem(ctx, "token-abc")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if got.UserID != "user-1" {
		t.Errorf("user id = %q, want user-1", got.UserID)
	}

	if _, err := cache.Redeem(ctx, "token-abc"); err != ErrSessionNotFound {
		t.Fatalf("second redeem should fail with ErrSessionNotFound, got %v", err)
	}
}

func TestRefreshSessionUnknownToken(t *testing.T) {
	rc, _ := setupCache(t)
	cache := NewSessionCache(rc)

	if _, err := cache.Redeem(context.Background(), "never-issued"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRefreshSessionExpires(t *testing.T) {
	rc, mr := setupCache(t)
	cache := NewSessionCache(rc)
	ctx := context.Background()

	sess := models.RefreshSession{UserID: "user-1", CreatedAt: time.Now().UTC()}
	if err := cache.Create(ctx, "token-abc", sess, time.Hour); err != nil {
		t.Fatalf("Create: %v", err)
	}

	mr.FastForward(time.Hour + time.Second)

	if _, err := cache.Redeem(ctx, "token-abc"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound after TTL, got %v", err)
	}
}

func TestRevokeAllRemovesEverySession(t *testing.T) {
	rc, _ := setupCache(t)
	cache := NewSessionCache(rc)
	ctx := context.Background()

	sess := models.RefreshSession{UserID: "user-1", CreatedAt: time.Now().UTC()}
	for _, tok := range []string{"tok-1", "tok-2", "tok-3"} {
		if err := cache.Create(ctx, tok, sess, time.Hour); err != nil {
			t.Fatalf("Create %s: %v", tok, err)
		}
	}

	n, err := cache.RevokeAll(ctx, "user-1")
	if err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if n != 3 {
		t.Errorf("revoked = %d, want 3", n)
	}

	for _, tok := range []string{"tok-1", "tok-2", "tok-3"} {
		if _, err := cache.Redeem(ctx, tok); err != ErrSessionNotFound {
			t.Fatalf("token %s should be revoked, got %v", tok, err)
		}
	}
}
