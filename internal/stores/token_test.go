package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/keystep-id/keystep/internal/platform/errors"
)

func TestTokenStoreIssueRedeem(t *testing.T) {
	ctx := context.Background()
	store := NewTokenStore(newTestRedis(t), "")

	if err := store.Issue(ctx, "user-1", "secret-token", time.Minute); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if err := store.Redeem(ctx, "user-1", "secret-token"); err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
}

func TestTokenStoreRedeemIsSingleUse(t *testing.T) {
	ctx := context.Background()
	store := NewTokenStore(newTestRedis(t), "")

	if err := store.Issue(ctx, "user-1", "secret-token", time.Minute); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if err := store.Redeem(ctx, "user-1", "secret-token"); err != nil {
		t.Fatalf("first Redeem failed: %v", err)
	}
	if err := store.Redeem(ctx, "user-1", "secret-token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Redeem error = %v, want ErrNotFound", err)
	}
}

func TestTokenStoreWrongSecretConsumesToken(t *testing.T) {
	ctx := context.Background()
	store := NewTokenStore(newTestRedis(t), "")

	if err := store.Issue(ctx, "user-1", "secret-token", time.Minute); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	err := store.Redeem(ctx, "user-1", "wrong-token")
	if apperrors.GetCode(err) != apperrors.CodeSecretIncorrect {
		t.Fatalf("Redeem error code = %v, want CodeSecretIncorrect", apperrors.GetCode(err))
	}

	// the failed attempt burned the token
	if err := store.Redeem(ctx, "user-1", "secret-token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Redeem after failure error = %v, want ErrNotFound", err)
	}
}

func TestTokenStoreIssueReplacesOutstanding(t *testing.T) {
	ctx := context.Background()
	store := NewTokenStore(newTestRedis(t), "")

	if err := store.Issue(ctx, "user-1", "old-token", time.Minute); err != nil {
		t.Fatalf("first Issue failed: %v", err)
	}
	if err := store.Issue(ctx, "user-1", "new-token", time.Minute); err != nil {
		t.Fatalf("second Issue failed: %v", err)
	}

	err := store.Redeem(ctx, "user-1", "old-token")
	if apperrors.GetCode(err) != apperrors.CodeSecretIncorrect {
		t.Fatalf("Redeem old token error code = %v, want CodeSecretIncorrect", apperrors.GetCode(err))
	}
}

func TestTokenStoreExpiredAtRead(t *testing.T) {
	ctx := context.Background()
	store := NewTokenStore(newTestRedis(t), "")

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.clock = fixedClock(start)
	if err := store.Issue(ctx, "user-1", "secret-token", time.Minute); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	store.clock = fixedClock(start.Add(2 * time.Minute))
	if err := store.Redeem(ctx, "user-1", "secret-token"); !errors.Is(err, ErrExpired) {
		t.Fatalf("Redeem error = %v, want ErrExpired", err)
	}
}

func TestTokenStoreValidation(t *testing.T) {
	ctx := context.Background()
	store := NewTokenStore(newTestRedis(t), "")

	if err := store.Issue(ctx, "", "secret", time.Minute); err == nil {
		t.Fatal("Issue with empty subject succeeded, want error")
	}
	if err := store.Issue(ctx, "user-1", "", time.Minute); err == nil {
		t.Fatal("Issue with empty secret succeeded, want error")
	}
	if err := store.Issue(ctx, "user-1", "secret", 0); err == nil {
		t.Fatal("Issue with zero ttl succeeded, want error")
	}
}
