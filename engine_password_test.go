package authcore

import (
	"context"
	"errors"
	"testing"
)

const newTestPassword = "Another-Pass8Phrase!"

func TestChangePassword(t *testing.T) {
	engine, _, provider := newTestEngine(t)
	id := seedAccount(t, engine, provider, "alice")
	ctx := context.Background()

	pair := loginPair(t, engine, "alice")

	if err := engine.ChangePassword(ctx, id, "Wrong-Password9!", newTestPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong current password: got %v, want ErrInvalidCredentials", err)
	}
	if err := engine.ChangePassword(ctx, id, testPassword, "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("weak replacement: got %v, want ErrWeakPassword", err)
	}
	if err := engine.ChangePassword(ctx, id, testPassword, testPassword); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("same password: got %v, want ErrPasswordReuse", err)
	}

	if err := engine.ChangePassword(ctx, id, testPassword, newTestPassword); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	// Existing sessions died with the old credential.
	if _, err := engine.ValidateAccessToken(ctx, pair.AccessToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("old session: got %v, want ErrSessionRevoked", err)
	}

	if _, err := engine.Login(ctx, "alice", testPassword, LoginOptions{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still accepted: %v", err)
	}
	if _, err := engine.Login(ctx, "alice", newTestPassword, LoginOptions{}); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	engine, _, provider := newTestEngine(t)
	seedAccount(t, engine, provider, "alice")
	ctx := context.Background()

	pair := loginPair(t, engine, "alice")

	resetToken, err := engine.RequestPasswordReset(ctx, "alice")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if resetToken == "" {
		t.Fatal("expected a reset token for a known handle")
	}

	if err := engine.ConfirmPasswordReset(ctx, resetToken, newTestPassword); err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}

	// The token is single-use.
	if err := engine.ConfirmPasswordReset(ctx, resetToken, "Yet-Another3Pass!"); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("replayed reset token: got %v, want ErrTokenRevoked", err)
	}

	if _, err := engine.ValidateAccessToken(ctx, pair.AccessToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("pre-reset session: got %v, want ErrSessionRevoked", err)
	}
	if _, err := engine.Login(ctx, "alice", newTestPassword, LoginOptions{}); err != nil {
		t.Fatalf("login with reset password failed: %v", err)
	}
}

func TestPasswordResetDoesNotEnumerate(t *testing.T) {
	engine, _, provider := newTestEngine(t)
	seedAccount(t, engine, provider, "alice")
	ctx := context.Background()

	token, err := engine.RequestPasswordReset(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("unknown handle must not error: %v", err)
	}
	if token != "" {
		t.Fatal("unknown handle must not yield a token")
	}
}

func TestPasswordResetClearsLockout(t *testing.T) {
	engine, _, provider := newTestEngine(t)
	id := seedAccount(t, engine, provider, "alice")
	ctx := context.Background()

	for i := 0; i < engine.cfg.Lockout.Threshold; i++ {
		engine.Login(ctx, "alice", "Wrong-Password9!", LoginOptions{})
	}
	if _, err := engine.Login(ctx, "alice", testPassword, LoginOptions{}); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected a locked account, got %v", err)
	}

	resetToken, err := engine.RequestPasswordReset(ctx, "alice")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if err := engine.ConfirmPasswordReset(ctx, resetToken, newTestPassword); err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}

	// Proving ownership voids the lock.
	acct, _ := provider.FindByID(ctx, id)
	if acct.FailedAttempts != 0 || !acct.LockedUntil.IsZero() {
		t.Fatalf("lock state survived reset: attempts=%d until=%v", acct.FailedAttempts, acct.LockedUntil)
	}
	if _, err := engine.Login(ctx, "alice", newTestPassword, LoginOptions{}); err != nil {
		t.Fatalf("login after reset failed: %v", err)
	}
}

func TestPasswordResetRejectsWeakReplacement(t *testing.T) {
	engine, _, provider := newTestEngine(t)
	seedAccount(t, engine, provider, "alice")
	ctx := context.Background()

	resetToken, err := engine.RequestPasswordReset(ctx, "alice")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if err := engine.ConfirmPasswordReset(ctx, resetToken, "weak"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("got %v, want ErrWeakPassword", err)
	}

	// The failed attempt did not consume the token.
	if err := engine.ConfirmPasswordReset(ctx, resetToken, newTestPassword); err != nil {
		t.Fatalf("retry with a strong password failed: %v", err)
	}
}
