package authcore

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestCreateAccount(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	acct, err := engine.CreateAccount(ctx, "bob", "bob@example.com", testPassword, "viewer")
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if acct.ID == "" {
		t.Fatal("expected a generated account id")
	}
	if acct.PasswordHash == testPassword || !strings.HasPrefix(acct.PasswordHash, "$2") {
		t.Fatalf("password not stored as a bcrypt hash: %q", acct.PasswordHash)
	}

	roles, err := engine.RolesOf(ctx, acct.ID)
	if err != nil {
		t.Fatalf("RolesOf failed: %v", err)
	}
	if len(roles) != 1 || roles[0] != "viewer" {
		t.Fatalf("roles = %v, want [viewer]", roles)
	}

	if _, err := engine.Login(ctx, "bob", testPassword, LoginOptions{}); err != nil {
		t.Fatalf("login as the new account failed: %v", err)
	}
}

func TestCreateAccountRejectsDuplicates(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.CreateAccount(ctx, "bob", "bob@example.com", testPassword); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := engine.CreateAccount(ctx, "bob", "other@example.com", testPassword); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("duplicate username: got %v, want ErrAccountExists", err)
	}
	if _, err := engine.CreateAccount(ctx, "robert", "bob@example.com", testPassword); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("duplicate email: got %v, want ErrAccountExists", err)
	}
}

func TestCreateAccountValidation(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.CreateAccount(ctx, "bob", "bob@example.com", "weak"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("weak password: got %v, want ErrWeakPassword", err)
	}
	if _, err := engine.CreateAccount(ctx, "", "bob@example.com", testPassword); err == nil {
		t.Fatal("empty username must be rejected")
	}
	if _, err := engine.CreateAccount(ctx, "bob", "bob@example.com", testPassword, "no-such-role"); !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("unknown role: got %v, want ErrRoleNotFound", err)
	}
}

func TestEmailVerificationBoundToAddress(t *testing.T) {
	engine, _, provider := newTestEngine(t)
	ctx := context.Background()

	acct, err := engine.CreateAccount(ctx, "bob", "bob@example.com", testPassword)
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	verifyToken, err := engine.RequestEmailVerification(ctx, acct.ID)
	if err != nil {
		t.Fatalf("RequestEmailVerification failed: %v", err)
	}

	// The address changed between request and confirmation; the token
	// must no longer verify anything.
	provider.mu.Lock()
	provider.accounts[acct.ID].Email = "new@example.com"
	provider.mu.Unlock()

	if err := engine.ConfirmEmailVerification(ctx, verifyToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("stale-address token: got %v, want ErrTokenInvalid", err)
	}
}

func TestRequestEmailVerificationAlreadyVerified(t *testing.T) {
	engine, _, provider := newTestEngine(t)
	id := seedAccount(t, engine, provider, "alice")

	verifyToken, err := engine.RequestEmailVerification(context.Background(), id)
	if err != nil {
		t.Fatalf("RequestEmailVerification failed: %v", err)
	}
	if verifyToken != "" {
		t.Fatal("verified account must not get a token")
	}
}
