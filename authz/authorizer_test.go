package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestAuthorizer(t *testing.T) (*Authorizer, *Registry, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	registry := NewRegistry(testCatalog())
	auth := NewAuthorizer(registry, NewAssignmentStore(rdb))
	return auth, registry, mr
}

func defineTestRoles(t *testing.T, r *Registry) {
	t.Helper()
	roles := []Role{
		{Name: "viewer", Permissions: []string{"bets:read", "reports:read"}},
		{Name: "trader", Parent: "viewer", Permissions: []string{"bets:place"}},
		{Name: "admin", Permissions: []string{"system:*"}, Protected: true},
	}
	for _, role := range roles {
		if err := r.Define(role); err != nil {
			t.Fatalf("Define(%s) error: %v", role.Name, err)
		}
	}
}

func TestGrantAndResolve(t *testing.T) {
	auth, registry, _ := newTestAuthorizer(t)
	defineTestRoles(t, registry)
	ctx := context.Background()

	if err := auth.Grant(ctx, "acct-1", Assignment{Role: "trader"}); err != nil {
		t.Fatalf("Grant error: %v", err)
	}
	if err := auth.Grant(ctx, "acct-1", Assignment{Role: "ghost"}); !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}

	perms, err := auth.ResolvePermissions(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ResolvePermissions error: %v", err)
	}
	want := map[string]bool{"bets:read": true, "bets:place": true, "reports:read": true}
	if len(perms) != len(want) {
		t.Fatalf("resolved %v, want %v", perms, want)
	}
	for _, p := range perms {
		if !want[p] {
			t.Fatalf("unexpected permission %s", p)
		}
	}
}

func TestCheckAndRequire(t *testing.T) {
	auth, registry, _ := newTestAuthorizer(t)
	defineTestRoles(t, registry)
	ctx := context.Background()

	if err := auth.Grant(ctx, "acct-1", Assignment{Role: "viewer"}); err != nil {
		t.Fatalf("Grant error: %v", err)
	}

	ok, err := auth.Check(ctx, "acct-1", "bets:read")
	if err != nil || !ok {
		t.Fatalf("Check(bets:read) = %v, %v", ok, err)
	}
	ok, err = auth.Check(ctx, "acct-1", "bets:place")
	if err != nil || ok {
		t.Fatalf("viewer must not place bets: %v, %v", ok, err)
	}

	err = auth.Require(ctx, "acct-1", "wallet:withdraw")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	var pe *PermissionError
	if !errors.As(err, &pe) || pe.AccountID != "acct-1" {
		t.Fatalf("expected typed *PermissionError, got %v", err)
	}
	if len(pe.Required) != 1 || pe.Required[0] != "wallet:withdraw" {
		t.Fatalf("Required = %v, want [wallet:withdraw]", pe.Required)
	}
	resolved := map[string]bool{}
	for _, p := range pe.Resolved {
		resolved[p] = true
	}
	if !resolved["bets:read"] || !resolved["reports:read"] {
		t.Fatalf("Resolved = %v, want viewer's effective set", pe.Resolved)
	}

	if err := auth.RequireAny(ctx, "acct-1", "wallet:withdraw", "bets:read"); err != nil {
		t.Fatalf("RequireAny error: %v", err)
	}
	if err := auth.RequireAll(ctx, "acct-1", "bets:read", "bets:place"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected RequireAll denial, got %v", err)
	}
	if err := auth.RequireAll(ctx, "acct-1", "bets:read", "reports:read"); err != nil {
		t.Fatalf("RequireAll error: %v", err)
	}
}

func TestSystemWildcardGrantsEverything(t *testing.T) {
	auth, registry, _ := newTestAuthorizer(t)
	defineTestRoles(t, registry)
	ctx := context.Background()

	if err := auth.Grant(ctx, "root-1", Assignment{Role: "admin"}); err != nil {
		t.Fatalf("Grant error: %v", err)
	}
	for _, p := range []string{"bets:cancel", "wallet:withdraw", "reports:read"} {
		if err := auth.Require(ctx, "root-1", p); err != nil {
			t.Fatalf("admin should hold %s: %v", p, err)
		}
	}
}

func TestRevokeInvalidatesImmediately(t *testing.T) {
	auth, registry, _ := newTestAuthorizer(t)
	defineTestRoles(t, registry)
	ctx := context.Background()

	if err := auth.Grant(ctx, "acct-1", Assignment{Role: "viewer"}); err != nil {
		t.Fatalf("Grant error: %v", err)
	}
	if err := auth.Require(ctx, "acct-1", "bets:read"); err != nil {
		t.Fatalf("Require error: %v", err)
	}

	if err := auth.Revoke(ctx, "acct-1", "viewer"); err != nil {
		t.Fatalf("Revoke error: %v", err)
	}
	if err := auth.Require(ctx, "acct-1", "bets:read"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected denial after revoke, got %v", err)
	}
}

func TestRoleMutationInvalidatesCache(t *testing.T) {
	auth, registry, _ := newTestAuthorizer(t)
	defineTestRoles(t, registry)
	ctx := context.Background()

	if err := auth.Grant(ctx, "acct-1", Assignment{Role: "viewer"}); err != nil {
		t.Fatalf("Grant error: %v", err)
	}
	if ok, _ := auth.Check(ctx, "acct-1", "wallet:read"); ok {
		t.Fatal("viewer does not hold wallet:read yet")
	}

	err := registry.Update(Role{Name: "viewer", Permissions: []string{"bets:read", "wallet:read"}})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	ok, err := auth.Check(ctx, "acct-1", "wallet:read")
	if err != nil || !ok {
		t.Fatalf("role update should apply without waiting out the cache: %v, %v", ok, err)
	}
}

func TestTemporaryGrantLapses(t *testing.T) {
	auth, registry, _ := newTestAuthorizer(t)
	defineTestRoles(t, registry)
	ctx := context.Background()

	if err := auth.Grant(ctx, "acct-1", Assignment{
		Role:      "trader",
		ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("Grant error: %v", err)
	}
	if err := auth.Require(ctx, "acct-1", "bets:place"); err != nil {
		t.Fatalf("Require error: %v", err)
	}

	later := time.Now().Add(2 * time.Hour)
	auth.now = func() time.Time { return later }
	auth.assignments.now = auth.now
	auth.invalidate("acct-1")

	if err := auth.Require(ctx, "acct-1", "bets:place"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected denial after grant lapsed, got %v", err)
	}
}

func TestScheduledGrantBecomesEffective(t *testing.T) {
	auth, registry, _ := newTestAuthorizer(t)
	defineTestRoles(t, registry)
	ctx := context.Background()

	if err := auth.Grant(ctx, "acct-1", Assignment{
		Role:      "trader",
		NotBefore: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("Grant error: %v", err)
	}

	// Not in effect yet, but stored: it must survive resolution without
	// being pruned as lapsed.
	if err := auth.Require(ctx, "acct-1", "bets:place"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected denial before NotBefore, got %v", err)
	}
	holders, err := auth.assignments.HolderCount(ctx, "trader")
	if err != nil || holders != 1 {
		t.Fatalf("scheduled grant should still be stored: holders=%d err=%v", holders, err)
	}

	later := time.Now().Add(2 * time.Hour)
	auth.now = func() time.Time { return later }
	auth.assignments.now = auth.now
	auth.invalidate("acct-1")

	if err := auth.Require(ctx, "acct-1", "bets:place"); err != nil {
		t.Fatalf("grant should be in effect after NotBefore: %v", err)
	}
}

func TestDeleteRoleInUse(t *testing.T) {
	auth, registry, _ := newTestAuthorizer(t)
	defineTestRoles(t, registry)
	ctx := context.Background()

	if err := auth.Grant(ctx, "acct-1", Assignment{Role: "trader"}); err != nil {
		t.Fatalf("Grant error: %v", err)
	}
	if err := auth.DeleteRole(ctx, "trader"); !errors.Is(err, ErrRoleInUse) {
		t.Fatalf("expected ErrRoleInUse, got %v", err)
	}

	if err := auth.Revoke(ctx, "acct-1", "trader"); err != nil {
		t.Fatalf("Revoke error: %v", err)
	}
	if err := auth.DeleteRole(ctx, "trader"); err != nil {
		t.Fatalf("DeleteRole after revoke error: %v", err)
	}
	if _, ok := registry.Get("trader"); ok {
		t.Fatal("trader should be gone")
	}
}

func TestChecksFailClosedWhenStoreDown(t *testing.T) {
	auth, registry, mr := newTestAuthorizer(t)
	defineTestRoles(t, registry)
	ctx := context.Background()
	mr.Close()

	ok, err := auth.Check(ctx, "acct-1", "bets:read")
	if err == nil || ok {
		t.Fatalf("expected fail-closed error, got %v %v", ok, err)
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
