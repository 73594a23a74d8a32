package authcore

import (
	"context"
	"errors"
	"testing"

	"github.com/oddsvault/authcore/authz"
)

func assignmentFor(role string) authz.Assignment {
	return authz.Assignment{Role: role, GrantedBy: "test"}
}

func TestPermissionHierarchyThroughEngine(t *testing.T) {
	engine, _, provider := newTestEngine(t)
	id := seedAccount(t, engine, provider, "alice")
	ctx := context.Background()

	if err := engine.AssignRole(ctx, id, assignmentFor("admin")); err != nil {
		t.Fatalf("AssignRole failed: %v", err)
	}

	// admin inherits editor and viewer; wallet:* expands against the
	// catalog.
	for _, perm := range []string{"bets:read", "bets:write", "bets:settle", "wallet:read", "wallet:withdraw", "reports:read"} {
		ok, err := engine.CheckPermission(ctx, id, perm)
		if err != nil {
			t.Fatalf("CheckPermission(%s) failed: %v", perm, err)
		}
		if !ok {
			t.Fatalf("admin should hold %s", perm)
		}
	}

	if err := engine.RequirePermission(ctx, id, "bets:settle"); err != nil {
		t.Fatalf("RequirePermission failed: %v", err)
	}
}

func TestRequirePermissionDenialIsTypedAndCounted(t *testing.T) {
	engine, _, provider := newTestEngine(t)
	id := seedAccount(t, engine, provider, "alice")
	ctx := context.Background()

	if err := engine.AssignRole(ctx, id, assignmentFor("viewer")); err != nil {
		t.Fatalf("AssignRole failed: %v", err)
	}

	err := engine.RequirePermission(ctx, id, "wallet:withdraw")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("got %v, want ErrPermissionDenied", err)
	}
	var permErr *PermissionError
	if !errors.As(err, &permErr) {
		t.Fatalf("expected *PermissionError, got %T", err)
	}
	if permErr.AccountID != id {
		t.Fatalf("PermissionError account = %q, want %q", permErr.AccountID, id)
	}
	if len(permErr.Required) != 1 || permErr.Required[0] != "wallet:withdraw" {
		t.Fatalf("PermissionError required = %v, want [wallet:withdraw]", permErr.Required)
	}
	// The viewer role resolves to a concrete set; the error carries it
	// for diagnostics.
	if len(permErr.Resolved) == 0 {
		t.Fatal("PermissionError carries no resolved permission set")
	}
	for _, p := range permErr.Resolved {
		if p == "wallet:withdraw" {
			t.Fatal("denied permission present in resolved set")
		}
	}
	if got := engine.Metrics().Value(MetricPermissionDenied); got != 1 {
		t.Fatalf("denial metric = %d, want 1", got)
	}
}

func TestRemoveRoleTakesEffectImmediately(t *testing.T) {
	engine, _, provider := newTestEngine(t)
	id := seedAccount(t, engine, provider, "alice")
	ctx := context.Background()

	if err := engine.AssignRole(ctx, id, assignmentFor("editor")); err != nil {
		t.Fatalf("AssignRole failed: %v", err)
	}
	if err := engine.RequirePermission(ctx, id, "bets:write"); err != nil {
		t.Fatalf("pre-revoke check failed: %v", err)
	}

	if err := engine.RemoveRole(ctx, id, "editor"); err != nil {
		t.Fatalf("RemoveRole failed: %v", err)
	}
	if err := engine.RequirePermission(ctx, id, "bets:write"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("post-revoke: got %v, want ErrPermissionDenied", err)
	}

	roles, err := engine.RolesOf(ctx, id)
	if err != nil {
		t.Fatalf("RolesOf failed: %v", err)
	}
	if len(roles) != 0 {
		t.Fatalf("roles after revoke = %v, want none", roles)
	}
}

func TestDeleteRoleLifecycle(t *testing.T) {
	engine, _, provider := newTestEngine(t)
	id := seedAccount(t, engine, provider, "alice")
	ctx := context.Background()

	if err := engine.DefineRole(authz.Role{Name: "auditor", Permissions: []string{"reports:read"}}); err != nil {
		t.Fatalf("DefineRole failed: %v", err)
	}
	if err := engine.AssignRole(ctx, id, assignmentFor("auditor")); err != nil {
		t.Fatalf("AssignRole failed: %v", err)
	}

	if err := engine.DeleteRole(ctx, "auditor"); !errors.Is(err, ErrRoleInUse) {
		t.Fatalf("delete held role: got %v, want ErrRoleInUse", err)
	}
	if err := engine.RemoveRole(ctx, id, "auditor"); err != nil {
		t.Fatalf("RemoveRole failed: %v", err)
	}
	if err := engine.DeleteRole(ctx, "auditor"); err != nil {
		t.Fatalf("delete released role: %v", err)
	}
	if err := engine.AssignRole(ctx, id, assignmentFor("auditor")); !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("grant of deleted role: got %v, want ErrRoleNotFound", err)
	}
}

func TestCheckRateLimitPassthrough(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	// Inspection does not charge the counter.
	for i := 0; i < 3; i++ {
		res, err := engine.CheckRateLimit(ctx, RulePasswordReset, "203.0.113.9", false)
		if err != nil {
			t.Fatalf("inspect failed: %v", err)
		}
		if !res.Allowed || res.Remaining != 5 {
			t.Fatalf("inspect result = %+v, want untouched budget of 5", res)
		}
	}

	for i := 0; i < 5; i++ {
		res, err := engine.CheckRateLimit(ctx, RulePasswordReset, "203.0.113.9", true)
		if err != nil || !res.Allowed {
			t.Fatalf("charge %d: result %+v, err %v", i+1, res, err)
		}
	}
	res, err := engine.CheckRateLimit(ctx, RulePasswordReset, "203.0.113.9", true)
	if err != nil {
		t.Fatalf("over-limit check failed: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected denial past the budget")
	}
	if got := engine.Metrics().Value(MetricRateLimitHit); got == 0 {
		t.Fatal("denial metric not incremented")
	}

	if _, err := engine.CheckRateLimit(ctx, "no-such-rule", "x", true); err == nil {
		t.Fatal("expected error for unknown rule")
	}
}
