package authz

import (
	"errors"
	"fmt"
	"testing"
)

func TestDefineValidation(t *testing.T) {
	r := NewRegistry(testCatalog())

	if err := r.Define(Role{Name: "viewer", Permissions: []string{"bets:read"}}); err != nil {
		t.Fatalf("Define error: %v", err)
	}
	if err := r.Define(Role{Name: "viewer"}); !errors.Is(err, ErrRoleExists) {
		t.Fatalf("expected ErrRoleExists, got %v", err)
	}
	if err := r.Define(Role{Name: "bad", Permissions: []string{"bets:explode"}}); !errors.Is(err, ErrInvalidPermission) {
		t.Fatalf("expected ErrInvalidPermission, got %v", err)
	}
	if err := r.Define(Role{Name: "orphan", Parent: "nope"}); !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound for missing parent, got %v", err)
	}
	if err := r.Define(Role{Name: "selfie", Parent: "selfie"}); !errors.Is(err, ErrHierarchyCycle) {
		t.Fatalf("expected ErrHierarchyCycle for self-parent, got %v", err)
	}
}

func TestIndirectCycleRejectedAtWriteTime(t *testing.T) {
	r := NewRegistry(testCatalog())

	must := func(role Role) {
		t.Helper()
		if err := r.Define(role); err != nil {
			t.Fatalf("Define(%s) error: %v", role.Name, err)
		}
	}
	must(Role{Name: "a"})
	must(Role{Name: "b", Parent: "a"})
	must(Role{Name: "c", Parent: "b"})

	// a -> c would close a -> c -> b -> a.
	if err := r.Update(Role{Name: "a", Parent: "c"}); !errors.Is(err, ErrHierarchyCycle) {
		t.Fatalf("expected ErrHierarchyCycle, got %v", err)
	}
}

func TestHierarchyDepthBound(t *testing.T) {
	r := NewRegistry(testCatalog())

	if err := r.Define(Role{Name: "r0"}); err != nil {
		t.Fatalf("Define error: %v", err)
	}
	for i := 1; i < MaxHierarchyDepth; i++ {
		err := r.Define(Role{Name: fmt.Sprintf("r%d", i), Parent: fmt.Sprintf("r%d", i-1)})
		if err != nil {
			t.Fatalf("Define depth %d error: %v", i, err)
		}
	}
	err := r.Define(Role{Name: "r10", Parent: fmt.Sprintf("r%d", MaxHierarchyDepth-1)})
	if !errors.Is(err, ErrHierarchyTooDeep) {
		t.Fatalf("expected ErrHierarchyTooDeep at depth 11, got %v", err)
	}
}

func TestProtectedRoleImmutable(t *testing.T) {
	r := NewRegistry(testCatalog())

	if err := r.Define(Role{Name: "admin", Permissions: []string{"system:*"}, Protected: true}); err != nil {
		t.Fatalf("Define error: %v", err)
	}
	if err := r.Update(Role{Name: "admin"}); !errors.Is(err, ErrRoleProtected) {
		t.Fatalf("expected ErrRoleProtected on update, got %v", err)
	}
	if err := r.remove("admin"); !errors.Is(err, ErrRoleProtected) {
		t.Fatalf("expected ErrRoleProtected on delete, got %v", err)
	}
}

func TestRemoveParentInUse(t *testing.T) {
	r := NewRegistry(testCatalog())

	if err := r.Define(Role{Name: "base"}); err != nil {
		t.Fatalf("Define error: %v", err)
	}
	if err := r.Define(Role{Name: "child", Parent: "base"}); err != nil {
		t.Fatalf("Define error: %v", err)
	}
	if err := r.remove("base"); !errors.Is(err, ErrRoleInUse) {
		t.Fatalf("expected ErrRoleInUse, got %v", err)
	}
	if err := r.remove("child"); err != nil {
		t.Fatalf("remove(child) error: %v", err)
	}
	if err := r.remove("base"); err != nil {
		t.Fatalf("remove(base) after child error: %v", err)
	}
}

func TestEffectivePermissionsInheritance(t *testing.T) {
	r := NewRegistry(testCatalog())

	must := func(role Role) {
		t.Helper()
		if err := r.Define(role); err != nil {
			t.Fatalf("Define(%s) error: %v", role.Name, err)
		}
	}
	must(Role{Name: "viewer", Permissions: []string{"bets:read", "reports:read"}})
	must(Role{Name: "trader", Parent: "viewer", Permissions: []string{"bets:place"}})
	must(Role{Name: "desk_admin", Parent: "trader", Permissions: []string{"bets:*", "wallet:read"}})

	perms, err := r.EffectivePermissions("desk_admin")
	if err != nil {
		t.Fatalf("EffectivePermissions error: %v", err)
	}
	for _, want := range []string{"bets:read", "bets:place", "bets:cancel", "reports:read", "wallet:read"} {
		if _, ok := perms[want]; !ok {
			t.Fatalf("missing inherited permission %s in %v", want, perms)
		}
	}
	if _, ok := perms["wallet:withdraw"]; ok {
		t.Fatal("wallet:withdraw was never granted")
	}
}

func TestVersionBumpsOnMutation(t *testing.T) {
	r := NewRegistry(testCatalog())

	v0 := r.Version()
	if err := r.Define(Role{Name: "a"}); err != nil {
		t.Fatalf("Define error: %v", err)
	}
	if r.Version() == v0 {
		t.Fatal("Define should bump the version")
	}
	// Failed mutations leave the version alone.
	v1 := r.Version()
	if err := r.Define(Role{Name: "a"}); err == nil {
		t.Fatal("expected duplicate define to fail")
	}
	if r.Version() != v1 {
		t.Fatal("failed define must not bump the version")
	}
}
