package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrPermissionDenied is the sentinel matched by *PermissionError.
var ErrPermissionDenied = errors.New("permission denied")

// PermissionError reports a denied check with enough context for an
// audit trail.
type PermissionError struct {
	AccountID string
	// Required lists the permissions the check wanted. For RequireAny it
	// is the full candidate list.
	Required []string
	// Resolved is the account's effective permission set at the time of
	// the check, sorted. Diagnostics only; never use it to re-decide.
	Resolved []string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied for account %s: requires %v", e.AccountID, e.Required)
}

// Is matches ErrPermissionDenied so callers can use errors.Is.
func (e *PermissionError) Is(target error) bool {
	return target == ErrPermissionDenied
}

const defaultCacheTTL = 30 * time.Second

type cachedResolution struct {
	perms    map[string]struct{}
	version  uint64
	cachedAt time.Time
}

// Authorizer resolves an account's effective permissions from its role
// assignments and answers permission checks. Resolutions are cached
// briefly per account; any grant, revoke, or role mutation invalidates.
//
// All checks fail closed: a store error denies.
type Authorizer struct {
	registry    *Registry
	assignments *AssignmentStore

	cacheTTL time.Duration
	mu       sync.RWMutex
	cache    map[string]cachedResolution

	now func() time.Time
}

// NewAuthorizer wires a registry and an assignment store.
func NewAuthorizer(registry *Registry, assignments *AssignmentStore) *Authorizer {
	return &Authorizer{
		registry:    registry,
		assignments: assignments,
		cacheTTL:    defaultCacheTTL,
		cache:       make(map[string]cachedResolution),
		now:         time.Now,
	}
}

// Grant assigns a role to an account. The role must be defined.
func (a *Authorizer) Grant(ctx context.Context, accountID string, assignment Assignment) error {
	if _, ok := a.registry.Get(assignment.Role); !ok {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, assignment.Role)
	}
	if err := a.assignments.Grant(ctx, accountID, assignment); err != nil {
		return err
	}
	a.invalidate(accountID)
	return nil
}

// Revoke removes a role from an account.
func (a *Authorizer) Revoke(ctx context.Context, accountID, role string) error {
	if err := a.assignments.Revoke(ctx, accountID, role); err != nil {
		return err
	}
	a.invalidate(accountID)
	return nil
}

// RevokeAll removes every role from an account.
func (a *Authorizer) RevokeAll(ctx context.Context, accountID string) error {
	if err := a.assignments.Clear(ctx, accountID); err != nil {
		return err
	}
	a.invalidate(accountID)
	return nil
}

// DeleteRole removes a role definition. Rejected while any account
// still holds the role or another role inherits from it.
func (a *Authorizer) DeleteRole(ctx context.Context, name string) error {
	holders, err := a.assignments.HolderCount(ctx, name)
	if err != nil {
		return err
	}
	if holders > 0 {
		return fmt.Errorf("%w: %s held by %d accounts", ErrRoleInUse, name, holders)
	}
	return a.registry.remove(name)
}

// Roles returns the account's active role names, sorted.
func (a *Authorizer) Roles(ctx context.Context, accountID string) ([]string, error) {
	assignments, err := a.assignments.List(ctx, accountID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(assignments))
	for _, as := range assignments {
		names = append(names, as.Role)
	}
	sort.Strings(names)
	return names, nil
}

// ResolvePermissions returns the account's effective permission set:
// the union over all active roles and their ancestor chains, wildcards
// expanded, sorted.
func (a *Authorizer) ResolvePermissions(ctx context.Context, accountID string) ([]string, error) {
	perms, err := a.resolve(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return sortedPerms(perms), nil
}

func sortedPerms(perms map[string]struct{}) []string {
	out := make([]string, 0, len(perms))
	for p := range perms {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Check reports whether the account holds the permission. Store errors
// propagate; callers must not treat an error as an allow.
func (a *Authorizer) Check(ctx context.Context, accountID, permission string) (bool, error) {
	perms, err := a.resolve(ctx, accountID)
	if err != nil {
		return false, err
	}
	_, ok := perms[permission]
	return ok, nil
}

// Require denies with a *PermissionError unless the account holds the
// permission.
func (a *Authorizer) Require(ctx context.Context, accountID, permission string) error {
	perms, err := a.resolve(ctx, accountID)
	if err != nil {
		return err
	}
	if _, ok := perms[permission]; !ok {
		return &PermissionError{
			AccountID: accountID,
			Required:  []string{permission},
			Resolved:  sortedPerms(perms),
		}
	}
	return nil
}

// RequireAny passes when the account holds at least one of the
// permissions.
func (a *Authorizer) RequireAny(ctx context.Context, accountID string, permissions ...string) error {
	perms, err := a.resolve(ctx, accountID)
	if err != nil {
		return err
	}
	for _, p := range permissions {
		if _, ok := perms[p]; ok {
			return nil
		}
	}
	return &PermissionError{AccountID: accountID, Required: permissions, Resolved: sortedPerms(perms)}
}

// RequireAll passes only when the account holds every permission.
func (a *Authorizer) RequireAll(ctx context.Context, accountID string, permissions ...string) error {
	perms, err := a.resolve(ctx, accountID)
	if err != nil {
		return err
	}
	for _, p := range permissions {
		if _, ok := perms[p]; !ok {
			return &PermissionError{AccountID: accountID, Required: permissions, Resolved: sortedPerms(perms)}
		}
	}
	return nil
}

func (a *Authorizer) resolve(ctx context.Context, accountID string) (map[string]struct{}, error) {
	version := a.registry.Version()

	a.mu.RLock()
	cached, ok := a.cache[accountID]
	a.mu.RUnlock()
	if ok && cached.version == version && a.now().Sub(cached.cachedAt) < a.cacheTTL {
		return cached.perms, nil
	}

	assignments, err := a.assignments.List(ctx, accountID)
	if err != nil {
		return nil, err
	}

	perms := make(map[string]struct{})
	for _, as := range assignments {
		rolePerms, err := a.registry.EffectivePermissions(as.Role)
		if err != nil {
			// A grant referencing a deleted role is skipped, not fatal.
			if errors.Is(err, ErrRoleNotFound) {
				continue
			}
			return nil, err
		}
		for p := range rolePerms {
			perms[p] = struct{}{}
		}
	}

	a.mu.Lock()
	a.cache[accountID] = cachedResolution{perms: perms, version: version, cachedAt: a.now()}
	a.mu.Unlock()
	return perms, nil
}

func (a *Authorizer) invalidate(accountID string) {
	a.mu.Lock()
	delete(a.cache, accountID)
	a.mu.Unlock()
}
