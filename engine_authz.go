package authcore

import (
	"context"
	"errors"

	"github.com/oddsvault/authcore/authz"
	"github.com/oddsvault/authcore/internal/audit"
	"github.com/oddsvault/authcore/ratelimit"
)

// DefineRole adds a role definition at runtime.
func (e *Engine) DefineRole(role authz.Role) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.registry.Define(role)
}

// UpdateRole replaces a role definition. Protected roles refuse.
func (e *Engine) UpdateRole(role authz.Role) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.registry.Update(role)
}

// DeleteRole removes a role definition. Refused while accounts hold it
// or other roles inherit from it.
func (e *Engine) DeleteRole(ctx context.Context, name string) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.authorizer.DeleteRole(ctx, name)
}

// AssignRole grants a role to an account.
func (e *Engine) AssignRole(ctx context.Context, accountID string, assignment authz.Assignment) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.authorizer.Grant(ctx, accountID, assignment); err != nil {
		return err
	}
	e.audit(ctx, AuditEvent{
		EventType: audit.TypeRoleGranted, AccountID: accountID, Success: true,
		Metadata: map[string]string{"role": assignment.Role},
	})
	return nil
}

// RemoveRole revokes a role from an account.
func (e *Engine) RemoveRole(ctx context.Context, accountID, role string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.authorizer.Revoke(ctx, accountID, role); err != nil {
		return err
	}
	e.audit(ctx, AuditEvent{
		EventType: audit.TypeRoleRevoked, AccountID: accountID, Success: true,
		Metadata: map[string]string{"role": role},
	})
	return nil
}

// RolesOf returns the account's active role names.
func (e *Engine) RolesOf(ctx context.Context, accountID string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.authorizer.Roles(ctx, accountID)
}

// ResolvePermissions returns the account's effective permission set.
func (e *Engine) ResolvePermissions(ctx context.Context, accountID string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.authorizer.ResolvePermissions(ctx, accountID)
}

// CheckPermission reports whether the account holds the permission.
// Fails closed on store errors.
func (e *Engine) CheckPermission(ctx context.Context, accountID, permission string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	return e.authorizer.Check(ctx, accountID, permission)
}

// RequirePermission denies with ErrPermissionDenied (typed
// *PermissionError) unless the account holds the permission. Denials
// are audited.
func (e *Engine) RequirePermission(ctx context.Context, accountID, permission string) error {
	if err := e.ready(); err != nil {
		return err
	}
	err := e.authorizer.Require(ctx, accountID, permission)
	if errors.Is(err, ErrPermissionDenied) {
		e.metrics.Inc(MetricPermissionDenied)
		e.audit(ctx, AuditEvent{
			EventType: audit.TypePermissionDenied, AccountID: accountID,
			Metadata: map[string]string{"permission": permission},
		})
	}
	return err
}

// RequireAnyPermission passes when the account holds at least one of
// the permissions.
func (e *Engine) RequireAnyPermission(ctx context.Context, accountID string, permissions ...string) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.authorizer.RequireAny(ctx, accountID, permissions...)
}

// RequireAllPermissions passes only when the account holds every
// permission.
func (e *Engine) RequireAllPermissions(ctx context.Context, accountID string, permissions ...string) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.authorizer.RequireAll(ctx, accountID, permissions...)
}

// CheckRateLimit evaluates a registered rule for an identifier.
// increment=false inspects without charging.
func (e *Engine) CheckRateLimit(ctx context.Context, rule, identifier string, increment bool) (ratelimit.Result, error) {
	if err := e.ready(); err != nil {
		return ratelimit.Result{}, err
	}
	res, err := e.limiter.Check(ctx, rule, identifier, increment)
	if err == nil && res.FailedOpen {
		e.metrics.Inc(MetricRateLimitFailedOpen)
	}
	if err == nil && !res.Allowed {
		e.metrics.Inc(MetricRateLimitHit)
	}
	return res, err
}

// RegisterRateLimit adds or replaces a rule at runtime.
func (e *Engine) RegisterRateLimit(rule ratelimit.Rule) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.limiter.Register(rule)
}

// CleanupRateLimits prunes stale limiter state. Intended for a
// host-scheduled maintenance tick.
func (e *Engine) CleanupRateLimits(ctx context.Context) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.limiter.Cleanup(ctx)
}
