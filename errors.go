package authcore

import (
	"errors"

	"github.com/oddsvault/authcore/authz"
	"github.com/oddsvault/authcore/ratelimit"
	"github.com/oddsvault/authcore/token"
)

var (
	// ErrInvalidCredentials is returned for a bad handle/password pair.
	// Unknown handle and wrong password are indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout window is in effect.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDisabled is returned for administratively disabled
	// accounts.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrEmailUnverified is returned when login requires a verified email
	// and the account has none.
	ErrEmailUnverified = errors.New("email not verified")
	// ErrAccountExists is returned when creating an account whose handle
	// or email is taken.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound is returned by providers for unknown account
	// ids. Login paths never surface it; they map it to
	// ErrInvalidCredentials.
	ErrAccountNotFound = errors.New("account not found")
	// ErrWeakPassword is returned when a password fails the policy. The
	// wrapped message lists the violations.
	ErrWeakPassword = errors.New("password does not meet policy")
	// ErrPasswordReuse is returned when a new password matches the
	// current one.
	ErrPasswordReuse = errors.New("new password must differ from current password")

	// ErrSessionExpired is returned when a session's absolute lifetime
	// has passed.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionRevoked is returned for logged-out sessions.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrSessionNotFound is returned when a token references no session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRefreshReuse is returned when a rotated-out refresh token is
	// presented again. The session is revoked as a side effect.
	ErrRefreshReuse = errors.New("refresh token reuse detected")

	// ErrMFARequired is returned when login needs a second factor before
	// tokens are issued.
	ErrMFARequired = errors.New("mfa required")
	// ErrMFAInvalidCode is returned for a wrong TOTP or backup code.
	ErrMFAInvalidCode = errors.New("invalid mfa code")
	// ErrMFANotEnabled is returned for MFA operations on accounts without
	// (pending) enrollment.
	ErrMFANotEnabled = errors.New("mfa not enabled")
	// ErrMFAAlreadyEnabled is returned when enrolling an account that
	// already has MFA.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")

	// ErrSuspiciousActivity is returned when the risk score refuses the
	// attempt outright.
	ErrSuspiciousActivity = errors.New("suspicious activity detected")
	// ErrBackendUnavailable wraps shared-state failures on paths that
	// fail closed.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrEngineNotReady is returned by operations on an unbuilt or closed
	// engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Token sentinels are the token package's, re-exported so callers match
// engine errors without importing the subpackage.
var (
	ErrTokenExpired = token.ErrExpired
	ErrTokenInvalid = token.ErrInvalid
	ErrTokenRevoked = token.ErrRevoked
)

// Authorization and rate-limit sentinels, same arrangement.
var (
	ErrPermissionDenied = authz.ErrPermissionDenied
	ErrRoleNotFound     = authz.ErrRoleNotFound
	ErrRoleProtected    = authz.ErrRoleProtected
	ErrRoleInUse        = authz.ErrRoleInUse
	ErrRoleCycle        = authz.ErrHierarchyCycle
	ErrRateLimited      = ratelimit.ErrLimited
)

// PermissionError and RateLimitError are the typed denials carried by
// ErrPermissionDenied / ErrRateLimited failures.
type (
	PermissionError = authz.PermissionError
	RateLimitError  = ratelimit.LimitError
)
