package token

import (
	"errors"
	"time"
)

// Type classifies an issued token. The type determines the default
// lifetime and the set of operations the token authorizes.
type Type string

const (
	TypeAccess            Type = "access"
	TypeRefresh           Type = "refresh"
	TypeReset             Type = "reset"
	TypeMFASession        Type = "mfa_session"
	TypeEmailVerification Type = "email_verification"
)

const (
	defaultAccessTTL            = 15 * time.Minute
	defaultRefreshTTL           = 30 * 24 * time.Hour
	defaultResetTTL             = time.Hour
	defaultMFASessionTTL        = 5 * time.Minute
	defaultEmailVerificationTTL = 24 * time.Hour
)

// Valid reports whether t is a known token type.
func (t Type) Valid() bool {
	switch t {
	case TypeAccess, TypeRefresh, TypeReset, TypeMFASession, TypeEmailVerification:
		return true
	}
	return false
}

// DefaultTTL returns the built-in lifetime class for t.
func (t Type) DefaultTTL() time.Duration {
	switch t {
	case TypeAccess:
		return defaultAccessTTL
	case TypeRefresh:
		return defaultRefreshTTL
	case TypeReset:
		return defaultResetTTL
	case TypeMFASession:
		return defaultMFASessionTTL
	case TypeEmailVerification:
		return defaultEmailVerificationTTL
	}
	return 0
}

var (
	// ErrExpired is returned when a token's signature verifies but its
	// expiry has passed.
	ErrExpired = errors.New("token expired")
	// ErrInvalid is returned for malformed tokens, bad signatures, and
	// type mismatches.
	ErrInvalid = errors.New("invalid token")
	// ErrRevoked is returned when a token's id is marked revoked,
	// regardless of signature or expiry validity.
	ErrRevoked = errors.New("token revoked")
	// ErrUnavailable is returned when the revocation backend cannot be
	// reached; token verification fails closed.
	ErrUnavailable = errors.New("token backend unavailable")
)
