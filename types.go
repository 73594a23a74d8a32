package authcore

import (
	"context"
	"time"

	"github.com/oddsvault/authcore/internal/audit"
)

// Account is the engine's view of a stored account. The host
// application owns the record; the engine reads it through
// [AccountProvider] and writes back only the fields it manages
// (credential hash, lock state, MFA material, verification flag).
type Account struct {
	ID       string
	Username string
	Email    string

	// PasswordHash is the bcrypt hash of the current password.
	PasswordHash string

	EmailVerified bool
	Disabled      bool

	// MFAEnabled with a non-empty MFASecret means enrolled. A secret
	// without the flag is a pending enrollment awaiting its first valid
	// code.
	MFAEnabled       bool
	MFASecret        string
	BackupCodeHashes []string

	// FailedAttempts counts consecutive failed logins. LockedUntil in the
	// future means the account is locked out.
	FailedAttempts int
	LockedUntil    time.Time

	PasswordChangedAt time.Time
	CreatedAt         time.Time
}

// AccountProvider is the host application's account storage. All methods
// are called on hot authentication paths; implementations should be
// backed by an indexed store.
//
// IncrementFailedAttempts and ConsumeBackupCode must be atomic: two
// concurrent failures both count, and a backup code verifies at most
// once.
type AccountProvider interface {
	// FindByHandle resolves a username or email. Unknown handles return
	// ErrAccountNotFound.
	FindByHandle(ctx context.Context, handle string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)

	// Create persists a new account. A taken username or email returns
	// ErrAccountExists.
	Create(ctx context.Context, acct *Account) error

	UpdatePasswordHash(ctx context.Context, id, hash string, changedAt time.Time) error

	// IncrementFailedAttempts adds one to the counter and returns the new
	// value.
	IncrementFailedAttempts(ctx context.Context, id string) (int, error)
	ResetFailedAttempts(ctx context.Context, id string) error
	SetLockedUntil(ctx context.Context, id string, until time.Time) error

	SetEmailVerified(ctx context.Context, id string, verified bool) error

	// SetMFA replaces the account's MFA material. enabled=false with a
	// secret is a pending enrollment; enabled=false with an empty secret
	// clears enrollment entirely.
	SetMFA(ctx context.Context, id string, enabled bool, secret string, backupCodeHashes []string) error

	// ConsumeBackupCode removes the hash from the account's set and
	// reports whether it was present.
	ConsumeBackupCode(ctx context.Context, id, hash string) (bool, error)
}

// TokenPair is an issued access/refresh pair. Both tokens reference the
// same session, so revoking the session invalidates both.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string
}

// MFAChallenge is the intermediate login result for MFA-enabled
// accounts: a short-lived token that VerifyMFA exchanges, with the
// password already proven.
type MFAChallenge struct {
	MFAToken  string
	ExpiresAt time.Time
	Methods   []string
}

// LoginResult is the outcome of a successful first authentication
// factor: exactly one of Pair or Challenge is set.
type LoginResult struct {
	Pair      *TokenPair
	Challenge *MFAChallenge
	RiskScore int
	RiskBand  RiskBand
}

// MFARequired reports whether the login stopped at an MFA challenge.
func (r *LoginResult) MFARequired() bool {
	return r != nil && r.Challenge != nil
}

// LoginOptions tunes a single login attempt.
type LoginOptions struct {
	// RememberMe extends the session to the configured long lifetime.
	RememberMe bool
}

// VerifyMFAOptions tunes a challenge exchange.
type VerifyMFAOptions struct {
	// RememberDevice marks the request's device fingerprint as trusted
	// for MFAConfig.DeviceTrustTTL, so later low-risk logins from it skip
	// the challenge.
	RememberDevice bool
}

// MFASetup is returned by SetupMFA for the enrollment UI.
type MFASetup struct {
	Secret       string
	ProvisionURI string
}

// Identity is the verified caller derived from an access token and its
// live session.
type Identity struct {
	AccountID   string
	SessionID   string
	Permissions []string
	MFAPassed   bool
}

// AuditEvent and AuditSink are the audit pipeline's types, re-exported
// for sink implementations outside this module.
type (
	AuditEvent = audit.Event
	AuditSink  = audit.Sink
)

// NewChannelAuditSink returns a sink that delivers events into a
// buffered channel.
func NewChannelAuditSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}
