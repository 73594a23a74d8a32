package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oddsvault/authcore/authz"
	"github.com/oddsvault/authcore/internal/audit"
	"github.com/oddsvault/authcore/mfa"
	"github.com/oddsvault/authcore/password"
	"github.com/oddsvault/authcore/ratelimit"
	"github.com/oddsvault/authcore/token"
)

// Built-in rate limit rule names. The engine consults these on its own
// flows; hosts may register more and check them via CheckRateLimit.
const (
	RuleLoginIP       = "login_ip"
	RuleLoginAccount  = "login_account"
	RuleMFAVerify     = "mfa_verify"
	RuleRefresh       = "refresh"
	RulePasswordReset = "password_reset"
	RuleAccountCreate = "account_create"
	RuleEmailVerify   = "email_verify"
)

// SessionConfig sets session lifetimes.
type SessionConfig struct {
	// TTL is the default absolute session lifetime.
	TTL time.Duration
	// RememberMeTTL applies when LoginOptions.RememberMe is set.
	RememberMeTTL time.Duration
}

// LockoutConfig sets the failed-login lockout policy.
type LockoutConfig struct {
	// Threshold is the consecutive-failure count that triggers a lock.
	Threshold int
	// Duration is how long the lock holds. It expires on its own; no
	// manual unlock is needed.
	Duration time.Duration
}

// RiskConfig tunes the login risk engine.
type RiskConfig struct {
	// Disabled turns scoring off entirely; every login scores 0.
	Disabled bool
	// ForceMFAAt is the score at or above which an MFA-enrolled account
	// must complete a challenge even for ordinary logins.
	ForceMFAAt int
	// RefuseAt is the score at or above which the attempt is refused
	// with ErrSuspiciousActivity.
	RefuseAt int
}

// MFAConfig groups second-factor settings.
type MFAConfig struct {
	TOTP mfa.TOTPConfig
	// BackupCodeCount is how many codes EnableMFA and
	// RegenerateBackupCodes issue.
	BackupCodeCount int
	// DeviceTrustTTL is how long a device fingerprint stays trusted after
	// VerifyMFA with RememberDevice. Trusted devices skip the challenge on
	// later logins unless risk forces one. Zero disables device trust.
	DeviceTrustTTL time.Duration
}

// AuthzConfig seeds the authorization subsystem.
type AuthzConfig struct {
	// Catalog declares every domain and its actions. Wildcard grants
	// expand against it.
	Catalog authz.Catalog
	// Roles defined at build time. Roles can also be defined later via
	// Engine.DefineRole.
	Roles []authz.Role
}

// AuditConfig controls the async audit pipeline.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds events under backpressure instead of blocking
	// auth flows.
	DropIfFull bool
	Sink       AuditSink
}

// MetricsConfig controls in-process metrics.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// Config assembles an Engine. Zero values fall back to the defaults
// documented per field; Redis and Provider are mandatory.
type Config struct {
	// Redis is the shared backend for sessions, revocations, rate
	// counters, and challenge state.
	Redis redis.UniversalClient
	// Provider is the host application's account storage.
	Provider AccountProvider

	Token    token.Config
	Password password.Config
	Policy   password.PolicyConfig
	MFA      MFAConfig
	Authz    AuthzConfig
	Session  SessionConfig
	Lockout  LockoutConfig
	Risk     RiskConfig
	Audit    AuditConfig
	Metrics  MetricsConfig

	// RateLimits replaces the default rule set when non-empty.
	RateLimits []ratelimit.Rule

	// RequireVerifiedEmail denies login with ErrEmailUnverified until the
	// account confirms its address.
	RequireVerifiedEmail bool
}

// DefaultConfig returns the baseline configuration: 8h/24h sessions,
// 5-failure/30m lockout, MFA forced at high risk and refused at
// critical, and the stock rate limit rules.
func DefaultConfig(client redis.UniversalClient, provider AccountProvider) Config {
	return Config{
		Redis:    client,
		Provider: provider,
		Session: SessionConfig{
			TTL:           8 * time.Hour,
			RememberMeTTL: 24 * time.Hour,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  30 * time.Minute,
		},
		Risk: RiskConfig{
			ForceMFAAt: 50,
			RefuseAt:   75,
		},
		MFA: MFAConfig{
			BackupCodeCount: mfa.DefaultBackupCodeCount,
			DeviceTrustTTL:  30 * 24 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		RateLimits: DefaultRateLimits(),
	}
}

// DefaultRateLimits returns the stock rule set for the engine's own
// flows.
func DefaultRateLimits() []ratelimit.Rule {
	return []ratelimit.Rule{
		{Name: RuleLoginIP, Scope: ratelimit.ScopeIP, Algorithm: ratelimit.SlidingWindow,
			Limit: 10, Window: time.Minute, Penalty: 5 * time.Minute},
		{Name: RuleLoginAccount, Scope: ratelimit.ScopeAccount, Algorithm: ratelimit.SlidingWindow,
			Limit: 20, Window: 10 * time.Minute},
		{Name: RuleMFAVerify, Scope: ratelimit.ScopeAccount, Algorithm: ratelimit.TokenBucket,
			Limit: 5, Window: time.Minute, Burst: 2},
		{Name: RuleRefresh, Scope: ratelimit.ScopeAccount, Algorithm: ratelimit.FixedWindow,
			Limit: 30, Window: time.Minute},
		{Name: RulePasswordReset, Scope: ratelimit.ScopeIP, Algorithm: ratelimit.FixedWindow,
			Limit: 5, Window: time.Hour},
		{Name: RuleAccountCreate, Scope: ratelimit.ScopeIP, Algorithm: ratelimit.FixedWindow,
			Limit: 10, Window: time.Hour},
		{Name: RuleEmailVerify, Scope: ratelimit.ScopeAccount, Algorithm: ratelimit.FixedWindow,
			Limit: 5, Window: time.Hour},
	}
}

func (c *Config) validate() error {
	if c.Redis == nil {
		return errors.New("config: Redis client is required")
	}
	if c.Provider == nil {
		return errors.New("config: AccountProvider is required")
	}
	if c.Token.SigningMethod == "" {
		return errors.New("config: token signing method is required")
	}
	if c.Session.TTL <= 0 {
		return errors.New("config: session TTL must be positive")
	}
	if c.Session.RememberMeTTL < c.Session.TTL {
		return errors.New("config: remember-me TTL must not be shorter than the session TTL")
	}
	if c.Lockout.Threshold <= 0 || c.Lockout.Duration <= 0 {
		return errors.New("config: lockout threshold and duration must be positive")
	}
	if !c.Risk.Disabled {
		if c.Risk.ForceMFAAt <= 0 || c.Risk.RefuseAt <= 0 {
			return errors.New("config: risk thresholds must be positive")
		}
		if c.Risk.ForceMFAAt > c.Risk.RefuseAt {
			return errors.New("config: ForceMFAAt must not exceed RefuseAt")
		}
	}
	for _, role := range c.Authz.Roles {
		if role.Name == "" {
			return errors.New("config: role with empty name")
		}
	}
	for _, rule := range c.RateLimits {
		if rule.Name == "" {
			return fmt.Errorf("config: rate limit rule with empty name")
		}
	}
	return nil
}

func (c *Config) auditConfig() audit.Config {
	return audit.Config{
		Enabled:    c.Audit.Enabled,
		BufferSize: c.Audit.BufferSize,
		DropIfFull: c.Audit.DropIfFull,
	}
}
