package authcore

import (
	"time"

	"github.com/oddsvault/authcore/token"
)

// SecurityReport is a static posture snapshot of the engine's
// configuration, intended for startup logging and compliance checks. It
// never includes key material.
type SecurityReport struct {
	SigningMethod token.SigningMethod
	AccessTTL     time.Duration
	RefreshTTL    time.Duration

	BcryptCost int

	SessionTTL    time.Duration
	RememberMeTTL time.Duration

	LockoutThreshold int
	LockoutDuration  time.Duration

	RiskScoringEnabled bool
	RiskForceMFAAt     int
	RiskRefuseAt       int

	BackupCodesPerEnrollment int
	EmailVerificationGated   bool

	RateLimitRules []string
	AuditEnabled   bool
	RolesDefined   int
}

// SecurityReport summarizes the effective configuration.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	cost := e.cfg.Password.Cost
	if cost == 0 {
		cost = 12
	}

	return SecurityReport{
		SigningMethod:            e.cfg.Token.SigningMethod,
		AccessTTL:                e.tokens.TTLFor(token.TypeAccess),
		RefreshTTL:               e.tokens.TTLFor(token.TypeRefresh),
		BcryptCost:               cost,
		SessionTTL:               e.cfg.Session.TTL,
		RememberMeTTL:            e.cfg.Session.RememberMeTTL,
		LockoutThreshold:         e.cfg.Lockout.Threshold,
		LockoutDuration:          e.cfg.Lockout.Duration,
		RiskScoringEnabled:       !e.cfg.Risk.Disabled,
		RiskForceMFAAt:           e.cfg.Risk.ForceMFAAt,
		RiskRefuseAt:             e.cfg.Risk.RefuseAt,
		BackupCodesPerEnrollment: e.cfg.MFA.BackupCodeCount,
		EmailVerificationGated:   e.cfg.RequireVerifiedEmail,
		RateLimitRules:           e.limiter.Rules(),
		AuditEnabled:             e.cfg.Audit.Enabled,
		RolesDefined:             len(e.registry.Names()),
	}
}
