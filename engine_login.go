package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/oddsvault/authcore/internal/audit"
	"github.com/oddsvault/authcore/session"
	"github.com/oddsvault/authcore/token"
)

// Metadata keys carried inside mfa_session tokens so VerifyMFA can
// finish the login with the original request's options.
const (
	mfaMetaRemember    = "remember"
	mfaMetaFingerprint = "fp"
	mfaMetaRiskScore   = "risk"
)

// Login verifies the first factor and either issues a token pair or
// returns an MFA challenge. Unknown handles and wrong passwords are
// indistinguishable to the caller.
func (e *Engine) Login(ctx context.Context, handle, pw string, opts LoginOptions) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ip := clientIPFromContext(ctx)
	userAgent := userAgentFromContext(ctx)
	fingerprint := deviceFingerprintFromContext(ctx)

	if ip != "" {
		if err := e.requireLimit(ctx, RuleLoginIP, ip); err != nil {
			e.metrics.Inc(MetricLoginRateLimited)
			return nil, err
		}
	}

	acct, err := e.provider.FindByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// Burn a verify so unknown handles cost the same as wrong
			// passwords.
			e.hasher.VerifyDummy(pw)
			e.metrics.Inc(MetricLoginFailure)
			e.audit(ctx, AuditEvent{EventType: audit.TypeLoginFailed, Error: "unknown handle"})
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if err := e.requireLimit(ctx, RuleLoginAccount, acct.ID); err != nil {
		e.metrics.Inc(MetricLoginRateLimited)
		return nil, err
	}

	now := e.now()
	if acct.LockedUntil.After(now) {
		e.audit(ctx, AuditEvent{
			EventType: audit.TypeLoginBlocked, AccountID: acct.ID, Error: "locked",
		})
		return nil, ErrAccountLocked
	}
	if acct.FailedAttempts >= e.cfg.Lockout.Threshold {
		// Lock window lapsed; the counter starts over.
		if err := e.provider.ResetFailedAttempts(ctx, acct.ID); err != nil {
			e.warnf("failed-attempt reset for %s: %v", acct.ID, err)
		}
		acct.FailedAttempts = 0
	}

	if acct.Disabled {
		e.audit(ctx, AuditEvent{
			EventType: audit.TypeLoginBlocked, AccountID: acct.ID, Error: "disabled",
		})
		return nil, ErrAccountDisabled
	}

	if !e.hasher.Verify(pw, acct.PasswordHash) {
		return nil, e.recordLoginFailure(ctx, acct)
	}

	if e.cfg.RequireVerifiedEmail && !acct.EmailVerified {
		e.audit(ctx, AuditEvent{
			EventType: audit.TypeLoginBlocked, AccountID: acct.ID, Error: "email unverified",
		})
		return nil, ErrEmailUnverified
	}

	e.maybeRehash(ctx, acct, pw)

	score := 0
	if !e.cfg.Risk.Disabled {
		score = e.scoreRisk(ctx, acct, ip, userAgent, fingerprint)
	}
	band := BandFor(score)

	if !e.cfg.Risk.Disabled && score >= e.cfg.Risk.RefuseAt {
		e.metrics.Inc(MetricLoginBlocked)
		e.audit(ctx, AuditEvent{
			EventType: audit.TypeLoginBlocked, AccountID: acct.ID,
			RiskScore: score, Error: "critical risk",
		})
		return nil, ErrSuspiciousActivity
	}

	// The password was right: the failure streak ends here even if MFA
	// is still pending.
	if acct.FailedAttempts > 0 {
		if err := e.provider.ResetFailedAttempts(ctx, acct.ID); err != nil {
			e.warnf("failed-attempt reset for %s: %v", acct.ID, err)
		}
	}
	if err := e.limiter.Reset(ctx, RuleLoginAccount, acct.ID); err != nil {
		e.warnf("limiter reset for %s: %v", acct.ID, err)
	}

	forceMFA := !e.cfg.Risk.Disabled && score >= e.cfg.Risk.ForceMFAAt

	if acct.MFAEnabled && acct.MFASecret != "" {
		if !forceMFA && e.deviceTrusted(ctx, acct.ID, fingerprint) {
			pair, err := e.issueSession(ctx, acct, opts.RememberMe, true)
			if err != nil {
				return nil, err
			}
			e.metrics.Inc(MetricLoginSuccess)
			e.audit(ctx, AuditEvent{
				EventType: audit.TypeLoginSuccess, AccountID: acct.ID,
				SessionID: pair.SessionID, RiskScore: score, Success: true,
				Metadata: map[string]string{"trusted_device": "true"},
			})
			return &LoginResult{Pair: pair, RiskScore: score, RiskBand: band}, nil
		}

		challenge, err := e.mintMFAChallenge(acct, opts, fingerprint, score)
		if err != nil {
			return nil, err
		}
		e.metrics.Inc(MetricMFAChallengeIssued)
		e.audit(ctx, AuditEvent{
			EventType: audit.TypeMFAChallenge, AccountID: acct.ID,
			RiskScore: score, Success: true,
		})
		return &LoginResult{Challenge: challenge, RiskScore: score, RiskBand: band}, nil
	}

	if forceMFA {
		// High risk demands a second factor. Backup codes can satisfy the
		// step-up; an account with no second factor at all is refused.
		if len(acct.BackupCodeHashes) > 0 {
			challenge, err := e.mintMFAChallenge(acct, opts, fingerprint, score)
			if err != nil {
				return nil, err
			}
			e.metrics.Inc(MetricMFAChallengeIssued)
			e.audit(ctx, AuditEvent{
				EventType: audit.TypeMFAChallenge, AccountID: acct.ID,
				RiskScore: score, Success: true,
				Metadata: map[string]string{"step_up": "risk"},
			})
			return &LoginResult{Challenge: challenge, RiskScore: score, RiskBand: band}, nil
		}
		e.metrics.Inc(MetricLoginBlocked)
		e.audit(ctx, AuditEvent{
			EventType: audit.TypeLoginBlocked, AccountID: acct.ID,
			RiskScore: score, Error: "step-up required, no second factor enrolled",
		})
		return nil, ErrSuspiciousActivity
	}

	pair, err := e.issueSession(ctx, acct, opts.RememberMe, false)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricLoginSuccess)
	e.audit(ctx, AuditEvent{
		EventType: audit.TypeLoginSuccess, AccountID: acct.ID,
		SessionID: pair.SessionID, RiskScore: score, Success: true,
	})
	return &LoginResult{Pair: pair, RiskScore: score, RiskBand: band}, nil
}

func (e *Engine) recordLoginFailure(ctx context.Context, acct *Account) error {
	count, err := e.provider.IncrementFailedAttempts(ctx, acct.ID)
	if err != nil {
		e.warnf("failed-attempt increment for %s: %v", acct.ID, err)
		count = acct.FailedAttempts + 1
	}

	if count >= e.cfg.Lockout.Threshold {
		until := e.now().Add(e.cfg.Lockout.Duration)
		if err := e.provider.SetLockedUntil(ctx, acct.ID, until); err != nil {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		e.metrics.Inc(MetricLockoutTriggered)
		e.audit(ctx, AuditEvent{
			EventType: audit.TypeLockoutTriggered, AccountID: acct.ID,
			Metadata: map[string]string{"failed_attempts": strconv.Itoa(count)},
		})
		return ErrAccountLocked
	}

	e.metrics.Inc(MetricLoginFailure)
	e.audit(ctx, AuditEvent{
		EventType: audit.TypeLoginFailed, AccountID: acct.ID,
		Metadata: map[string]string{"failed_attempts": strconv.Itoa(count)},
	})
	return ErrInvalidCredentials
}

// maybeRehash migrates the stored hash to the current cost after a
// successful verify. Best-effort.
func (e *Engine) maybeRehash(ctx context.Context, acct *Account, pw string) {
	if !e.hasher.NeedsRehash(acct.PasswordHash) {
		return
	}
	newHash, err := e.hasher.Hash(pw)
	if err != nil {
		e.warnf("rehash for %s: %v", acct.ID, err)
		return
	}
	if err := e.provider.UpdatePasswordHash(ctx, acct.ID, newHash, acct.PasswordChangedAt); err != nil {
		e.warnf("rehash persist for %s: %v", acct.ID, err)
	}
}

func (e *Engine) mintMFAChallenge(acct *Account, opts LoginOptions, fingerprint string, score int) (*MFAChallenge, error) {
	signed, claims, err := e.tokens.Mint(token.MintRequest{
		Subject: acct.ID,
		Type:    token.TypeMFASession,
		Metadata: map[string]string{
			mfaMetaRemember:    strconv.FormatBool(opts.RememberMe),
			mfaMetaFingerprint: fingerprint,
			mfaMetaRiskScore:   strconv.Itoa(score),
		},
	})
	if err != nil {
		return nil, err
	}
	methods := make([]string, 0, 2)
	if acct.MFAEnabled && acct.MFASecret != "" {
		methods = append(methods, "totp")
	}
	if len(acct.BackupCodeHashes) > 0 {
		methods = append(methods, "backup_code")
	}
	return &MFAChallenge{
		MFAToken:  signed,
		ExpiresAt: claims.ExpiresAt.Time,
		Methods:   methods,
	}, nil
}

// issueSession creates the server-side session and mints the bound
// access/refresh pair.
func (e *Engine) issueSession(ctx context.Context, acct *Account, remember, mfaCompleted bool) (*TokenPair, error) {
	ttl := e.cfg.Session.TTL
	if remember {
		ttl = e.cfg.Session.RememberMeTTL
	}

	perms, err := e.authorizer.ResolvePermissions(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	sessionID := uuid.NewString()
	access, accessClaims, err := e.tokens.Mint(token.MintRequest{
		Subject:     acct.ID,
		Type:        token.TypeAccess,
		SessionID:   sessionID,
		Permissions: perms,
	})
	if err != nil {
		return nil, err
	}
	refresh, refreshClaims, err := e.tokens.Mint(token.MintRequest{
		Subject:   acct.ID,
		Type:      token.TypeRefresh,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, err
	}

	now := e.now()
	sess := &session.Session{
		ID:                sessionID,
		AccountID:         acct.ID,
		RefreshTokenHash:  token.Hash(refresh),
		ClientIP:          clientIPFromContext(ctx),
		UserAgent:         userAgentFromContext(ctx),
		DeviceFingerprint: deviceFingerprintFromContext(ctx),
		RememberMe:        remember,
		MFACompleted:      mfaCompleted,
		CreatedAt:         now,
		LastSeenAt:        now,
		ExpiresAt:         now.Add(ttl),
	}
	if err := e.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.recordLastLogin(ctx, acct.ID, sess.ClientIP, sess.UserAgent, sess.DeviceFingerprint)

	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
		SessionID:        sessionID,
	}, nil
}
