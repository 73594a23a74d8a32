package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/oddsvault/authcore/internal/audit"
	"github.com/oddsvault/authcore/mfa"
	"github.com/oddsvault/authcore/token"
)

// VerifyMFA exchanges a login's MFA challenge for a token pair. The
// challenge token is single-use: it is revoked before tokens are
// issued, so a replayed challenge fails with ErrTokenRevoked.
//
// A challenge issued as a risk step-up to an account without TOTP
// enrollment is satisfiable only by a backup code.
func (e *Engine) VerifyMFA(ctx context.Context, mfaToken, code string, opts VerifyMFAOptions) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	claims, err := e.tokens.Decode(ctx, mfaToken, token.DecodeOptions{
		VerifyExpiry: true,
		ExpectedType: token.TypeMFASession,
	})
	if err != nil {
		return nil, err
	}
	accountID := claims.Subject

	if err := e.requireLimit(ctx, RuleMFAVerify, accountID); err != nil {
		return nil, err
	}

	acct, err := e.provider.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	hasTOTP := acct.MFAEnabled && acct.MFASecret != ""
	if !hasTOTP && len(acct.BackupCodeHashes) == 0 {
		return nil, ErrMFANotEnabled
	}

	ok := false
	if hasTOTP {
		var verr error
		ok, _, verr = e.totp.Verify(acct.MFASecret, code, e.now())
		if verr != nil {
			ok = false
		}
	}
	usedBackup := false
	if !ok {
		if match, hash := mfa.VerifyBackupCode(code, acct.BackupCodeHashes); match {
			consumed, cerr := e.provider.ConsumeBackupCode(ctx, acct.ID, hash)
			if cerr != nil {
				return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, cerr)
			}
			// consumed=false means a concurrent attempt spent it first.
			ok = consumed
			usedBackup = consumed
		}
	}
	if !ok {
		e.metrics.Inc(MetricMFAFailure)
		e.audit(ctx, AuditEvent{EventType: audit.TypeMFAFailed, AccountID: acct.ID})
		return nil, ErrMFAInvalidCode
	}

	// Single use. Revocation failure fails the whole exchange; issuing
	// tokens while the challenge stays replayable is worse than a retry.
	if err := e.tokens.Revoke(ctx, claims); err != nil {
		return nil, err
	}

	remember := claims.Metadata[mfaMetaRemember] == "true"
	score, _ := strconv.Atoi(claims.Metadata[mfaMetaRiskScore])

	pair, err := e.issueSession(ctx, acct, remember, true)
	if err != nil {
		return nil, err
	}

	if opts.RememberDevice {
		e.trustDevice(ctx, acct.ID, claims.Metadata[mfaMetaFingerprint])
	}

	e.metrics.Inc(MetricMFASuccess)
	e.metrics.Inc(MetricLoginSuccess)
	if usedBackup {
		e.metrics.Inc(MetricBackupCodeUsed)
		e.audit(ctx, AuditEvent{
			EventType: audit.TypeBackupCodeUsed, AccountID: acct.ID, Success: true,
			Metadata: map[string]string{"remaining": strconv.Itoa(len(acct.BackupCodeHashes) - 1)},
		})
	}
	e.audit(ctx, AuditEvent{
		EventType: audit.TypeMFASuccess, AccountID: acct.ID,
		SessionID: pair.SessionID, RiskScore: score, Success: true,
	})
	return &LoginResult{Pair: pair, RiskScore: score, RiskBand: BandFor(score)}, nil
}

// SetupMFA starts enrollment: a fresh secret is stored pending and
// returned with its otpauth URI. Enrollment completes in EnableMFA once
// the account proves it can produce a code.
func (e *Engine) SetupMFA(ctx context.Context, accountID string) (*MFASetup, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	acct, err := e.findAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	if err := e.provider.SetMFA(ctx, acct.ID, false, secret, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	label := acct.Email
	if label == "" {
		label = acct.Username
	}
	return &MFASetup{
		Secret:       secret,
		ProvisionURI: e.totp.ProvisionURI(label, secret),
	}, nil
}

// EnableMFA completes a pending enrollment with a valid code and
// returns the plaintext backup codes, shown exactly once. All other
// sessions are revoked.
func (e *Engine) EnableMFA(ctx context.Context, accountID, code string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	acct, err := e.findAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}
	if acct.MFASecret == "" {
		return nil, ErrMFANotEnabled
	}

	ok, _, verr := e.totp.Verify(acct.MFASecret, code, e.now())
	if verr != nil || !ok {
		e.metrics.Inc(MetricMFAFailure)
		return nil, ErrMFAInvalidCode
	}

	count := e.cfg.MFA.BackupCodeCount
	if count <= 0 {
		count = mfa.DefaultBackupCodeCount
	}
	codes, err := mfa.GenerateBackupCodes(count)
	if err != nil {
		return nil, err
	}
	hashes, err := mfa.HashBackupCodes(codes)
	if err != nil {
		return nil, err
	}

	if err := e.provider.SetMFA(ctx, acct.ID, true, acct.MFASecret, hashes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.revokeAccountSessions(ctx, acct.ID, "mfa enabled")
	e.audit(ctx, AuditEvent{EventType: audit.TypeMFAEnabled, AccountID: acct.ID, Success: true})
	return codes, nil
}

// DisableMFA removes enrollment. Requires a valid TOTP or backup code
// unless adminOverride is set by a caller that already authorized the
// override (system:admin).
func (e *Engine) DisableMFA(ctx context.Context, accountID, code string, adminOverride bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	acct, err := e.findAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if !acct.MFAEnabled {
		return ErrMFANotEnabled
	}

	if !adminOverride {
		ok, _, verr := e.totp.Verify(acct.MFASecret, code, e.now())
		if verr != nil {
			ok = false
		}
		if !ok {
			if match, hash := mfa.VerifyBackupCode(code, acct.BackupCodeHashes); match {
				consumed, cerr := e.provider.ConsumeBackupCode(ctx, acct.ID, hash)
				if cerr != nil {
					return fmt.Errorf("%w: %v", ErrBackendUnavailable, cerr)
				}
				ok = consumed
			}
		}
		if !ok {
			e.metrics.Inc(MetricMFAFailure)
			return ErrMFAInvalidCode
		}
	}

	if err := e.provider.SetMFA(ctx, acct.ID, false, "", nil); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.revokeAccountSessions(ctx, acct.ID, "mfa disabled")
	event := AuditEvent{EventType: audit.TypeMFADisabled, AccountID: acct.ID, Success: true}
	if adminOverride {
		event.Metadata = map[string]string{"admin_override": "true"}
	}
	e.audit(ctx, event)
	return nil
}

// RegenerateBackupCodes replaces the backup code set. Requires a valid
// TOTP code; backup codes cannot mint their own successors.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, accountID, code string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	acct, err := e.findAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !acct.MFAEnabled || acct.MFASecret == "" {
		return nil, ErrMFANotEnabled
	}

	ok, _, verr := e.totp.Verify(acct.MFASecret, code, e.now())
	if verr != nil || !ok {
		e.metrics.Inc(MetricMFAFailure)
		return nil, ErrMFAInvalidCode
	}

	count := e.cfg.MFA.BackupCodeCount
	if count <= 0 {
		count = mfa.DefaultBackupCodeCount
	}
	codes, err := mfa.GenerateBackupCodes(count)
	if err != nil {
		return nil, err
	}
	hashes, err := mfa.HashBackupCodes(codes)
	if err != nil {
		return nil, err
	}
	if err := e.provider.SetMFA(ctx, acct.ID, true, acct.MFASecret, hashes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return codes, nil
}

func (e *Engine) findAccount(ctx context.Context, accountID string) (*Account, error) {
	acct, err := e.provider.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return acct, nil
}

// revokeAccountSessions is the common invalidate-everything step after
// credential or MFA changes. Best-effort: the primary change has
// already been persisted.
func (e *Engine) revokeAccountSessions(ctx context.Context, accountID, reason string) {
	if _, err := e.sessions.RevokeAllForAccount(ctx, accountID, e.cfg.Session.RememberMeTTL); err != nil {
		e.warnf("session revocation after %s for %s: %v", reason, accountID, err)
	}
}
