package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oddsvault/authcore/internal/audit"
	"github.com/oddsvault/authcore/token"
)

// ChangePassword replaces the account's password after proving the
// current one. Every session is revoked afterwards; the caller must log
// in again.
func (e *Engine) ChangePassword(ctx context.Context, accountID, currentPw, newPw string) error {
	if err := e.ready(); err != nil {
		return err
	}
	acct, err := e.findAccount(ctx, accountID)
	if err != nil {
		return err
	}

	if !e.hasher.Verify(currentPw, acct.PasswordHash) {
		e.audit(ctx, AuditEvent{
			EventType: audit.TypePasswordChanged, AccountID: acct.ID, Error: "wrong current password",
		})
		return ErrInvalidCredentials
	}

	if err := e.setPassword(ctx, acct, newPw); err != nil {
		return err
	}

	e.metrics.Inc(MetricPasswordChanged)
	e.audit(ctx, AuditEvent{EventType: audit.TypePasswordChanged, AccountID: acct.ID, Success: true})
	return nil
}

// RequestPasswordReset mints a reset token for the handle. The return
// is uniform whether or not the handle exists: an empty token and nil
// error for unknown handles, so callers cannot probe for accounts. The
// caller delivers the token out of band.
func (e *Engine) RequestPasswordReset(ctx context.Context, handle string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	if ip := clientIPFromContext(ctx); ip != "" {
		if err := e.requireLimit(ctx, RulePasswordReset, ip); err != nil {
			return "", err
		}
	}

	acct, err := e.provider.FindByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	signed, _, err := e.tokens.Mint(token.MintRequest{
		Subject: acct.ID,
		Type:    token.TypeReset,
	})
	if err != nil {
		return "", err
	}

	e.metrics.Inc(MetricPasswordResetRequested)
	e.audit(ctx, AuditEvent{
		EventType: audit.TypePasswordResetSent, AccountID: acct.ID, Success: true,
	})
	return signed, nil
}

// ConfirmPasswordReset sets a new password from a reset token. The
// token is single-use, the lockout state is cleared, and every session
// is revoked.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, resetToken, newPw string) error {
	if err := e.ready(); err != nil {
		return err
	}

	claims, err := e.tokens.Decode(ctx, resetToken, token.DecodeOptions{
		VerifyExpiry: true,
		ExpectedType: token.TypeReset,
	})
	if err != nil {
		return err
	}

	acct, err := e.findAccount(ctx, claims.Subject)
	if err != nil {
		return err
	}

	if err := e.setPassword(ctx, acct, newPw); err != nil {
		return err
	}

	// Consume the token only after the change stuck; a failed attempt
	// may retry with the same token inside its TTL.
	if err := e.tokens.Revoke(ctx, claims); err != nil {
		e.warnf("revoking spent reset token: %v", err)
	}

	// A successful reset proves account ownership; any lockout is void.
	if err := e.provider.ResetFailedAttempts(ctx, acct.ID); err != nil {
		e.warnf("failed-attempt reset for %s: %v", acct.ID, err)
	}
	if err := e.provider.SetLockedUntil(ctx, acct.ID, time.Time{}); err != nil {
		e.warnf("lock clear for %s: %v", acct.ID, err)
	}

	e.metrics.Inc(MetricPasswordResetCompleted)
	e.audit(ctx, AuditEvent{EventType: audit.TypePasswordResetDone, AccountID: acct.ID, Success: true})
	return nil
}

// setPassword runs the shared policy/reuse/update/revoke sequence.
func (e *Engine) setPassword(ctx context.Context, acct *Account, newPw string) error {
	if ok, violations := e.policy.Validate(newPw, acct.Username); !ok {
		return fmt.Errorf("%w: %s", ErrWeakPassword, strings.Join(violations, "; "))
	}
	if e.hasher.Verify(newPw, acct.PasswordHash) {
		return ErrPasswordReuse
	}

	hash, err := e.hasher.Hash(newPw)
	if err != nil {
		return err
	}
	if err := e.provider.UpdatePasswordHash(ctx, acct.ID, hash, e.now()); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.revokeAccountSessions(ctx, acct.ID, "password change")
	return nil
}
