package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/oddsvault/authcore/internal/audit"
	"github.com/oddsvault/authcore/session"
	"github.com/oddsvault/authcore/token"
)

// Refresh rotates a refresh token: the presented token is retired, a
// new pair is issued against the same session, and the permission
// context is resolved fresh.
//
// Presenting a refresh token that was already rotated out revokes the
// whole session and returns ErrRefreshReuse: the only way to hold a
// superseded token is theft (of it, or by whoever holds the newer one),
// and killing the session locks both parties out.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	claims, err := e.tokens.Decode(ctx, refreshToken, token.DecodeOptions{
		VerifyExpiry: true,
		ExpectedType: token.TypeRefresh,
	})
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		return nil, err
	}
	if claims.SessionID == "" {
		e.metrics.Inc(MetricRefreshFailure)
		return nil, ErrTokenInvalid
	}
	accountID := claims.Subject

	if err := e.requireLimit(ctx, RuleRefresh, accountID); err != nil {
		return nil, err
	}

	perms, err := e.authorizer.ResolvePermissions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	newAccess, accessClaims, err := e.tokens.Mint(token.MintRequest{
		Subject:     accountID,
		Type:        token.TypeAccess,
		SessionID:   claims.SessionID,
		Permissions: perms,
	})
	if err != nil {
		return nil, err
	}
	newRefresh, refreshClaims, err := e.tokens.Mint(token.MintRequest{
		Subject:   accountID,
		Type:      token.TypeRefresh,
		SessionID: claims.SessionID,
	})
	if err != nil {
		return nil, err
	}

	_, err = e.sessions.RotateRefreshHash(ctx, claims.SessionID, token.Hash(refreshToken), token.Hash(newRefresh))
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		switch {
		case errors.Is(err, session.ErrRefreshMismatch):
			return nil, e.handleRefreshReuse(ctx, accountID, claims)
		case errors.Is(err, session.ErrNotFound):
			return nil, ErrSessionNotFound
		case errors.Is(err, session.ErrExpired):
			return nil, ErrSessionExpired
		case errors.Is(err, session.ErrRevoked):
			return nil, ErrSessionRevoked
		default:
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	// The superseded token is not revoked by jti: the session's rotated
	// hash already bars it from rotating again, and presenting it must
	// reach the mismatch branch so reuse is detected, not masked.

	e.metrics.Inc(MetricRefreshSuccess)
	e.audit(ctx, AuditEvent{
		EventType: audit.TypeTokenRefreshed, AccountID: accountID,
		SessionID: claims.SessionID, Success: true,
	})
	return &TokenPair{
		AccessToken:      newAccess,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshToken:     newRefresh,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
		SessionID:        claims.SessionID,
	}, nil
}

func (e *Engine) handleRefreshReuse(ctx context.Context, accountID string, claims *token.Claims) error {
	e.metrics.Inc(MetricRefreshReuseDetected)
	if err := e.sessions.Revoke(ctx, claims.SessionID, e.cfg.Session.RememberMeTTL); err != nil {
		e.warnf("revoking session after refresh reuse: %v", err)
	}
	if err := e.tokens.Revoke(ctx, claims); err != nil {
		e.warnf("revoking reused refresh token: %v", err)
	}
	e.audit(ctx, AuditEvent{
		EventType: audit.TypeRefreshReuse, AccountID: accountID,
		SessionID: claims.SessionID, Error: "rotated token presented again",
	})
	return ErrRefreshReuse
}

// Logout revokes one session, or every session of the account when
// revokeAll is set. The session id must belong to the account.
func (e *Engine) Logout(ctx context.Context, accountID, sessionID string, revokeAll bool) error {
	if err := e.ready(); err != nil {
		return err
	}

	if revokeAll {
		n, err := e.sessions.RevokeAllForAccount(ctx, accountID, e.cfg.Session.RememberMeTTL)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		e.metrics.Inc(MetricLogoutAll)
		e.audit(ctx, AuditEvent{
			EventType: audit.TypeLogoutAll, AccountID: accountID, Success: true,
			Metadata: map[string]string{"sessions": fmt.Sprint(n)},
		})
		return nil
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil && !errors.Is(err, session.ErrRevoked) {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrExpired) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if sess.AccountID != accountID {
		return ErrSessionNotFound
	}
	if err := e.sessions.Revoke(ctx, sessionID, e.cfg.Session.RememberMeTTL); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metrics.Inc(MetricLogout)
	e.audit(ctx, AuditEvent{
		EventType: audit.TypeLogout, AccountID: accountID, SessionID: sessionID, Success: true,
	})
	return nil
}

// ValidateAccessToken verifies an access token and its backing session
// and returns the caller identity. This is the request hot path; the
// only Redis round-trips are the revocation check and the session read.
func (e *Engine) ValidateAccessToken(ctx context.Context, accessToken string) (*Identity, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := e.now()

	claims, err := e.tokens.Decode(ctx, accessToken, token.DecodeOptions{
		VerifyExpiry: true,
		ExpectedType: token.TypeAccess,
	})
	if err != nil {
		return nil, err
	}

	sess, err := e.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			return nil, ErrSessionNotFound
		case errors.Is(err, session.ErrExpired):
			return nil, ErrSessionExpired
		case errors.Is(err, session.ErrRevoked):
			return nil, ErrSessionRevoked
		default:
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	if err := e.sessions.Touch(ctx, sess.ID); err != nil {
		e.warnf("session touch: %v", err)
	}

	e.metrics.Observe(MetricValidateLatency, e.now().Sub(start))
	return &Identity{
		AccountID:   claims.Subject,
		SessionID:   sess.ID,
		Permissions: claims.Permissions,
		MFAPassed:   sess.MFACompleted,
	}, nil
}
