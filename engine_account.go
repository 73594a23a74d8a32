package authcore

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/oddsvault/authcore/authz"
	"github.com/oddsvault/authcore/internal/audit"
	"github.com/oddsvault/authcore/token"
)

// CreateAccount registers a new account with a policy-checked password
// and optionally grants initial roles. The roles must already be
// defined.
func (e *Engine) CreateAccount(ctx context.Context, username, email, pw string, roles ...string) (*Account, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if ip := clientIPFromContext(ctx); ip != "" {
		if err := e.requireLimit(ctx, RuleAccountCreate, ip); err != nil {
			return nil, err
		}
	}
	if username == "" {
		return nil, fmt.Errorf("%w: username required", ErrInvalidCredentials)
	}
	for _, role := range roles {
		if _, ok := e.registry.Get(role); !ok {
			return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, role)
		}
	}

	if ok, violations := e.policy.Validate(pw, username); !ok {
		return nil, fmt.Errorf("%w: %s", ErrWeakPassword, strings.Join(violations, "; "))
	}
	hash, err := e.hasher.Hash(pw)
	if err != nil {
		return nil, err
	}

	now := e.now()
	acct := &Account{
		ID:                uuid.NewString(),
		Username:          username,
		Email:             email,
		PasswordHash:      hash,
		CreatedAt:         now,
		PasswordChangedAt: now,
	}
	if err := e.provider.Create(ctx, acct); err != nil {
		return nil, err
	}

	for _, role := range roles {
		if err := e.authorizer.Grant(ctx, acct.ID, authz.Assignment{Role: role}); err != nil {
			return nil, err
		}
	}

	e.metrics.Inc(MetricAccountCreated)
	e.audit(ctx, AuditEvent{
		EventType: audit.TypeAccountCreated, AccountID: acct.ID, Success: true,
		Metadata: map[string]string{"username": username},
	})
	return acct, nil
}

// RequestEmailVerification mints a verification token for the account's
// address. Already-verified accounts get an empty token and nil error.
// The caller delivers the token out of band.
func (e *Engine) RequestEmailVerification(ctx context.Context, accountID string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	if err := e.requireLimit(ctx, RuleEmailVerify, accountID); err != nil {
		return "", err
	}

	acct, err := e.findAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	if acct.EmailVerified {
		return "", nil
	}

	signed, _, err := e.tokens.Mint(token.MintRequest{
		Subject: acct.ID,
		Type:    token.TypeEmailVerification,
		Metadata: map[string]string{
			// Bound to the address so a later email change invalidates
			// outstanding tokens.
			"email": acct.Email,
		},
	})
	if err != nil {
		return "", err
	}
	return signed, nil
}

// ConfirmEmailVerification marks the account verified. The token is
// single-use and must still match the account's current address.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, verificationToken string) error {
	if err := e.ready(); err != nil {
		return err
	}

	claims, err := e.tokens.Decode(ctx, verificationToken, token.DecodeOptions{
		VerifyExpiry: true,
		ExpectedType: token.TypeEmailVerification,
	})
	if err != nil {
		return err
	}

	acct, err := e.findAccount(ctx, claims.Subject)
	if err != nil {
		return err
	}
	if claims.Metadata["email"] != acct.Email {
		return ErrTokenInvalid
	}

	if err := e.provider.SetEmailVerified(ctx, acct.ID, true); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if err := e.tokens.Revoke(ctx, claims); err != nil {
		e.warnf("revoking spent verification token: %v", err)
	}

	e.metrics.Inc(MetricEmailVerified)
	e.audit(ctx, AuditEvent{EventType: audit.TypeEmailVerified, AccountID: acct.ID, Success: true})
	return nil
}
