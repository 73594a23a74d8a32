package token

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

// Config holds token signing and lifetime settings. Per-type TTL fields
// override the built-in lifetime classes when set.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration

	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	ResetTTL             time.Duration
	MFASessionTTL        time.Duration
	EmailVerificationTTL time.Duration
}

// Claims is the signed payload of every issued token. The signature
// covers all fields, so any mutation invalidates the token.
type Claims struct {
	Type        string            `json:"typ"`
	SessionID   string            `json:"sid,omitempty"`
	Permissions []string          `json:"perms,omitempty"`
	Scopes      []string          `json:"scopes,omitempty"`
	Metadata    map[string]string `json:"meta,omitempty"`
	jwt.RegisteredClaims
}

// TokenType returns the typed form of the typ claim.
func (c *Claims) TokenType() Type {
	return Type(c.Type)
}

// MintRequest describes a token to issue. Subject and Type are required;
// CustomExpiry overrides the type's lifetime when positive.
type MintRequest struct {
	Subject      string
	Type         Type
	SessionID    string
	Permissions  []string
	Audience     string
	Scopes       []string
	Metadata     map[string]string
	CustomExpiry time.Duration
}

// DecodeOptions controls Decode behavior. Signature verification is
// always performed; VerifyExpiry=false only suppresses the expiry check
// (used to inspect a just-expired token for diagnostics).
type DecodeOptions struct {
	VerifyExpiry bool
	ExpectedType Type
}

// RevocationStore tracks revoked token ids. Revocation is by id, never by
// value, so raw tokens are never persisted.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Manager mints and decodes signed, typed, expiring tokens.
type Manager struct {
	config      Config
	revocations RevocationStore
}

// NewManager validates cfg and returns a Manager. revocations may be nil,
// in which case Decode skips revocation checks (callers must check
// separately).
func NewManager(cfg Config, revocations RevocationStore) (*Manager, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key")
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	return &Manager{config: cfg, revocations: revocations}, nil
}

// TTLFor returns the effective lifetime for type t after config
// overrides.
func (m *Manager) TTLFor(t Type) time.Duration {
	var override time.Duration
	switch t {
	case TypeAccess:
		override = m.config.AccessTTL
	case TypeRefresh:
		override = m.config.RefreshTTL
	case TypeReset:
		override = m.config.ResetTTL
	case TypeMFASession:
		override = m.config.MFASessionTTL
	case TypeEmailVerification:
		override = m.config.EmailVerificationTTL
	}
	if override > 0 {
		return override
	}
	return t.DefaultTTL()
}

// Mint signs a new token for req and returns the compact form together
// with its claims. Every token carries a unique id, issued-at, and a
// type-appropriate expiry.
func (m *Manager) Mint(req MintRequest) (string, *Claims, error) {
	if req.Subject == "" {
		return "", nil, errors.New("mint requires a subject")
	}
	if !req.Type.Valid() {
		return "", nil, errors.New("mint requires a known token type")
	}

	ttl := m.TTLFor(req.Type)
	if req.CustomExpiry > 0 {
		ttl = req.CustomExpiry
	}

	now := time.Now()
	claims := &Claims{
		Type:        string(req.Type),
		SessionID:   req.SessionID,
		Permissions: req.Permissions,
		Scopes:      req.Scopes,
		Metadata:    req.Metadata,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   req.Subject,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if req.Audience != "" {
		claims.Audience = jwt.ClaimStrings{req.Audience}
	}

	signed, err := jwt.NewWithClaims(m.signingMethod(), claims).SignedString(m.signKey())
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Decode verifies tokenStr and returns its claims. Signature failures and
// malformed tokens map to ErrInvalid, a passed expiry to ErrExpired, and
// a revoked id to ErrRevoked; revocation wins over both. A revocation
// backend error fails closed with ErrUnavailable.
func (m *Manager) Decode(ctx context.Context, tokenStr string, opts DecodeOptions) (*Claims, error) {
	claims, err := m.parse(tokenStr, true)
	expired := false
	if err != nil {
		if !errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrInvalid
		}
		expired = true
		// Re-parse without claim validation: the signature is still
		// verified, only registered-claim checks are skipped.
		claims, err = m.parse(tokenStr, false)
		if err != nil {
			return nil, ErrInvalid
		}
	}

	if m.revocations != nil && claims.ID != "" {
		revoked, err := m.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, ErrUnavailable
		}
		if revoked {
			return nil, ErrRevoked
		}
	}

	if expired && opts.VerifyExpiry {
		return nil, ErrExpired
	}
	if opts.ExpectedType != "" && claims.TokenType() != opts.ExpectedType {
		return nil, ErrInvalid
	}
	return claims, nil
}

// Revoke marks the token id behind claims as revoked for its remaining
// lifetime. Decoding a revoked token always fails afterwards.
func (m *Manager) Revoke(ctx context.Context, claims *Claims) error {
	if m.revocations == nil {
		return errors.New("no revocation store configured")
	}
	if claims == nil || claims.ID == "" {
		return ErrInvalid
	}
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		if remaining := time.Until(claims.ExpiresAt.Time); remaining > ttl {
			ttl = remaining
		}
	}
	return m.revocations.Revoke(ctx, claims.ID, ttl)
}

// Hash returns the hex SHA-256 digest of a raw token. Anything that must
// reference a token at rest stores this digest, never the token itself.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (m *Manager) parse(tokenStr string, validateClaims bool) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.signingMethod().Alg()}),
	}
	if !validateClaims {
		options = append(options, jwt.WithoutClaimsValidation())
	} else {
		if m.config.Leeway > 0 {
			options = append(options, jwt.WithLeeway(m.config.Leeway))
		}
		if m.config.Issuer != "" {
			options = append(options, jwt.WithIssuer(m.config.Issuer))
		}
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.verifyKey()
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func (m *Manager) signingMethod() jwt.SigningMethod {
	if m.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (m *Manager) signKey() interface{} {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey
	}
	key, _ := parseEdPrivateKey(m.config.PrivateKey)
	return key
}

func (m *Manager) verifyKey() (interface{}, error) {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey, nil
	}
	return parseEdPublicKey(m.config.PublicKey)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
