package authcore

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oddsvault/authcore/authz"
	"github.com/oddsvault/authcore/ratelimit"
	"github.com/oddsvault/authcore/token"
)

// Builder assembles an Engine fluently on top of DefaultConfig.
//
//	engine, err := authcore.New(rdb, provider).
//		WithHS256Key(secret).
//		WithCatalog(catalog).
//		WithRoles(roles...).
//		Build()
type Builder struct {
	cfg Config
}

// New starts a builder from DefaultConfig.
func New(client redis.UniversalClient, provider AccountProvider) *Builder {
	return &Builder{cfg: DefaultConfig(client, provider)}
}

// WithConfig replaces the entire configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithHS256Key selects HMAC signing with the given secret.
func (b *Builder) WithHS256Key(key []byte) *Builder {
	b.cfg.Token.SigningMethod = token.MethodHS256
	b.cfg.Token.PrivateKey = key
	return b
}

// WithEd25519Keys selects Ed25519 signing. Keys are PEM or raw.
func (b *Builder) WithEd25519Keys(private, public []byte) *Builder {
	b.cfg.Token.SigningMethod = token.MethodEd25519
	b.cfg.Token.PrivateKey = private
	b.cfg.Token.PublicKey = public
	return b
}

// WithIssuer sets the token issuer claim.
func (b *Builder) WithIssuer(issuer string) *Builder {
	b.cfg.Token.Issuer = issuer
	return b
}

// WithCatalog declares the permission catalog.
func (b *Builder) WithCatalog(catalog authz.Catalog) *Builder {
	b.cfg.Authz.Catalog = catalog
	return b
}

// WithRoles defines roles at build time.
func (b *Builder) WithRoles(roles ...authz.Role) *Builder {
	b.cfg.Authz.Roles = append(b.cfg.Authz.Roles, roles...)
	return b
}

// WithSessionTTLs sets the default and remember-me session lifetimes.
func (b *Builder) WithSessionTTLs(ttl, rememberMe time.Duration) *Builder {
	b.cfg.Session.TTL = ttl
	b.cfg.Session.RememberMeTTL = rememberMe
	return b
}

// WithLockout sets the failure threshold and lock duration.
func (b *Builder) WithLockout(threshold int, duration time.Duration) *Builder {
	b.cfg.Lockout.Threshold = threshold
	b.cfg.Lockout.Duration = duration
	return b
}

// WithRateLimits replaces the stock rule set.
func (b *Builder) WithRateLimits(rules ...ratelimit.Rule) *Builder {
	b.cfg.RateLimits = rules
	return b
}

// WithAuditSink enables auditing into the given sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.cfg.Audit.Enabled = true
	b.cfg.Audit.Sink = sink
	return b
}

// WithMetrics enables in-process metrics.
func (b *Builder) WithMetrics(latencyHistograms bool) *Builder {
	b.cfg.Metrics.Enabled = true
	b.cfg.Metrics.EnableLatencyHistograms = latencyHistograms
	return b
}

// WithRequireVerifiedEmail gates login on email verification.
func (b *Builder) WithRequireVerifiedEmail() *Builder {
	b.cfg.RequireVerifiedEmail = true
	return b
}

// Build validates and constructs the Engine.
func (b *Builder) Build() (*Engine, error) {
	return NewEngine(b.cfg)
}
