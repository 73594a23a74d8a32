package authcore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oddsvault/authcore/authz"
	"github.com/oddsvault/authcore/internal/audit"
	"github.com/oddsvault/authcore/mfa"
	"github.com/oddsvault/authcore/password"
	"github.com/oddsvault/authcore/ratelimit"
	"github.com/oddsvault/authcore/session"
	"github.com/oddsvault/authcore/token"
)

// Engine is the authentication and authorization core. One Engine per
// process; all methods are safe for concurrent use.
type Engine struct {
	cfg Config

	provider AccountProvider
	redis    redis.UniversalClient

	hasher     *password.Hasher
	policy     *password.Policy
	tokens     *token.Manager
	totp       *mfa.TOTP
	sessions   *session.Store
	registry   *authz.Registry
	authorizer *authz.Authorizer
	limiter    *ratelimit.Limiter

	metrics    *Metrics
	dispatcher *audit.Dispatcher

	now    func() time.Time
	closed atomic.Bool
}

// NewEngine validates cfg and wires every subsystem.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}
	policy := password.NewPolicy(cfg.Policy)

	tokens, err := token.NewManager(cfg.Token, token.NewRedisRevocations(cfg.Redis))
	if err != nil {
		return nil, err
	}

	totp := mfa.NewTOTP(cfg.MFA.TOTP)

	registry := authz.NewRegistry(cfg.Authz.Catalog)
	for _, role := range cfg.Authz.Roles {
		if err := registry.Define(role); err != nil {
			return nil, fmt.Errorf("config role %s: %w", role.Name, err)
		}
	}

	rules := cfg.RateLimits
	if len(rules) == 0 {
		rules = DefaultRateLimits()
	}
	limiter, err := ratelimit.New(cfg.Redis, rules...)
	if err != nil {
		return nil, err
	}

	sink := cfg.Audit.Sink
	if sink == nil {
		sink = audit.NoOpSink{}
	}

	e := &Engine{
		cfg:        cfg,
		provider:   cfg.Provider,
		redis:      cfg.Redis,
		hasher:     hasher,
		policy:     policy,
		tokens:     tokens,
		totp:       totp,
		sessions:   session.NewStore(cfg.Redis),
		registry:   registry,
		authorizer: authz.NewAuthorizer(registry, authz.NewAssignmentStore(cfg.Redis)),
		limiter:    limiter,
		metrics:    NewMetrics(cfg.Metrics),
		dispatcher: audit.NewDispatcher(cfg.auditConfig(), sink),
		now:        time.Now,
	}
	return e, nil
}

// Close drains the audit pipeline. The engine rejects new operations
// afterwards.
func (e *Engine) Close() {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.dispatcher.Close()
}

func (e *Engine) ready() error {
	if e == nil || e.closed.Load() {
		return ErrEngineNotReady
	}
	return nil
}

// Metrics exposes the engine's counters for exporters.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// MetricsSnapshot copies the current counters and histograms. The
// metrics/export packages read through this.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// AuditDropped reports how many audit events were shed under
// backpressure since start.
func (e *Engine) AuditDropped() uint64 {
	return e.dispatcher.Dropped()
}

// audit emits an event, filling timestamp and request origin from ctx.
func (e *Engine) audit(ctx context.Context, event AuditEvent) {
	event.Timestamp = e.now()
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = userAgentFromContext(ctx)
	}
	e.dispatcher.Emit(ctx, event)
}

func (e *Engine) warnf(format string, args ...any) {
	log.Printf("authcore: "+format, args...)
}

// requireLimit charges the named rule and maps denials to the audit and
// metric pipeline. Fail-open results are audited so operators can see
// that limiting was skipped.
func (e *Engine) requireLimit(ctx context.Context, rule, identifier string) error {
	res, err := e.limiter.Require(ctx, rule, identifier)
	if err != nil {
		if rlErr, ok := asRateLimitError(err); ok {
			e.metrics.Inc(MetricRateLimitHit)
			e.audit(ctx, AuditEvent{
				EventType: audit.TypeRateLimited,
				Metadata:  map[string]string{"rule": rule, "identifier": identifier},
			})
			return rlErr
		}
		return err
	}
	if res.FailedOpen {
		e.metrics.Inc(MetricRateLimitFailedOpen)
		e.warnf("rate limit %s failed open", rule)
		e.audit(ctx, AuditEvent{
			EventType: audit.TypeRateLimitFailedOpen,
			Metadata:  map[string]string{"rule": rule},
		})
	}
	return nil
}

func asRateLimitError(err error) (*RateLimitError, bool) {
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return rlErr, true
	}
	return nil, false
}
