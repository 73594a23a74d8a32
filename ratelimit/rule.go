package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Algorithm selects the counting strategy for a rule.
type Algorithm string

const (
	// SlidingWindow counts the sum of event weights within the trailing
	// window.
	SlidingWindow Algorithm = "sliding_window"
	// FixedWindow counts against a window-aligned bucket that resets at
	// each boundary.
	FixedWindow Algorithm = "fixed_window"
	// TokenBucket refills continuously at limit/window tokens per second
	// up to limit+burst capacity.
	TokenBucket Algorithm = "token_bucket"
)

// Scope documents what kind of identifier a rule is keyed by. The
// limiter itself treats identifiers as opaque.
type Scope string

const (
	ScopeIP       Scope = "ip"
	ScopeAccount  Scope = "account"
	ScopeAPIKey   Scope = "api_key"
	ScopeEndpoint Scope = "endpoint"
	ScopeGlobal   Scope = "global"
)

// Rule is a named rate-limit policy.
type Rule struct {
	Name      string
	Scope     Scope
	Algorithm Algorithm
	Limit     int
	Window    time.Duration
	// Burst extends token-bucket capacity above Limit. Ignored by the
	// window algorithms.
	Burst int
	// Weight is the default charge per check. Zero means 1.
	Weight int
	// Penalty, when positive, blocks the key for this duration after a
	// denial, regardless of the counter recovering.
	Penalty time.Duration
}

func (r Rule) validate() error {
	if r.Name == "" {
		return errors.New("rate limit rule requires a name")
	}
	switch r.Algorithm {
	case SlidingWindow, FixedWindow, TokenBucket:
	default:
		return fmt.Errorf("rule %s: unknown algorithm %q", r.Name, r.Algorithm)
	}
	if r.Limit <= 0 {
		return fmt.Errorf("rule %s: limit must be positive", r.Name)
	}
	if r.Window <= 0 {
		return fmt.Errorf("rule %s: window must be positive", r.Name)
	}
	if r.Burst < 0 {
		return fmt.Errorf("rule %s: burst must not be negative", r.Name)
	}
	if r.Weight < 0 {
		return fmt.Errorf("rule %s: weight must not be negative", r.Name)
	}
	return nil
}

// Result is the outcome of a rate-limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is set on denial: how long until the next request could
	// succeed (penalty expiry included).
	RetryAfter time.Duration
	// Penalized reports that the denial came from an active penalty, not
	// the counter.
	Penalized bool
	// FailedOpen reports that the backend was unreachable and the
	// request was allowed by the availability-over-strictness policy.
	FailedOpen bool
}

var (
	// ErrLimited is the sentinel matched by *LimitError.
	ErrLimited = errors.New("rate limit exceeded")
	// ErrUnknownRule is returned when a check names an unregistered rule.
	ErrUnknownRule = errors.New("unknown rate limit rule")
)

// LimitError carries the quota context of a denial so clients can back
// off correctly.
type LimitError struct {
	Rule       string
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for rule %s: retry after %s", e.Rule, e.RetryAfter.Round(time.Second))
}

// Is matches ErrLimited so callers can use errors.Is without losing the
// typed payload.
func (e *LimitError) Is(target error) bool {
	return target == ErrLimited
}
