package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	counterKeyPrefix = "rl:"
	penaltyKeyPrefix = "rl:pen:"
)

// Sliding window: members encode their weight as a ":<n>" suffix so the
// trailing-window sum is a single pass over the set. Check, record, and
// penalty write happen in one script execution.
var slidingWindowLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local weight = tonumber(ARGV[4])
local increment = tonumber(ARGV[5])
local penalty = tonumber(ARGV[7])

redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)

local sum = 0
local members = redis.call("ZRANGE", KEYS[1], 0, -1)
for _, m in ipairs(members) do
  sum = sum + (tonumber(string.match(m, ":(%d+)$")) or 1)
end

local reset = now + window
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
if oldest[2] then
  reset = tonumber(oldest[2]) + window
end

if sum + weight <= limit then
  if increment == 1 then
    redis.call("ZADD", KEYS[1], now, ARGV[6])
    redis.call("PEXPIRE", KEYS[1], window)
    sum = sum + weight
    if sum == weight then
      reset = now + window
    end
  end
  return {1, limit - sum, reset}
end

if penalty > 0 and increment == 1 then
  redis.call("SET", KEYS[2], "1", "PX", penalty)
end
return {0, limit - sum, reset}
`)

// Fixed window: the caller aligns the key to the window boundary, the
// script only counts against it.
var fixedWindowLua = redis.NewScript(`
local limit = tonumber(ARGV[1])
local weight = tonumber(ARGV[2])
local increment = tonumber(ARGV[3])
local penalty = tonumber(ARGV[5])

local count = tonumber(redis.call("GET", KEYS[1]) or "0")

if count + weight <= limit then
  if increment == 1 then
    count = redis.call("INCRBY", KEYS[1], weight)
    redis.call("PEXPIRE", KEYS[1], ARGV[4])
  end
  return {1, limit - count}
end

if penalty > 0 and increment == 1 then
  redis.call("SET", KEYS[2], "1", "PX", penalty)
end
return {0, limit - count}
`)

// Token bucket: continuous refill at limit/window tokens per second,
// capped at limit+burst. Token balance is kept as a string to preserve
// the fractional part between refills.
var tokenBucketLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local weight = tonumber(ARGV[4])
local increment = tonumber(ARGV[5])
local penalty = tonumber(ARGV[7])

local tokens = tonumber(redis.call("HGET", KEYS[1], "tokens"))
local last = tonumber(redis.call("HGET", KEYS[1], "refilled_at"))
if tokens == nil or last == nil then
  tokens = capacity
  last = now
end

tokens = tokens + (now - last) * rate
if tokens > capacity then
  tokens = capacity
end

local allowed = 0
if tokens >= weight then
  allowed = 1
  if increment == 1 then
    tokens = tokens - weight
  end
end

if increment == 1 then
  redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "refilled_at", tostring(now))
  redis.call("PEXPIRE", KEYS[1], ARGV[6])
end

if allowed == 0 and penalty > 0 and increment == 1 then
  redis.call("SET", KEYS[2], "1", "PX", penalty)
end
return {allowed, tostring(tokens)}
`)

// Limiter enforces named rate-limit rules against shared Redis counters.
// All three algorithms perform their read-increment-write as a single
// script execution so concurrent callers cannot race past a quota by more
// than the accepted margin; penalties are written inside the same script.
//
// When Redis is unreachable the limiter fails open: the request is
// allowed and the result is marked FailedOpen. Availability is chosen
// over strictness here; authentication paths fail closed on their own.
type Limiter struct {
	redis redis.UniversalClient

	mu    sync.RWMutex
	rules map[string]Rule

	now func() time.Time
}

// New returns a Limiter with the given rules registered.
func New(client redis.UniversalClient, rules ...Rule) (*Limiter, error) {
	l := &Limiter{
		redis: client,
		rules: make(map[string]Rule, len(rules)),
		now:   time.Now,
	}
	for _, rule := range rules {
		if err := l.Register(rule); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Register adds or replaces a rule.
func (l *Limiter) Register(rule Rule) error {
	if err := rule.validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.rules[rule.Name] = rule
	l.mu.Unlock()
	return nil
}

// Rule returns the named rule.
func (l *Limiter) Rule(name string) (Rule, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rule, ok := l.rules[name]
	return rule, ok
}

// Rules returns the registered rule names, sorted.
func (l *Limiter) Rules() []string {
	l.mu.RLock()
	names := make([]string, 0, len(l.rules))
	for name := range l.rules {
		names = append(names, name)
	}
	l.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Check evaluates the named rule for identifier at the rule's default
// weight. With increment=false the check is side-effect-free (status
// inspection only).
func (l *Limiter) Check(ctx context.Context, ruleName, identifier string, increment bool) (Result, error) {
	return l.CheckWeight(ctx, ruleName, identifier, 0, increment)
}

// CheckWeight evaluates the named rule charging the given weight.
func (l *Limiter) CheckWeight(ctx context.Context, ruleName, identifier string, weight int, increment bool) (Result, error) {
	rule, ok := l.Rule(ruleName)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownRule, ruleName)
	}
	if weight <= 0 {
		weight = rule.Weight
	}
	if weight <= 0 {
		weight = 1
	}

	now := l.now()

	// An active penalty denies unconditionally, independent of counter
	// state.
	ttl, err := l.redis.PTTL(ctx, l.penaltyKey(rule.Name, identifier)).Result()
	if err != nil {
		return l.failOpen(rule, now), nil
	}
	if ttl > 0 {
		return Result{
			Allowed:    false,
			Limit:      rule.Limit,
			Remaining:  0,
			ResetAt:    now.Add(ttl),
			RetryAfter: ttl,
			Penalized:  true,
		}, nil
	}

	switch rule.Algorithm {
	case SlidingWindow:
		return l.checkSliding(ctx, rule, identifier, weight, increment, now)
	case FixedWindow:
		return l.checkFixed(ctx, rule, identifier, weight, increment, now)
	case TokenBucket:
		return l.checkBucket(ctx, rule, identifier, weight, increment, now)
	}
	return Result{}, fmt.Errorf("%w: %s", ErrUnknownRule, ruleName)
}

// Require runs Check with increment=true and converts a denial into a
// *LimitError carrying remaining quota, limit, and retry-after.
func (l *Limiter) Require(ctx context.Context, ruleName, identifier string) (Result, error) {
	res, err := l.Check(ctx, ruleName, identifier, true)
	if err != nil {
		return res, err
	}
	if !res.Allowed {
		return res, &LimitError{
			Rule:       ruleName,
			Limit:      res.Limit,
			Remaining:  res.Remaining,
			RetryAfter: res.RetryAfter,
			ResetAt:    res.ResetAt,
		}
	}
	return res, nil
}

// Reset clears the counter and penalty for a key. Used after a
// successful authentication to forgive prior failures.
func (l *Limiter) Reset(ctx context.Context, ruleName, identifier string) error {
	rule, ok := l.Rule(ruleName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRule, ruleName)
	}
	keys := []string{
		l.counterKey(rule.Name, identifier),
		l.penaltyKey(rule.Name, identifier),
	}
	if rule.Algorithm == FixedWindow {
		keys = append(keys, l.bucketKey(rule, identifier, l.now()))
	}
	return l.redis.Del(ctx, keys...).Err()
}

// Cleanup prunes rate-limit state older than twice the longest
// registered window. Counter and penalty keys carry TTLs, so this only
// sweeps what expiry has not reclaimed yet (sliding-window members of
// still-live keys, keys left behind by a crashed writer). Idempotent
// and safe to run concurrently from several processes.
func (l *Limiter) Cleanup(ctx context.Context) (int, error) {
	l.mu.RLock()
	var longest time.Duration
	for _, rule := range l.rules {
		if rule.Window > longest {
			longest = rule.Window
		}
		if rule.Penalty > longest {
			longest = rule.Penalty
		}
	}
	l.mu.RUnlock()
	if longest == 0 {
		return 0, nil
	}

	horizon := l.now().Add(-2 * longest)
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := l.redis.Scan(ctx, cursor, counterKeyPrefix+"*", 200).Result()
		if err != nil {
			return removed, err
		}
		for _, key := range keys {
			kind, err := l.redis.Type(ctx, key).Result()
			if err != nil {
				return removed, err
			}
			switch kind {
			case "zset":
				n, err := l.redis.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(horizon.UnixMilli(), 10)).Result()
				if err != nil {
					return removed, err
				}
				removed += int(n)
				if card, err := l.redis.ZCard(ctx, key).Result(); err == nil && card == 0 {
					l.redis.Del(ctx, key)
				}
			default:
				ttl, err := l.redis.TTL(ctx, key).Result()
				if err != nil {
					return removed, err
				}
				if ttl < 0 {
					if err := l.redis.Del(ctx, key).Err(); err != nil {
						return removed, err
					}
					removed++
				}
			}
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (l *Limiter) checkSliding(ctx context.Context, rule Rule, identifier string, weight int, increment bool, now time.Time) (Result, error) {
	member := strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString() + ":" + strconv.Itoa(weight)
	raw, err := slidingWindowLua.Run(ctx, l.redis,
		[]string{l.counterKey(rule.Name, identifier), l.penaltyKey(rule.Name, identifier)},
		now.UnixMilli(), rule.Window.Milliseconds(), rule.Limit, weight, boolArg(increment), member, rule.Penalty.Milliseconds(),
	).Result()
	if err != nil {
		return l.failOpen(rule, now), nil
	}

	allowed, remaining, resetMilli := parseTriple(raw)
	res := Result{
		Allowed:   allowed,
		Limit:     rule.Limit,
		Remaining: clampRemaining(remaining),
		ResetAt:   time.UnixMilli(resetMilli),
	}
	l.applyDenial(&res, rule, now)
	return res, nil
}

func (l *Limiter) checkFixed(ctx context.Context, rule Rule, identifier string, weight int, increment bool, now time.Time) (Result, error) {
	bucketStart := now.Truncate(rule.Window)
	bucketEnd := bucketStart.Add(rule.Window)

	raw, err := fixedWindowLua.Run(ctx, l.redis,
		[]string{l.bucketKey(rule, identifier, now), l.penaltyKey(rule.Name, identifier)},
		rule.Limit, weight, boolArg(increment), bucketEnd.Sub(now).Milliseconds(), rule.Penalty.Milliseconds(),
	).Result()
	if err != nil {
		return l.failOpen(rule, now), nil
	}

	allowed, remaining, _ := parseTriple(raw)
	res := Result{
		Allowed:   allowed,
		Limit:     rule.Limit,
		Remaining: clampRemaining(remaining),
		ResetAt:   bucketEnd,
	}
	l.applyDenial(&res, rule, now)
	return res, nil
}

func (l *Limiter) checkBucket(ctx context.Context, rule Rule, identifier string, weight int, increment bool, now time.Time) (Result, error) {
	capacity := rule.Limit + rule.Burst
	refillPerMilli := float64(rule.Limit) / float64(rule.Window.Milliseconds())

	raw, err := tokenBucketLua.Run(ctx, l.redis,
		[]string{l.counterKey(rule.Name, identifier), l.penaltyKey(rule.Name, identifier)},
		now.UnixMilli(), capacity, strconv.FormatFloat(refillPerMilli, 'f', -1, 64),
		weight, boolArg(increment), 2*rule.Window.Milliseconds(), rule.Penalty.Milliseconds(),
	).Result()
	if err != nil {
		return l.failOpen(rule, now), nil
	}

	values, _ := raw.([]interface{})
	var allowed bool
	var tokens float64
	if len(values) == 2 {
		n, _ := values[0].(int64)
		allowed = n == 1
		if s, ok := values[1].(string); ok {
			tokens, _ = strconv.ParseFloat(s, 64)
		}
	}

	res := Result{
		Allowed:   allowed,
		Limit:     rule.Limit,
		Remaining: int(tokens),
		ResetAt:   now.Add(timeToRefill(float64(capacity)-tokens, refillPerMilli)),
	}
	if !res.Allowed {
		res.RetryAfter = timeToRefill(float64(weight)-tokens, refillPerMilli)
		if rule.Penalty > 0 {
			res.RetryAfter = rule.Penalty
			res.ResetAt = now.Add(rule.Penalty)
		}
	}
	return res, nil
}

func (l *Limiter) applyDenial(res *Result, rule Rule, now time.Time) {
	if res.Allowed {
		return
	}
	res.RetryAfter = res.ResetAt.Sub(now)
	if res.RetryAfter < 0 {
		res.RetryAfter = 0
	}
	if rule.Penalty > 0 {
		res.RetryAfter = rule.Penalty
		res.ResetAt = now.Add(rule.Penalty)
	}
}

func (l *Limiter) failOpen(rule Rule, now time.Time) Result {
	return Result{
		Allowed:    true,
		Limit:      rule.Limit,
		Remaining:  rule.Limit,
		ResetAt:    now.Add(rule.Window),
		FailedOpen: true,
	}
}

func (l *Limiter) counterKey(rule, identifier string) string {
	return counterKeyPrefix + rule + ":" + identifier
}

func (l *Limiter) bucketKey(rule Rule, identifier string, now time.Time) string {
	bucket := now.Truncate(rule.Window).Unix()
	return counterKeyPrefix + rule.Name + ":" + identifier + ":" + strconv.FormatInt(bucket, 10)
}

func (l *Limiter) penaltyKey(rule, identifier string) string {
	return penaltyKeyPrefix + rule + ":" + identifier
}

func boolArg(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseTriple(raw interface{}) (allowed bool, remaining int, reset int64) {
	values, _ := raw.([]interface{})
	if len(values) >= 2 {
		n, _ := values[0].(int64)
		allowed = n == 1
		r, _ := values[1].(int64)
		remaining = int(r)
	}
	if len(values) >= 3 {
		reset, _ = values[2].(int64)
	}
	return allowed, remaining, reset
}

func clampRemaining(remaining int) int {
	if remaining < 0 {
		return 0
	}
	return remaining
}

func timeToRefill(tokens float64, refillPerMilli float64) time.Duration {
	if tokens <= 0 || refillPerMilli <= 0 {
		return 0
	}
	return time.Duration(tokens/refillPerMilli) * time.Millisecond
}
