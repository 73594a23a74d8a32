// Package ratelimit implements named rate-limit rules over shared Redis
// counters with three algorithms: sliding window, fixed window, and
// token bucket.
//
// Each rule is keyed by an opaque identifier (IP, account id, API key).
// Counting, denial, and penalty application happen inside a single Lua
// script per check, so concurrent callers across processes see one
// consistent counter. A denial under a rule with a penalty blocks the
// key for the full penalty duration even after the counter recovers.
//
// The limiter fails open: if Redis is unreachable the check allows the
// request and marks the result FailedOpen. Rate limiting protects
// capacity, not secrets; the authentication paths fail closed on their
// own stores.
//
// # What this package must NOT do
//
//   - Interpret identifiers. Scoping (per-IP, per-account) is the
//     caller's composition of rule name and identifier.
//   - Queue or retry denied work.
package ratelimit
