// Package authcore provides an embeddable authentication and
// authorization engine: bcrypt credential verification, typed JWT
// lifecycles with Redis-backed revocation, TOTP second factors with
// single-use backup codes, hierarchical role-based permissions, and
// Redis rate limiting with penalty windows.
//
// The package is designed for concurrent server workloads: Engine
// methods are safe to call from multiple goroutines after construction
// through [NewEngine] or [Builder.Build]. Account storage stays with
// the host application behind [AccountProvider]; everything transient
// (sessions, revocations, rate counters, login baselines) lives in
// Redis.
//
// # Architecture boundaries
//
// authcore is the orchestration surface. It exposes [Engine],
// [Builder], [Config], and the flow value types (TokenPair,
// LoginResult, Identity, SecurityReport). The mechanisms live in the
// sub-packages — password, token, mfa, authz, ratelimit, session — and
// are usable on their own; the engine only composes them.
//
// # What this package must NOT do
//
//   - Store passwords, raw tokens, or TOTP secrets anywhere but the
//     host's provider; Redis only ever sees hashes and ids.
//   - Distinguish unknown accounts from wrong passwords in timing or
//     error shape on the login path.
//   - Deliver anything: reset and verification tokens are returned to
//     the caller, never mailed.
//
// # Performance contract
//
// ValidateAccessToken is the hot path. Signature verification is pure
// CPU; the revocation check and the session read are its only Redis
// round-trips, and the last-seen touch is fire-and-forget.
package authcore
