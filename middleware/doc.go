// Package middleware exposes HTTP adapters over authcore.Engine validation and
// permission checks.
//
// # Guards
//
//   - [Guard] — authenticates the bearer token and injects the identity.
//   - [RequirePermission] — 403 unless the account holds the permission.
//   - [RequireMFA] — 403 unless the session completed a second factor.
//
// Each guard reads the Authorization header, calls the engine, and injects the
// validated identity into the request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT implement
// authentication logic itself — all decisions are delegated to the engine.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to the engine).
//   - Access Redis (the engine handles I/O).
//   - Make authorization decisions beyond pass/reject from the engine.
package middleware
