// Package token implements the signed, typed, expiring token subsystem:
// JWT minting and verification for access, refresh, reset, MFA-session,
// and email-verification tokens, plus id-based revocation.
//
// Every minted token carries a unique id (jti), issued-at, and a
// type-appropriate expiry; the signature covers all claims. Revocation is
// tracked by token id in Redis with a TTL bounded by the token's
// remaining lifetime — raw token values are never persisted, and callers
// that must reference a token at rest store [Hash] digests.
//
// # What this package must NOT do
//
//   - Persist raw tokens or claims.
//   - Decide which operations a token authorizes — the Engine maps token
//     types to operations.
package token
