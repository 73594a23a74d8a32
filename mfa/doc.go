// Package mfa implements the second-factor primitives: RFC 6238 TOTP
// generation/verification and one-time backup codes.
//
// TOTP verification accepts the current time step plus a configurable
// number of adjacent steps to tolerate clock drift, and returns the
// matched counter so callers can reject replays within a step. Backup
// codes are returned in plaintext exactly once; only salted SHA-256
// digests are handed back for persistence, and verification is
// constant-time across the full stored set.
//
// Enrollment state (pending/enabled) and single-use consumption of
// backup codes are enforced by the Engine, not here.
package mfa
