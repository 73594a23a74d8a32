// Package session stores server-side login records in Redis: creation
// with an absolute lifetime, a per-account index for logout-everywhere,
// revocation tombstones, and atomic refresh-hash rotation.
//
// A session holds the hex SHA-256 of the refresh token that is currently
// valid for it. Refreshing swaps that hash under a Lua compare-and-swap;
// presenting any other hash is reuse of a rotated token and surfaces as
// [ErrRefreshMismatch]. Revoked sessions remain as tombstones until their
// natural expiry so the same replay attempt after logout reports
// [ErrRevoked] rather than disappearing.
//
// # What this package must NOT do
//
//   - Mint or verify tokens. It only stores token hashes.
//   - Decide lifetimes. Callers set ExpiresAt before Save.
package session
