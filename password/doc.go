// Package password implements credential hashing and the password
// strength policy.
//
// Hashing uses bcrypt with a configurable cost factor. The salt is
// generated per call and embedded in the encoded hash, so stored hashes
// are self-describing: [Hasher.NeedsRehash] compares the embedded cost
// against the configured one to support online cost migration.
//
// # Architecture boundaries
//
// This package owns hashing, verification, and strength evaluation only.
// Reuse prevention, lockout, and rate limiting are enforced by the
// Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords — callers supply plaintext and receive hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords.
package password
