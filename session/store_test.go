package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStore(rdb), mr
}

func testSession(accountID string) *Session {
	now := time.Now()
	return &Session{
		ID:               uuid.NewString(),
		AccountID:        accountID,
		RefreshTokenHash: "hash-1",
		ClientIP:         "10.0.0.1",
		UserAgent:        "test-agent",
		CreatedAt:        now,
		LastSeenAt:       now,
		ExpiresAt:        now.Add(8 * time.Hour),
	}
}

func TestSaveAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("acct-1")
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.AccountID != "acct-1" || got.RefreshTokenHash != "hash-1" || got.ClientIP != "10.0.0.1" {
		t.Fatalf("unexpected session: %+v", got)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveRejectsAlreadyExpired(t *testing.T) {
	store, _ := newTestStore(t)

	sess := testSession("acct-1")
	sess.ExpiresAt = time.Now().Add(-time.Minute)
	if err := store.Save(context.Background(), sess); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestGetExpiredSessionIsRemoved(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("acct-1")
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	// Move the store clock past the absolute lifetime; the Redis TTL has
	// not fired yet.
	store.now = func() time.Time { return time.Now().Add(9 * time.Hour) }

	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	store.now = time.Now
	ids, err := store.ActiveIDs(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ActiveIDs error: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected cleaned index, got %v", ids)
	}
}

func TestRotateRefreshHash(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("acct-1")
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	rotated, err := store.RotateRefreshHash(ctx, sess.ID, "hash-1", "hash-2")
	if err != nil {
		t.Fatalf("RotateRefreshHash error: %v", err)
	}
	if rotated.RefreshTokenHash != "hash-2" {
		t.Fatalf("hash not rotated: %q", rotated.RefreshTokenHash)
	}

	// The superseded hash no longer rotates: reuse.
	if _, err := store.RotateRefreshHash(ctx, sess.ID, "hash-1", "hash-3"); !errors.Is(err, ErrRefreshMismatch) {
		t.Fatalf("expected ErrRefreshMismatch, got %v", err)
	}

	// The current hash still does.
	if _, err := store.RotateRefreshHash(ctx, sess.ID, "hash-2", "hash-3"); err != nil {
		t.Fatalf("rotation with current hash error: %v", err)
	}

	if _, err := store.RotateRefreshHash(ctx, "missing", "x", "y"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeTombstone(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("acct-1")
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if err := store.Revoke(ctx, sess.ID, time.Hour); err != nil {
		t.Fatalf("Revoke error: %v", err)
	}

	got, err := store.Get(ctx, sess.ID)
	if !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
	if got == nil || got.AccountID != "acct-1" {
		t.Fatal("tombstone should still identify the account")
	}

	// Refresh against a tombstone reports revoked, not reuse.
	if _, err := store.RotateRefreshHash(ctx, sess.ID, "hash-1", "hash-2"); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked on rotation, got %v", err)
	}

	ids, _ := store.ActiveIDs(ctx, "acct-1")
	if len(ids) != 0 {
		t.Fatalf("revoked session should leave the index, got %v", ids)
	}
}

func TestRevokeAllForAccount(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	a := testSession("acct-1")
	b := testSession("acct-1")
	other := testSession("acct-2")
	for _, s := range []*Session{a, b, other} {
		if err := store.Save(ctx, s); err != nil {
			t.Fatalf("Save error: %v", err)
		}
	}

	n, err := store.RevokeAllForAccount(ctx, "acct-1", time.Hour)
	if err != nil {
		t.Fatalf("RevokeAllForAccount error: %v", err)
	}
	if n != 2 {
		t.Fatalf("revoked %d sessions, want 2", n)
	}

	for _, id := range []string{a.ID, b.ID} {
		if _, err := store.Get(ctx, id); !errors.Is(err, ErrRevoked) {
			t.Fatalf("session %s: expected ErrRevoked, got %v", id, err)
		}
	}
	if _, err := store.Get(ctx, other.ID); err != nil {
		t.Fatalf("other account's session should survive: %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("acct-1")
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("second Delete error: %v", err)
	}
	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestActiveSessionsSkipsDeadEntries(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	live := testSession("acct-1")
	revoked := testSession("acct-1")
	for _, s := range []*Session{live, revoked} {
		if err := store.Save(ctx, s); err != nil {
			t.Fatalf("Save error: %v", err)
		}
	}
	if err := store.Revoke(ctx, revoked.ID, time.Hour); err != nil {
		t.Fatalf("Revoke error: %v", err)
	}

	sessions, err := store.ActiveSessions(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ActiveSessions error: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != live.ID {
		t.Fatalf("expected only the live session, got %d", len(sessions))
	}

	n, err := store.ActiveCount(ctx, "acct-1")
	if err != nil || n != 1 {
		t.Fatalf("ActiveCount = %d (%v), want 1", n, err)
	}
}

func TestTouchUpdatesLastSeenOnly(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	sess := testSession("acct-1")
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	before := mr.TTL(sessionKeyPrefix + sess.ID)

	later := time.Now().Add(30 * time.Minute)
	store.now = func() time.Time { return later }
	if err := store.Touch(ctx, sess.ID); err != nil {
		t.Fatalf("Touch error: %v", err)
	}
	store.now = time.Now

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.LastSeenAt.Unix() != later.Unix() {
		t.Fatalf("LastSeenAt = %v, want %v", got.LastSeenAt, later)
	}
	if after := mr.TTL(sessionKeyPrefix + sess.ID); after > before {
		t.Fatalf("Touch must not extend the TTL: %v -> %v", before, after)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sess := testSession("acct-1")
	sess.RememberMe = true
	sess.MFACompleted = true
	sess.DeviceFingerprint = "fp-9"

	data, err := Encode(sess)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if got.ID != sess.ID || !got.RememberMe || !got.MFACompleted || got.DeviceFingerprint != "fp-9" {
		t.Fatalf("round trip lost fields: %+v", got)
	}
	if got.ExpiresAt.Unix() != sess.ExpiresAt.Unix() {
		t.Fatalf("expiry drifted: %v vs %v", got.ExpiresAt, sess.ExpiresAt)
	}

	if _, err := Decode([]byte("{not json")); err == nil {
		t.Fatal("expected decode error for corrupt blob")
	}
}
