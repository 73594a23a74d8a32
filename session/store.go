package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no session exists under the id.
	ErrNotFound = errors.New("session not found")
	// ErrExpired is returned when the session's absolute lifetime has
	// passed.
	ErrExpired = errors.New("session expired")
	// ErrRevoked is returned for tombstoned sessions.
	ErrRevoked = errors.New("session revoked")
	// ErrRefreshMismatch is returned when a rotation presents a hash other
	// than the session's current refresh hash. Callers treat this as token
	// reuse.
	ErrRefreshMismatch = errors.New("refresh token hash mismatch")
	// ErrUnavailable wraps Redis transport failures.
	ErrUnavailable = errors.New("session store unavailable")
)

const (
	sessionKeyPrefix = "sess:"
	accountKeyPrefix = "sess:acct:"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
	rotateStatusRevoked  int64 = 4
)

// Rotation is a compare-and-swap on the stored refresh hash. Expiry,
// tombstone, and hash checks all happen inside the script so two
// concurrent refreshes cannot both win.
var rotateRefreshLua = redis.NewScript(`
local data = redis.call("GET", KEYS[1])
if not data then
  return {0}
end
local sess = cjson.decode(data)
if sess["revoked"] then
  return {4}
end
if tonumber(sess["expires_at"]) <= tonumber(ARGV[3]) then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", ARGV[4] .. sess["account_id"], sess["id"])
  return {1}
end
if sess["refresh_hash"] ~= ARGV[1] then
  return {2}
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", ARGV[4] .. sess["account_id"], sess["id"])
  return {1}
end
sess["refresh_hash"] = ARGV[2]
sess["last_seen_at"] = tonumber(ARGV[3])
local updated = cjson.encode(sess)
redis.call("SET", KEYS[1], updated, "PX", ttl)
return {3, updated}
`)

var revokeLua = redis.NewScript(`
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
local sess = cjson.decode(data)
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  ttl = tonumber(ARGV[2])
end
sess["revoked"] = true
redis.call("SET", KEYS[1], cjson.encode(sess), "PX", ttl)
redis.call("SREM", ARGV[1] .. sess["account_id"], sess["id"])
return 1
`)

var deleteLua = redis.NewScript(`
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
local sess = cjson.decode(data)
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[1] .. sess["account_id"], sess["id"])
return 1
`)

var touchLua = redis.NewScript(`
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  return 0
end
local sess = cjson.decode(data)
sess["last_seen_at"] = tonumber(ARGV[1])
redis.call("SET", KEYS[1], cjson.encode(sess), "PX", ttl)
return 1
`)

// Store is the Redis-backed session store: persistence, expiry, the
// per-account index, revocation tombstones, and atomic refresh-hash
// rotation.
type Store struct {
	redis redis.UniversalClient

	now func() time.Time
}

// NewStore returns a Store on the given Redis client.
func NewStore(client redis.UniversalClient) *Store {
	return &Store{redis: client, now: time.Now}
}

func (s *Store) key(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

func (s *Store) accountKey(accountID string) string {
	return accountKeyPrefix + accountID
}

// Save persists the session with a TTL running to its ExpiresAt and adds
// it to the account index.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return ErrExpired
	}
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.ID), data, ttl)
		pipe.SAdd(ctx, s.accountKey(sess.AccountID), sess.ID)
		pipe.Expire(ctx, s.accountKey(sess.AccountID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get retrieves a session by id. Tombstoned sessions return the session
// alongside ErrRevoked so callers can still attribute the attempt.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if sess.Revoked {
		return sess, ErrRevoked
	}
	if sess.Expired(s.now()) {
		if err := s.Delete(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}
	return sess, nil
}

// Touch refreshes the session's last-seen timestamp without extending its
// lifetime.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	if err := touchLua.Run(ctx, s.redis, []string{s.key(sessionID)}, s.now().Unix()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RotateRefreshHash atomically swaps the session's refresh hash from
// providedHash to nextHash and returns the updated session. A mismatch
// means the presented refresh token is not the latest one issued.
func (s *Store) RotateRefreshHash(ctx context.Context, sessionID, providedHash, nextHash string) (*Session, error) {
	raw, err := rotateRefreshLua.Run(ctx, s.redis,
		[]string{s.key(sessionID)},
		providedHash, nextHash, s.now().Unix(), accountKeyPrefix,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	parts, ok := raw.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotation response", ErrUnavailable)
	}
	code, _ := parts[0].(int64)

	switch code {
	case rotateStatusNotFound:
		return nil, ErrNotFound
	case rotateStatusExpired:
		return nil, ErrExpired
	case rotateStatusRevoked:
		return nil, ErrRevoked
	case rotateStatusMismatch:
		return nil, ErrRefreshMismatch
	case rotateStatusRotated:
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: missing rotated payload", ErrUnavailable)
		}
		blob, _ := parts[1].(string)
		sess, decErr := Decode([]byte(blob))
		if decErr != nil {
			return nil, decErr
		}
		return sess, nil
	default:
		return nil, fmt.Errorf("%w: unknown rotation status %d", ErrUnavailable, code)
	}
}

// Revoke tombstones a session. The record stays until its natural expiry
// (or fallbackTTL when no TTL remains) so later refresh attempts report
// revoked instead of not-found.
func (s *Store) Revoke(ctx context.Context, sessionID string, fallbackTTL time.Duration) error {
	if fallbackTTL <= 0 {
		fallbackTTL = time.Hour
	}
	if err := revokeLua.Run(ctx, s.redis, []string{s.key(sessionID)}, accountKeyPrefix, fallbackTTL.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Delete removes a session and its index entry. Idempotent.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := deleteLua.Run(ctx, s.redis, []string{s.key(sessionID)}, accountKeyPrefix).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RevokeAllForAccount tombstones every active session of an account.
// Returns the number of sessions revoked.
func (s *Store) RevokeAllForAccount(ctx context.Context, accountID string, fallbackTTL time.Duration) (int, error) {
	ids, err := s.ActiveIDs(ctx, accountID)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := s.Revoke(ctx, id, fallbackTTL); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// DeleteAllForAccount removes every session of an account outright.
//
// Not fully atomic: a session created between the index read and the
// delete pipeline survives. It expires on its own TTL; callers that care
// can invoke this twice.
func (s *Store) DeleteAllForAccount(ctx context.Context, accountID string) error {
	ids, err := s.ActiveIDs(ctx, accountID)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}
	keys = append(keys, s.accountKey(accountID))

	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ActiveIDs returns the indexed session ids for an account.
func (s *Store) ActiveIDs(ctx context.Context, accountID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ids, nil
}

// ActiveCount returns the number of indexed sessions for an account.
func (s *Store) ActiveCount(ctx context.Context, accountID string) (int, error) {
	n, err := s.redis.SCard(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(n), nil
}

// ActiveSessions fetches the live sessions of an account, skipping
// entries that expired or were tombstoned since the index was written.
func (s *Store) ActiveSessions(ctx context.Context, accountID string) ([]*Session, error) {
	ids, err := s.ActiveIDs(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := s.now()
	sessions := make([]*Session, 0, len(ids))
	for _, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, cmdErr)
		}
		sess, decErr := Decode(data)
		if decErr != nil {
			return nil, decErr
		}
		if sess.Revoked || sess.Expired(now) {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// Ping reports Redis availability and round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := s.now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}
