package session

import (
	"encoding/json"
	"time"
)

// Session is the server-side login record. Access tokens reference it by
// id; refresh works only against the hash of the latest refresh token
// stored here, which is what makes rotation reuse detectable.
type Session struct {
	ID        string
	AccountID string

	// RefreshTokenHash is the hex SHA-256 of the currently valid refresh
	// token. Raw tokens are never stored.
	RefreshTokenHash string

	ClientIP          string
	UserAgent         string
	DeviceFingerprint string

	RememberMe   bool
	MFACompleted bool

	// Revoked sessions are kept as tombstones until their natural expiry
	// so a replayed refresh token is reported as revoked, not unknown.
	Revoked bool

	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the session's absolute lifetime has passed.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// record is the Redis wire form. Timestamps are unix seconds so the
// rotation script can compare and rewrite them without a date parser.
type record struct {
	ID                string `json:"id"`
	AccountID         string `json:"account_id"`
	RefreshTokenHash  string `json:"refresh_hash"`
	ClientIP          string `json:"client_ip"`
	UserAgent         string `json:"user_agent"`
	DeviceFingerprint string `json:"device_fp"`
	RememberMe        bool   `json:"remember_me"`
	MFACompleted      bool   `json:"mfa_completed"`
	Revoked           bool   `json:"revoked"`
	CreatedAt         int64  `json:"created_at"`
	LastSeenAt        int64  `json:"last_seen_at"`
	ExpiresAt         int64  `json:"expires_at"`
}

// Encode serializes a session for storage.
func Encode(s *Session) ([]byte, error) {
	return json.Marshal(record{
		ID:                s.ID,
		AccountID:         s.AccountID,
		RefreshTokenHash:  s.RefreshTokenHash,
		ClientIP:          s.ClientIP,
		UserAgent:         s.UserAgent,
		DeviceFingerprint: s.DeviceFingerprint,
		RememberMe:        s.RememberMe,
		MFACompleted:      s.MFACompleted,
		Revoked:           s.Revoked,
		CreatedAt:         s.CreatedAt.Unix(),
		LastSeenAt:        s.LastSeenAt.Unix(),
		ExpiresAt:         s.ExpiresAt.Unix(),
	})
}

// Decode parses a stored session blob.
func Decode(data []byte) (*Session, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &Session{
		ID:                r.ID,
		AccountID:         r.AccountID,
		RefreshTokenHash:  r.RefreshTokenHash,
		ClientIP:          r.ClientIP,
		UserAgent:         r.UserAgent,
		DeviceFingerprint: r.DeviceFingerprint,
		RememberMe:        r.RememberMe,
		MFACompleted:      r.MFACompleted,
		Revoked:           r.Revoked,
		CreatedAt:         time.Unix(r.CreatedAt, 0),
		LastSeenAt:        time.Unix(r.LastSeenAt, 0),
		ExpiresAt:         time.Unix(r.ExpiresAt, 0),
	}, nil
}
