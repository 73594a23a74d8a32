package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps Redis transport failures. Authorization fails
// closed on it.
var ErrUnavailable = errors.New("authorization store unavailable")

const (
	assignKeyPrefix = "authz:assign:"
	roleKeyPrefix   = "authz:role:"
)

// Assignment records that an account holds a role, in effect between
// NotBefore and ExpiresAt (scheduled grants, temporary elevation).
type Assignment struct {
	Role      string    `json:"role"`
	GrantedAt time.Time `json:"granted_at"`
	GrantedBy string    `json:"granted_by,omitempty"`
	// NotBefore zero means the grant is effective immediately.
	NotBefore time.Time `json:"not_before,omitempty"`
	// ExpiresAt zero means the grant does not lapse.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Active reports whether the assignment is in effect at now.
func (a Assignment) Active(now time.Time) bool {
	if !a.NotBefore.IsZero() && now.Before(a.NotBefore) {
		return false
	}
	return a.ExpiresAt.IsZero() || now.Before(a.ExpiresAt)
}

// Lapsed reports whether the assignment's window has closed for good.
// A grant that merely has not started yet is not lapsed.
func (a Assignment) Lapsed(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && !now.Before(a.ExpiresAt)
}

// AssignmentStore persists role grants in Redis: a hash per account
// plus a reverse index per role for in-use checks.
type AssignmentStore struct {
	redis redis.UniversalClient

	now func() time.Time
}

// NewAssignmentStore returns an AssignmentStore on the given client.
func NewAssignmentStore(client redis.UniversalClient) *AssignmentStore {
	return &AssignmentStore{redis: client, now: time.Now}
}

func (s *AssignmentStore) accountKey(accountID string) string {
	return assignKeyPrefix + accountID
}

func (s *AssignmentStore) roleKey(role string) string {
	return roleKeyPrefix + role
}

// Grant records the assignment. Re-granting an existing role replaces
// the previous grant, including its expiry.
func (s *AssignmentStore) Grant(ctx context.Context, accountID string, a Assignment) error {
	if a.GrantedAt.IsZero() {
		a.GrantedAt = s.now()
	}
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.accountKey(accountID), a.Role, data)
		pipe.SAdd(ctx, s.roleKey(a.Role), accountID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Revoke removes the role from the account. Idempotent.
func (s *AssignmentStore) Revoke(ctx context.Context, accountID, role string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.accountKey(accountID), role)
		pipe.SRem(ctx, s.roleKey(role), accountID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// List returns the account's active assignments. Lapsed grants are
// pruned as they are encountered.
func (s *AssignmentStore) List(ctx context.Context, accountID string) ([]Assignment, error) {
	raw, err := s.redis.HGetAll(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := s.now()
	active := make([]Assignment, 0, len(raw))
	for role, blob := range raw {
		var a Assignment
		if err := json.Unmarshal([]byte(blob), &a); err != nil {
			return nil, fmt.Errorf("corrupt assignment for %s/%s: %v", accountID, role, err)
		}
		if a.Lapsed(now) {
			if err := s.Revoke(ctx, accountID, role); err != nil {
				return nil, err
			}
			continue
		}
		// Scheduled grants stay stored but are not yet in effect.
		if !a.Active(now) {
			continue
		}
		active = append(active, a)
	}
	return active, nil
}

// HolderCount returns how many accounts are indexed under the role.
// Lapsed grants still count until a List prunes them.
func (s *AssignmentStore) HolderCount(ctx context.Context, role string) (int, error) {
	n, err := s.redis.SCard(ctx, s.roleKey(role)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(n), nil
}

// Clear removes every assignment of an account.
func (s *AssignmentStore) Clear(ctx context.Context, accountID string) error {
	roles, err := s.redis.HKeys(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, role := range roles {
			pipe.SRem(ctx, s.roleKey(role), accountID)
		}
		pipe.Del(ctx, s.accountKey(accountID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
