package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event types recorded by the engine. Security-relevant outcomes only;
// routine reads are not audited.
const (
	TypeLoginSuccess        = "login_success"
	TypeLoginFailed         = "login_failed"
	TypeLoginBlocked        = "login_blocked"
	TypeLockoutTriggered    = "lockout_triggered"
	TypeMFAChallenge        = "mfa_challenge"
	TypeMFASuccess          = "mfa_success"
	TypeMFAFailed           = "mfa_failed"
	TypeMFAEnabled          = "mfa_enabled"
	TypeMFADisabled         = "mfa_disabled"
	TypeBackupCodeUsed      = "backup_code_used"
	TypeTokenRefreshed      = "token_refreshed"
	TypeRefreshReuse        = "refresh_reuse_detected"
	TypeLogout              = "logout"
	TypeLogoutAll           = "logout_all"
	TypePasswordChanged     = "password_changed"
	TypePasswordResetSent   = "password_reset_requested"
	TypePasswordResetDone   = "password_reset_completed"
	TypeEmailVerified       = "email_verified"
	TypeAccountCreated      = "account_created"
	TypeRoleGranted         = "role_granted"
	TypeRoleRevoked         = "role_revoked"
	TypePermissionDenied    = "permission_denied"
	TypeRateLimited         = "rate_limited"
	TypeRateLimitFailedOpen = "rate_limit_failed_open"
)

// Event is the canonical audit record flowing from the engine to sinks.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	AccountID string            `json:"account_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	RiskScore int               `json:"risk_score,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
