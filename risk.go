package authcore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RiskBand classifies a login risk score.
type RiskBand string

const (
	RiskLow      RiskBand = "low"      // 0-24
	RiskMedium   RiskBand = "medium"   // 25-49
	RiskHigh     RiskBand = "high"     // 50-74: MFA forced
	RiskCritical RiskBand = "critical" // 75-100: refused
)

// BandFor maps a score to its band.
func BandFor(score int) RiskBand {
	switch {
	case score < 25:
		return RiskLow
	case score < 50:
		return RiskMedium
	case score < 75:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// Score weights. Capped so no single benign signal can refuse a login
// on its own.
const (
	riskPerFailedAttempt  = 10
	riskFailedAttemptsCap = 30
	riskOriginChanged     = 25
	riskUnknownDevice     = 20
	riskAutomationUA      = 25
)

// Substrings marking non-browser clients. Matched case-insensitively.
var automationUASignatures = []string{
	"curl", "wget", "python-requests", "httpie", "go-http-client",
	"bot", "spider", "headless", "phantomjs",
}

const lastLoginKeyPrefix = "last:login:"
const lastLoginTTL = 90 * 24 * time.Hour

// lastLogin is the engine-kept origin record of the latest successful
// login, used as the baseline for origin-change scoring.
type lastLogin struct {
	IP          string `json:"ip"`
	Fingerprint string `json:"fp,omitempty"`
	UserAgent   string `json:"ua,omitempty"`
	At          int64  `json:"at"`
}

// scoreRisk computes the attempt's risk score from the account's failure
// history and the request origin versus the last successful login.
// A missing baseline (first login, expired record, Redis error) scores
// only the request-local signals.
func (e *Engine) scoreRisk(ctx context.Context, acct *Account, ip, userAgent, fingerprint string) int {
	score := acct.FailedAttempts * riskPerFailedAttempt
	if score > riskFailedAttemptsCap {
		score = riskFailedAttemptsCap
	}

	if isAutomationUA(userAgent) {
		score += riskAutomationUA
	}

	prev, err := e.lastLogin(ctx, acct.ID)
	if err == nil && prev != nil {
		if prev.IP != "" && ip != "" && prev.IP != ip {
			score += riskOriginChanged
		}
		if prev.Fingerprint != "" && fingerprint != "" && prev.Fingerprint != fingerprint {
			score += riskUnknownDevice
		}
	}

	if score > 100 {
		score = 100
	}
	return score
}

func isAutomationUA(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	ua := strings.ToLower(userAgent)
	for _, sig := range automationUASignatures {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	return false
}

func (e *Engine) lastLogin(ctx context.Context, accountID string) (*lastLogin, error) {
	data, err := e.redis.Get(ctx, lastLoginKeyPrefix+accountID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var rec lastLogin
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

const deviceTrustKeyPrefix = "trust:device:"

// Fingerprints are opaque host-supplied strings; they are hashed before
// becoming part of a Redis key.
func deviceTrustKey(accountID, fingerprint string) string {
	sum := sha256.Sum256([]byte(fingerprint))
	return deviceTrustKeyPrefix + accountID + ":" + hex.EncodeToString(sum[:])
}

// deviceTrusted reports whether the fingerprint was remembered by an
// earlier VerifyMFA. Redis errors read as untrusted.
func (e *Engine) deviceTrusted(ctx context.Context, accountID, fingerprint string) bool {
	if fingerprint == "" || e.cfg.MFA.DeviceTrustTTL <= 0 {
		return false
	}
	n, err := e.redis.Exists(ctx, deviceTrustKey(accountID, fingerprint)).Result()
	if err != nil {
		e.warnf("device trust lookup for %s: %v", accountID, err)
		return false
	}
	return n > 0
}

// trustDevice is best-effort: losing the mark only costs an extra
// challenge on the next login.
func (e *Engine) trustDevice(ctx context.Context, accountID, fingerprint string) {
	if fingerprint == "" || e.cfg.MFA.DeviceTrustTTL <= 0 {
		return
	}
	if err := e.redis.Set(ctx, deviceTrustKey(accountID, fingerprint), "1", e.cfg.MFA.DeviceTrustTTL).Err(); err != nil {
		e.warnf("device trust write for %s: %v", accountID, err)
	}
}

// recordLastLogin is best-effort: a failure here must not fail the
// login.
func (e *Engine) recordLastLogin(ctx context.Context, accountID, ip, userAgent, fingerprint string) {
	data, err := json.Marshal(lastLogin{
		IP:          ip,
		Fingerprint: fingerprint,
		UserAgent:   userAgent,
		At:          e.now().Unix(),
	})
	if err != nil {
		return
	}
	if err := e.redis.Set(ctx, lastLoginKeyPrefix+accountID, data, lastLoginTTL).Err(); err != nil {
		e.warnf("last-login record write failed: %v", err)
	}
}
