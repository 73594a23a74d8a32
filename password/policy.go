package password

import (
	"fmt"
	"strings"
	"unicode"
)

// PolicyConfig tunes the strength policy. Zero values select defaults.
type PolicyConfig struct {
	MinLength      int
	WeakSubstrings []string
}

var defaultWeakSubstrings = []string{
	"password", "passwort", "qwerty", "letmein", "welcome",
	"123456", "abcdef", "iloveyou", "admin", "monkey", "dragon",
}

// Policy enforces the password strength rules and computes the UX
// strength score. The score is advisory only; access decisions use
// Validate exclusively.
type Policy struct {
	config PolicyConfig
}

// NewPolicy returns a Policy with defaults applied (minimum length 12,
// built-in weak substring list).
func NewPolicy(cfg PolicyConfig) *Policy {
	if cfg.MinLength <= 0 {
		cfg.MinLength = 12
	}
	if cfg.WeakSubstrings == nil {
		cfg.WeakSubstrings = defaultWeakSubstrings
	}
	return &Policy{config: cfg}
}

// Validate checks password against the policy. Violations come back as a
// list of human-readable reasons so callers can surface specifics; an
// empty list means the password is acceptable.
func (p *Policy) Validate(password, username string) (bool, []string) {
	var violations []string

	if len(password) < p.config.MinLength {
		violations = append(violations, fmt.Sprintf("must be at least %d characters long", p.config.MinLength))
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}
	if !hasUpper {
		violations = append(violations, "must contain an uppercase letter")
	}
	if !hasLower {
		violations = append(violations, "must contain a lowercase letter")
	}
	if !hasDigit {
		violations = append(violations, "must contain a digit")
	}
	if !hasSpecial {
		violations = append(violations, "must contain a special character")
	}

	lowered := strings.ToLower(password)
	for _, weak := range p.config.WeakSubstrings {
		if strings.Contains(lowered, weak) {
			violations = append(violations, fmt.Sprintf("must not contain the common pattern %q", weak))
			break
		}
	}

	if username != "" && strings.Contains(lowered, strings.ToLower(username)) {
		violations = append(violations, "must not contain the username")
	}

	return len(violations) == 0, violations
}

// Score rates password strength on a 0-100 scale from length, character
// class diversity, and unique character count, with a penalty for weak
// patterns. Intended for UX feedback only.
func (p *Policy) Score(password string) int {
	if password == "" {
		return 0
	}

	score := len(password) * 4
	if score > 40 {
		score = 40
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	unique := make(map[rune]struct{}, len(password))
	for _, r := range password {
		unique[r] = struct{}{}
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	classes := 0
	for _, present := range []bool{hasUpper, hasLower, hasDigit, hasSpecial} {
		if present {
			classes++
		}
	}
	score += classes * 10

	uniqueScore := len(unique) * 2
	if uniqueScore > 20 {
		uniqueScore = 20
	}
	score += uniqueScore

	lowered := strings.ToLower(password)
	for _, weak := range p.config.WeakSubstrings {
		if strings.Contains(lowered, weak) {
			score -= 30
			break
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
