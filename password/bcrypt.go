package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const (
	minCost     = 10
	maxCost     = 16
	defaultCost = 12

	// bcrypt truncates beyond 72 bytes; longer inputs are rejected outright.
	maxPasswordBytes = 72
)

// Config holds bcrypt tuning parameters.
type Config struct {
	Cost int
}

// Hasher hashes and verifies passwords with bcrypt. The salt is generated
// per call and embedded in the encoded hash, so hashing the same password
// twice never yields the same output.
type Hasher struct {
	config Config
}

// NewHasher validates cfg and returns a Hasher. Cost must stay within
// [10, 16]; zero selects the default cost of 12.
func NewHasher(cfg Config) (*Hasher, error) {
	if cfg.Cost == 0 {
		cfg.Cost = defaultCost
	}
	if cfg.Cost < minCost || cfg.Cost > maxCost {
		return nil, errors.New("password cost must be between 10 and 16")
	}
	return &Hasher{config: cfg}, nil
}

// Hash derives a salted bcrypt hash of password at the configured cost.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	if len(password) > maxPasswordBytes {
		return "", errors.New("password exceeds 72 bytes")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.config.Cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether password matches encodedHash. A malformed stored
// hash is treated as a mismatch, never an error: callers on the login path
// must not be able to distinguish corrupt records from wrong passwords.
func (h *Hasher) Verify(password, encodedHash string) bool {
	if password == "" || encodedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password)) == nil
}

// VerifyDummy burns a full verification against a fixed hash. Called on
// lookups that found no account, so the unknown-handle path costs the
// same as a wrong password.
func (h *Hasher) VerifyDummy(password string) {
	bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// A valid bcrypt hash of an unguessable throwaway value.
var dummyHash = []byte("$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW")

// NeedsRehash reports whether encodedHash was produced at a cost factor
// different from the currently configured one. Supports online cost
// migration: rehash on the next successful verification.
func (h *Hasher) NeedsRehash(encodedHash string) bool {
	cost, err := bcrypt.Cost([]byte(encodedHash))
	if err != nil {
		return true
	}
	return cost != h.config.Cost
}
