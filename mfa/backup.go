package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// DefaultBackupCodeCount is the number of codes issued per generation.
const DefaultBackupCodeCount = 8

const (
	backupGroupLen  = 5
	backupGroups    = 2
	backupSaltBytes = 16

	// No 0/O/1/I: codes are transcribed by hand.
	backupAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"
)

// GenerateBackupCodes returns n cryptographically random one-time codes
// formatted for human transcription (e.g. "7KQ2M-XJ4RD"). The plaintext
// codes are returned to the caller exactly once; only hashes may be
// persisted.
func GenerateBackupCodes(n int) ([]string, error) {
	if n <= 0 {
		n = DefaultBackupCodeCount
	}

	codes := make([]string, 0, n)
	raw := make([]byte, backupGroupLen*backupGroups)
	for i := 0; i < n; i++ {
		if _, err := rand.Read(raw); err != nil {
			return nil, err
		}
		var b strings.Builder
		for j, r := range raw {
			if j > 0 && j%backupGroupLen == 0 {
				b.WriteByte('-')
			}
			b.WriteByte(backupAlphabet[int(r)%len(backupAlphabet)])
		}
		codes = append(codes, b.String())
	}
	return codes, nil
}

// HashBackupCode derives the salted digest persisted for a single code,
// encoded as "<salt-hex>$<sha256-hex>". A fresh salt is drawn per code so
// identical codes across accounts never share a stored hash.
func HashBackupCode(code string) (string, error) {
	normalized := normalizeBackupCode(code)
	if normalized == "" {
		return "", errors.New("empty backup code")
	}

	salt := make([]byte, backupSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(saltedDigest(salt, normalized)), nil
}

// HashBackupCodes hashes every code in codes.
func HashBackupCodes(codes []string) ([]string, error) {
	hashes := make([]string, 0, len(codes))
	for _, code := range codes {
		h, err := HashBackupCode(code)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}

// VerifyBackupCode checks code against the stored hashes in constant time
// per candidate and returns the matched hash so the caller can consume it
// (codes are single-use). Every candidate is evaluated even after a match
// so timing does not reveal the matching position.
func VerifyBackupCode(code string, hashes []string) (bool, string) {
	normalized := normalizeBackupCode(code)
	if normalized == "" {
		return false, ""
	}

	matched := ""
	for _, stored := range hashes {
		saltHex, digestHex, ok := strings.Cut(stored, "$")
		if !ok {
			continue
		}
		salt, err := hex.DecodeString(saltHex)
		if err != nil {
			continue
		}
		want, err := hex.DecodeString(digestHex)
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare(saltedDigest(salt, normalized), want) == 1 && matched == "" {
			matched = stored
		}
	}
	return matched != "", matched
}

func saltedDigest(salt []byte, normalized string) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(normalized))
	return h.Sum(nil)
}

func normalizeBackupCode(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(code)) {
		if r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
