package mfa

import (
	"strings"
	"testing"
	"time"
)

func testTOTP() *TOTP {
	return NewTOTP(TOTPConfig{Issuer: "authcore-test"})
}

func TestGenerateSecretIsBase32(t *testing.T) {
	totp := testTOTP()

	secret, err := totp.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret error: %v", err)
	}
	if len(secret) != 32 {
		t.Fatalf("expected 32 base32 chars for a 20-byte secret, got %d", len(secret))
	}
	if strings.Contains(secret, "=") {
		t.Fatal("expected unpadded base32")
	}

	other, err := totp.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret error: %v", err)
	}
	if secret == other {
		t.Fatal("expected distinct secrets")
	}
}

func TestProvisionURI(t *testing.T) {
	totp := testTOTP()

	uri := totp.ProvisionURI("JBSWY3DPEHPK3PXP", "alice")
	if !strings.HasPrefix(uri, "otpauth://totp/authcore-test:alice?") {
		t.Fatalf("unexpected uri: %s", uri)
	}
	for _, want := range []string{"secret=JBSWY3DPEHPK3PXP", "issuer=authcore-test", "digits=6", "period=30", "algorithm=SHA1"} {
		if !strings.Contains(uri, want) {
			t.Fatalf("expected uri to contain %q, got %s", want, uri)
		}
	}
}

func TestVerifyAcceptsAdjacentSteps(t *testing.T) {
	totp := testTOTP()
	secret, err := totp.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret error: %v", err)
	}

	now := time.Unix(1_700_000_000, 0)
	for _, offset := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		code, err := totp.CodeAt(secret, now.Add(offset))
		if err != nil {
			t.Fatalf("CodeAt error: %v", err)
		}
		ok, _, err := totp.Verify(secret, code, now)
		if err != nil {
			t.Fatalf("Verify error: %v", err)
		}
		if !ok {
			t.Fatalf("expected code at offset %v to verify", offset)
		}
	}

	stale, err := totp.CodeAt(secret, now.Add(-2*30*time.Second))
	if err != nil {
		t.Fatalf("CodeAt error: %v", err)
	}
	currentCode, _ := totp.CodeAt(secret, now)
	if stale != currentCode {
		if ok, _, _ := totp.Verify(secret, stale, now); ok {
			t.Fatal("expected code two steps back to be rejected")
		}
	}
}

func TestVerifyRejectsMalformedCodes(t *testing.T) {
	totp := testTOTP()
	secret, err := totp.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret error: %v", err)
	}

	for _, code := range []string{"", "12345", "1234567", "abcdef", "12 456"} {
		ok, _, err := totp.Verify(secret, code, time.Now())
		if err != nil {
			t.Fatalf("Verify error for %q: %v", code, err)
		}
		if ok {
			t.Fatalf("expected malformed code %q to be rejected", code)
		}
	}
}

func TestVerifyReturnsCounterForReplayDetection(t *testing.T) {
	totp := testTOTP()
	secret, err := totp.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret error: %v", err)
	}

	now := time.Unix(1_700_000_000, 0)
	code, err := totp.CodeAt(secret, now)
	if err != nil {
		t.Fatalf("CodeAt error: %v", err)
	}
	ok, counter, err := totp.Verify(secret, code, now)
	if err != nil || !ok {
		t.Fatalf("expected verification, ok=%v err=%v", ok, err)
	}
	if counter != now.Unix()/30 {
		t.Fatalf("expected counter %d, got %d", now.Unix()/30, counter)
	}
}

func TestVerifyInvalidSecret(t *testing.T) {
	totp := testTOTP()
	if _, _, err := totp.Verify("not!base32", "123456", time.Now()); err == nil {
		t.Fatal("expected error for invalid secret")
	}
}
