package authz

import (
	"errors"
	"testing"
)

func testCatalog() Catalog {
	return Catalog{
		"bets":    {"read", "place", "cancel"},
		"wallet":  {"read", "withdraw"},
		"reports": {"read"},
	}
}

func TestParsePermission(t *testing.T) {
	bad := []string{"", "bets", ":read", "bets:", "bets:read:extra", "be ts:read"}
	for _, p := range bad {
		if _, _, err := ParsePermission(p); !errors.Is(err, ErrInvalidPermission) {
			t.Fatalf("ParsePermission(%q): expected ErrInvalidPermission, got %v", p, err)
		}
	}

	d, a, err := ParsePermission("bets:read")
	if err != nil || d != "bets" || a != "read" {
		t.Fatalf("ParsePermission(bets:read) = %q %q %v", d, a, err)
	}
}

func TestCatalogValidate(t *testing.T) {
	c := testCatalog()

	for _, p := range []string{"bets:read", "bets:*", "system:*"} {
		if err := c.Validate(p); err != nil {
			t.Fatalf("Validate(%q) error: %v", p, err)
		}
	}
	for _, p := range []string{"bets:delete", "unknown:read", "unknown:*"} {
		if err := c.Validate(p); err == nil {
			t.Fatalf("Validate(%q) should fail", p)
		}
	}
}

func TestCatalogExpand(t *testing.T) {
	c := testCatalog()

	if got := c.Expand("bets:read"); len(got) != 1 || got[0] != "bets:read" {
		t.Fatalf("concrete permission should pass through, got %v", got)
	}
	if got := c.Expand("bets:*"); len(got) != 3 {
		t.Fatalf("bets:* should expand to 3 permissions, got %v", got)
	}
	if got := c.Expand("system:*"); len(got) != 6 {
		t.Fatalf("system:* should expand to the full catalog (6), got %v", got)
	}
}

func TestSatisfies(t *testing.T) {
	tests := []struct {
		held, required string
		want           bool
	}{
		{"bets:read", "bets:read", true},
		{"bets:*", "bets:place", true},
		{"system:*", "wallet:withdraw", true},
		{"bets:read", "bets:place", false},
		{"bets:*", "wallet:read", false},
	}
	for _, tt := range tests {
		if got := Satisfies(tt.held, tt.required); got != tt.want {
			t.Fatalf("Satisfies(%q, %q) = %v, want %v", tt.held, tt.required, got, tt.want)
		}
	}
}
