package authz

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// SystemDomain is the privileged domain: system:* grants every
// permission in the catalog.
const SystemDomain = "system"

// Wildcard is the action that expands to every action of a domain.
const Wildcard = "*"

// ErrInvalidPermission is returned for strings that are not
// domain:action.
var ErrInvalidPermission = errors.New("invalid permission")

// ParsePermission splits domain:action and validates both halves.
func ParsePermission(perm string) (domain, action string, err error) {
	i := strings.IndexByte(perm, ':')
	if i <= 0 || i == len(perm)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPermission, perm)
	}
	domain, action = perm[:i], perm[i+1:]
	if strings.ContainsAny(domain, ": \t") || strings.ContainsAny(action, ": \t") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPermission, perm)
	}
	return domain, action, nil
}

// Catalog enumerates the concrete actions of every domain. Wildcards
// expand against it, so an unknown domain cannot be granted by
// accident.
type Catalog map[string][]string

// Validate checks a permission against the catalog. Wildcard actions
// are valid for any cataloged domain; system:* is always valid.
func (c Catalog) Validate(perm string) error {
	domain, action, err := ParsePermission(perm)
	if err != nil {
		return err
	}
	if domain == SystemDomain && action == Wildcard {
		return nil
	}
	actions, ok := c[domain]
	if !ok {
		return fmt.Errorf("%w: unknown domain %q", ErrInvalidPermission, domain)
	}
	if action == Wildcard {
		return nil
	}
	for _, a := range actions {
		if a == action {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown action %q in domain %q", ErrInvalidPermission, action, domain)
}

// Expand resolves a permission to the concrete permissions it grants.
// Concrete permissions pass through unchanged; domain:* expands to the
// domain's catalog entries; system:* expands to the entire catalog.
func (c Catalog) Expand(perm string) []string {
	domain, action, err := ParsePermission(perm)
	if err != nil {
		return nil
	}
	if action != Wildcard {
		return []string{perm}
	}
	if domain == SystemDomain {
		out := make([]string, 0, len(c)*4)
		for d, actions := range c {
			for _, a := range actions {
				out = append(out, d+":"+a)
			}
		}
		sort.Strings(out)
		return out
	}
	actions := c[domain]
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, domain+":"+a)
	}
	return out
}

// Satisfies reports whether the held permission covers the required
// one, honoring domain and system wildcards.
func Satisfies(held, required string) bool {
	if held == required {
		return true
	}
	hd, ha, err := ParsePermission(held)
	if err != nil {
		return false
	}
	rd, _, err := ParsePermission(required)
	if err != nil {
		return false
	}
	if hd == SystemDomain && ha == Wildcard {
		return true
	}
	return ha == Wildcard && hd == rd
}
