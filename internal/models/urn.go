package models

import (
	"fmt"
	"strings"
)

// Wildcard is the `_` token that matches any value in a URN component,
// usable in any position for filter queries.
const Wildcard = "_"

const urnScheme = "subcog://"

// URN is a parsed subcog://{domain}/{namespace}/{id} identifier.
// Empty or Wildcard fields mean "any value" and are only legal for filters.
type URN struct {
	Domain    string
	Namespace string
	MemoryID  string
}

// String renders the canonical form, substituting "_" for empty components.
func (u *URN) String() string {
	domain := u.Domain
	if domain == "" {
		domain = Wildcard
	}
	ns := u.Namespace
	if ns == "" {
		ns = Wildcard
	}
	id := u.MemoryID
	if id == "" {
		id = Wildcard
	}
	return fmt.Sprintf("%s%s/%s/%s", urnScheme, domain, ns, id)
}

// IsWildcardDomain reports whether the domain component is the wildcard.
func (u *URN) IsWildcardDomain() bool { return u.Domain == "" || u.Domain == Wildcard }

// IsWildcardNamespace reports whether the namespace component is the wildcard.
func (u *URN) IsWildcardNamespace() bool { return u.Namespace == "" || u.Namespace == Wildcard }

// IsSpecific reports whether this URN names one concrete memory.
func (u *URN) IsSpecific() bool {
	return u.MemoryID != "" && u.MemoryID != Wildcard
}

// IsFilter reports whether this URN is a filter pattern rather than a specific lookup.
func (u *URN) IsFilter() bool {
	return !u.IsSpecific() || u.IsWildcardDomain() || u.IsWildcardNamespace()
}

// ParseURN parses a subcog:// URN. "_" in any position is a wildcard.
func ParseURN(s string) (*URN, error) {
	rest, ok := strings.CutPrefix(s, urnScheme)
	if !ok {
		return nil, fmt.Errorf("URN must start with %q: %s", urnScheme, s)
	}
	parts := strings.Split(rest, "/")
	if len(parts) == 0 || len(parts) > 3 {
		return nil, fmt.Errorf("URN must have 1-3 path components (domain/namespace/id): %s", s)
	}

	u := &URN{}
	u.Domain = normalizeComponent(parts[0])
	if len(parts) > 1 {
		u.Namespace = normalizeComponent(parts[1])
	}
	if len(parts) > 2 {
		id := parts[2]
		if id != "" && id != Wildcard {
			u.MemoryID = id
		}
	}
	return u, nil
}

func normalizeComponent(s string) string {
	if s == "" || s == Wildcard {
		return ""
	}
	return s
}

// TryParseURN parses s only if it looks like a URN, returning (nil, false) otherwise.
func TryParseURN(s string) (*URN, bool) {
	if !strings.HasPrefix(s, urnScheme) {
		return nil, false
	}
	u, err := ParseURN(s)
	if err != nil {
		return nil, false
	}
	return u, true
}

// ExtractMemoryID returns the trailing id segment of s if it is a URN, or s
// unchanged if it is already a raw id.
func ExtractMemoryID(s string) string {
	if !strings.HasPrefix(s, urnScheme) {
		return s
	}
	idx := strings.LastIndex(s, "/")
	if idx < 0 {
		return s
	}
	id := s[idx+1:]
	if id == "" || id == Wildcard {
		return s
	}
	return id
}

// ExtractMemoryIDOwned returns (id, true) when s is a URN naming a specific
// memory, (s, true) when s is a raw id, or ("", false) when s is a URN filter
// with no concrete memory id.
func ExtractMemoryIDOwned(s string) (string, bool) {
	if !strings.HasPrefix(s, urnScheme) {
		return s, true
	}
	u, err := ParseURN(s)
	if err != nil || !u.IsSpecific() {
		return "", false
	}
	return u.MemoryID, true
}
