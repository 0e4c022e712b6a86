// Package scope implements structural matching of dot-delimited scope
// strings. Scopes are opaque beyond the delimiter: a granted segment
// matches a required segment when they are equal or the granted segment is
// the wildcard token ALL. Segment counts must be equal; there is no
// implicit hierarchy, so "a.b" never implies "a.b.c".
package scope

import "strings"

const (
	// Wildcard is the segment token that matches any required segment in
	// the same position.
	Wildcard = "ALL"

	// MaxLength bounds a single scope string. Longer strings never match.
	MaxLength = 512

	separator = "."
)

// Match reports whether a single granted scope matches a single required
// scope, position by position.
func Match(granted, required string) bool {
	if granted == "" || required == "" {
		return false
	}
	if len(granted) > MaxLength || len(required) > MaxLength {
		return false
	}

	grantedSegs := strings.Split(granted, separator)
	requiredSegs := strings.Split(required, separator)
	if len(grantedSegs) != len(requiredSegs) {
		return false
	}

	for i, g := range grantedSegs {
		if g != Wildcard && g != requiredSegs[i] {
			return false
		}
	}
	return true
}

// Covers reports whether every scope in the space-separated required list
// is matched by at least one scope in the space-separated granted list. An
// empty required list is covered by anything.
func Covers(grantedList, requiredList string) bool {
	required := strings.Fields(requiredList)
	if len(required) == 0 {
		return true
	}
	granted := strings.Fields(grantedList)

	for _, req := range required {
		matched := false
		for _, g := range granted {
			if Match(g, req) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Allowed reports whether every requested scope is present in the client's
// allowed scope list, using structural matching so an allowed "a.ALL"
// permits requesting "a.b". An empty request is always allowed.
func Allowed(requestedList string, allowed []string) bool {
	requested := strings.Fields(requestedList)
	for _, req := range requested {
		found := false
		for _, a := range allowed {
			if Match(a, req) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
