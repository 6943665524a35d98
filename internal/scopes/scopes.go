// Package scopes compares granted and required OAuth scope sets to decide
// whether the user must re-consent.
package scopes

import "strings"

// Normalize returns the scope list with duplicates and empty entries removed.
// Order of first occurrence is preserved.
func Normalize(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// NeedsReauth reports whether re-consent is required: true iff a token exists
// and any required scope is absent from the granted set.
//
// The comparison is intersection-size against the required cardinality, so
// granted scopes beyond the required set never trigger reauthentication.
func NeedsReauth(granted, required []string, hasToken bool) bool {
	if !hasToken {
		return false
	}

	req := Normalize(required)
	if len(req) == 0 {
		return false
	}

	grantedSet := make(map[string]struct{}, len(granted))
	for _, s := range Normalize(granted) {
		grantedSet[s] = struct{}{}
	}

	satisfied := 0
	for _, s := range req {
		if _, ok := grantedSet[s]; ok {
			satisfied++
		}
	}

	return satisfied < len(req)
}

// Intersect returns the normalized scopes present in both lists, in the
// order they appear in b.
func Intersect(a, b []string) []string {
	inA := make(map[string]struct{})
	for _, s := range Normalize(a) {
		inA[s] = struct{}{}
	}
	var out []string
	for _, s := range Normalize(b) {
		if _, ok := inA[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Join renders a scope list as the space-separated wire form.
func Join(list []string) string {
	return strings.Join(Normalize(list), " ")
}

// Split parses the space-separated wire form into a scope list.
func Split(s string) []string {
	return Normalize(strings.Fields(s))
}
