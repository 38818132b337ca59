package storage

import "strings"

// NormalizeDomain converts a domain or product URL to the canonical key
// patterns are stored under: lowercase host with scheme, credentials, "www."
// prefix, port, path, and query removed.
//
// Backends must not assume callers pre-normalized; every lookup and every
// stats update goes through this helper so "https://WWW.Example.com/p/1" and
// "example.com" address the same pattern.
func NormalizeDomain(v string) string {
	s := strings.TrimSpace(strings.ToLower(v))

	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "www.")

	return s
}
