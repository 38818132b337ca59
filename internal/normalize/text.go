package normalize

import "strings"

// CleanText trims text and collapses any run of whitespace to a single
// space. An empty result is absent.
func CleanText(raw string) (string, bool) {
	s := strings.Join(strings.Fields(raw), " ")
	if s == "" {
		return "", false
	}
	return s, true
}
