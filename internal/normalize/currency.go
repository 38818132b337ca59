package normalize

import (
	"strings"

	"golang.org/x/text/currency"
)

// CleanCurrency canonicalizes an extracted currency code ("usd", " NOK ")
// to its ISO 4217 form. Pages that expose a symbol instead of a code are
// absent here: mapping symbols to currencies is a per-domain policy decision
// that does not belong to extraction.
func CleanCurrency(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	unit, err := currency.ParseISO(s)
	if err != nil {
		return "", false
	}
	return unit.String(), true
}
