// Package normalize canonicalizes raw extracted strings: locale-ambiguous
// price text into fixed-precision decimal amounts, free-form text into
// trimmed single-spaced text, and dotted paths into values inside embedded
// structured-data documents.
//
// Every function in this package is total: invalid input yields an "absent"
// result (ok=false), never a panic or an error value. Extraction runs against
// arbitrary third-party markup, so a malformed page must degrade to a missing
// field, not a fault.
package normalize

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Prices outside (0, 1e9) are treated as page corruption rather than data.
var (
	maxPrice = decimal.New(1, 9) // 1,000,000,000
)

// currencyToken matches the currency markers stripped from price text before
// numeric parsing. Case-insensitive so "KR"/"Kr" behave like "kr". Stripping
// goes through the regexp engine rather than byte indexes: case mapping can
// change a rune's UTF-8 width, so offsets computed on a lowered copy do not
// transfer back to the original string.
var currencyToken = regexp.MustCompile(`(?i)kr|[$€£]`)

var numericToken = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// CleanPrice parses free-form price text into a decimal amount.
//
// Separator disambiguation:
//   - If both "," and "." occur, whichever occurs last is the decimal
//     separator; all occurrences of the other are thousands separators and
//     are removed.
//   - If only "," occurs, it is a decimal separator only when exactly two
//     digits follow it; otherwise it is a thousands separator and removed.
//
// Cleaning an already-canonical numeric string returns the same value.
func CleanPrice(raw string) (decimal.Decimal, bool) {
	s := currencyToken.ReplaceAllString(raw, "")

	// Collapse all whitespace, including NBSP digit grouping ("1 990").
	s = strings.Join(strings.FieldsFunc(s, isSpaceLike), "")

	// Nordic price listings write whole amounts as "1990,-".
	s = strings.TrimSuffix(s, ",-")

	s = resolveSeparators(s)

	tok := numericToken.FindString(s)
	if tok == "" {
		return decimal.Decimal{}, false
	}

	d, err := decimal.NewFromString(tok)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if d.Sign() <= 0 || d.Cmp(maxPrice) >= 0 {
		return decimal.Decimal{}, false
	}
	return d, true
}

// CleanPriceString is CleanPrice rendered to the canonical two-decimal form
// stored on extracted fields (e.g. "1990.00").
func CleanPriceString(raw string) (string, bool) {
	d, ok := CleanPrice(raw)
	if !ok {
		return "", false
	}
	return d.StringFixed(2), true
}

func isSpaceLike(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', ' ', ' ':
		return true
	}
	return false
}

// resolveSeparators rewrites s so that "." is the only decimal separator and
// thousands separators are gone.
func resolveSeparators(s string) string {
	lastComma := strings.LastIndexByte(s, ',')
	lastDot := strings.LastIndexByte(s, '.')

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			// "1.990,50": dots group thousands, last comma is decimal.
			s = strings.ReplaceAll(s, ".", "")
			return replaceLastComma(s)
		}
		// "1,990.50": commas group thousands.
		return strings.ReplaceAll(s, ",", "")

	case lastComma >= 0:
		// A lone comma is a decimal separator only in the "12,34" shape.
		if strings.Count(s, ",") == 1 && exactlyTwoTrailingDigits(s[lastComma+1:]) {
			return replaceLastComma(s)
		}
		return strings.ReplaceAll(s, ",", "")

	default:
		return s
	}
}

// replaceLastComma removes every comma except the last, which becomes ".".
func replaceLastComma(s string) string {
	last := strings.LastIndexByte(s, ',')
	head := strings.ReplaceAll(s[:last], ",", "")
	return head + "." + s[last+1:]
}

// exactlyTwoTrailingDigits reports whether rest starts with exactly two
// digits followed by a non-digit or end of string.
func exactlyTwoTrailingDigits(rest string) bool {
	n := 0
	for _, r := range rest {
		if r < '0' || r > '9' {
			break
		}
		n++
	}
	return n == 2
}
