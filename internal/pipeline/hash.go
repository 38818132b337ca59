package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"pricewatch/internal/extract"
)

// recordHash computes a deterministic SHA-256 hash over an extraction's
// field values. It is the dedupe key for price history: re-extracting an
// unchanged page must not append a new point.
//
// Canonicalization rules:
//   - Fields are concatenated in sorted name order as "name=value" pairs,
//     joined by the ASCII unit separator.
//   - Absent fields are skipped entirely, so "never matched" differs from
//     "matched empty".
//   - Output is a lowercase hex string (length 64).
func recordHash(res *extract.Result) string {
	names := make([]string, 0, len(res.Fields))
	for name, f := range res.Fields {
		if f.Absent() {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(res.Fields[name].Value)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
