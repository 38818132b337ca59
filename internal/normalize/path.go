package normalize

import (
	"strconv"
	"strings"
)

// ResolvePath walks a parsed JSON document along a dot-separated path,
// descending maps by key and lists by numeric index.
//
// The walk is absent at the first failed segment: a missing key, an index
// that is not a number or is out of range, or a scalar reached before the
// path is exhausted.
func ResolvePath(doc any, path string) (any, bool) {
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, false
		}
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return nil, false
			}
			cur = v[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Leaf renders a resolved path value as a string. Containers and nulls are
// absent; only scalar leaves carry a field value.
func Leaf(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
