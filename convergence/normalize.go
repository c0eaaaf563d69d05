package convergence

import (
	"math"
	"strings"
	"unicode"

	"github.com/spf13/cast"
)

// Normalize converts v to a float64.
//
// The second result is false when the value is absent: nil, an empty or
// unparseable string, a non-numeric type, NaN, or an infinity. Strings may use
// a comma or a dot as decimal separator, may carry a thousands separator of
// the other kind, and may end in a unit suffix such as "%" or "kg".
func Normalize(v any) (f float64, ok bool) {
	defer func() {
		if recover() != nil {
			f, ok = 0, false
		}
	}()

	switch t := v.(type) {
	case nil:
		return 0, false
	case bool:
		return 0, false
	case string:
		return parseString(t)
	case []byte:
		return parseString(string(t))
	case *float64:
		if t == nil {
			return 0, false
		}
		return finite(*t)
	}

	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return finite(f)
}

func parseString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return !unicode.IsDigit(r) && r != '.' && r != ','
	})
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	s = canonicalDecimal(s)

	f, err := cast.ToFloat64E(s)
	if err != nil {
		return 0, false
	}
	return finite(f)
}

// canonicalDecimal rewrites s so that the decimal separator is a dot and
// thousands separators are removed. When both separators occur the last one
// is the decimal separator.
func canonicalDecimal(s string) string {
	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')

	switch {
	case lastComma < 0:
		return s
	case lastDot < 0:
		if strings.Count(s, ",") > 1 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case lastComma > lastDot:
		s = strings.ReplaceAll(s, ".", "")
		return strings.Replace(s, ",", ".", 1)
	default:
		return strings.ReplaceAll(s, ",", "")
	}
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
