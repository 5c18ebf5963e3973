package selector

import (
	"math"
	"strconv"
	"strings"
)

// Values flowing through the tree are nil (unknown / absent), bool, int64,
// float64 or string. Normalize maps anything else onto that set.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil, bool, int64, float64, string:
		return v
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return normalizeUint(uint64(t))
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return normalizeUint(t)
	case float32:
		return float64(t)
	case []byte:
		return string(t)
	default:
		return nil
	}
}

func normalizeUint(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

// numeric returns v as a number, coercing numeric strings.
func numeric(v any) (any, bool) {
	switch t := v.(type) {
	case int64, float64:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return nil, false
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case float64:
		return t
	}
	return math.NaN()
}

// compareNumbers returns -1, 0, 1; ok is false when either side is NaN.
func compareNumbers(a, b any) (int, bool) {
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt {
		switch {
		case ai < bi:
			return -1, true
		case ai > bi:
			return 1, true
		}
		return 0, true
	}
	af, bf := toFloat(a), toFloat(b)
	if math.IsNaN(af) || math.IsNaN(bf) {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	}
	return 0, true
}

// compareValues orders two non-nil values. ok is false when they are not comparable.
func compareValues(a, b any) (int, bool) {
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs), true
		}
	}
	an, aok := numeric(a)
	bn, bok := numeric(b)
	if aok && bok {
		return compareNumbers(an, bn)
	}
	return 0, false
}

// equalValues reports a = b for non-nil values.
func equalValues(a, b any) bool {
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ab == bb
	}
	if _, ok := b.(bool); ok {
		return false
	}
	c, ok := compareValues(a, b)
	return ok && c == 0
}

// truth maps a value onto three-valued logic: nil means unknown.
func truth(v any) (val bool, known bool) {
	b, ok := v.(bool)
	return b, ok
}

// textOf renders a value the way LIKE and IN see it.
func textOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	}
	return ""
}

// literalString is the canonical source form of a literal value.
func literalString(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		s := strconv.FormatFloat(t, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEIN") {
			s += ".0"
		}
		return s
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	}
	return "?"
}
