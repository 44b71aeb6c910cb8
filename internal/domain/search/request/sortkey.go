package request

import (
	"fmt"
	"strings"
)

// CompareValues orders two sort values ascending. Numbers compare
// numerically, everything else by its string form. A nil value sorts after
// any present value.
func CompareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	if fa, ok := ToFloat(a); ok {
		if fb, ok := ToFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// ToFloat converts numeric sort values.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// CompareKeys orders two sort keys aligned with spec; negative means a ranks
// first. Missing values stay last in either direction.
func CompareKeys(spec []SortField, a, b []any) int {
	for i, sf := range spec {
		var av, bv any
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		c := CompareValues(av, bv)
		if c == 0 {
			continue
		}
		if sf.Desc && av != nil && bv != nil {
			c = -c
		}
		return c
	}
	return 0
}
