package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxConditionsPerGroup is the maximum number of conditions per filter group.
const MaxConditionsPerGroup = 32

// MatchAll is the query string matching every document.
const MatchAll = "*:*"

// Expression is a structured filter with must/must_not boolean semantics.
type Expression struct {
	must    []Condition
	mustNot []Condition
}

// NewExpression validates and creates a filter Expression.
func NewExpression(must, mustNot []Condition) (Expression, error) {
	if len(must) > MaxConditionsPerGroup {
		return Expression{}, fmt.Errorf("too many must conditions (max %d)", MaxConditionsPerGroup)
	}
	if len(mustNot) > MaxConditionsPerGroup {
		return Expression{}, fmt.Errorf("too many must_not conditions (max %d)", MaxConditionsPerGroup)
	}
	return Expression{must: must, mustNot: mustNot}, nil
}

// Must returns the must conditions.
func (e Expression) Must() []Condition { return e.must }

// MustNot returns the must-not conditions.
func (e Expression) MustNot() []Condition { return e.mustNot }

// IsEmpty reports whether the expression has no conditions.
func (e Expression) IsEmpty() bool {
	return len(e.must) == 0 && len(e.mustNot) == 0
}

// And merges two expressions.
func (e Expression) And(o Expression) (Expression, error) {
	return NewExpression(append(append([]Condition{}, e.must...), o.must...),
		append(append([]Condition{}, e.mustNot...), o.mustNot...))
}

// Condition is a single filter clause: a term match, a numeric range, an
// existence check or match-all.
type Condition struct {
	key       string
	match     string
	rangeExpr *Range
	exists    bool
	all       bool
}

// NewMatch creates an exact term match condition.
func NewMatch(key, match string) (Condition, error) {
	if key == "" {
		return Condition{}, fmt.Errorf("filter key is required")
	}
	if match == "" {
		return Condition{}, fmt.Errorf("match value is required for key %q", key)
	}
	return Condition{key: key, match: match}, nil
}

// NewRange creates a numeric range condition.
func NewRange(key string, r Range) (Condition, error) {
	if key == "" {
		return Condition{}, fmt.Errorf("filter key is required")
	}
	return Condition{key: key, rangeExpr: &r}, nil
}

// NewExists matches documents with any value in key.
func NewExists(key string) (Condition, error) {
	if key == "" {
		return Condition{}, fmt.Errorf("filter key is required")
	}
	return Condition{key: key, exists: true}, nil
}

// All matches every document.
func All() Condition { return Condition{all: true} }

// Key returns the field name.
func (c Condition) Key() string { return c.key }

// Match returns the exact match value.
func (c Condition) Match() string { return c.match }

// Range returns the numeric range expression.
func (c Condition) Range() *Range { return c.rangeExpr }

// IsMatch reports whether this is a match condition.
func (c Condition) IsMatch() bool { return c.match != "" }

// IsRange reports whether this is a range condition.
func (c Condition) IsRange() bool { return c.rangeExpr != nil }

// IsExists reports whether this is an existence condition.
func (c Condition) IsExists() bool { return c.exists }

// IsAll reports whether this condition matches every document.
func (c Condition) IsAll() bool { return c.all }

// Range is a numeric range with gt/gte/lt/lte boundaries.
type Range struct {
	gt  *float64
	gte *float64
	lt  *float64
	lte *float64
}

// NewRangeFilter validates and creates a Range.
// At least one boundary required. gt/gte and lt/lte are mutually exclusive.
func NewRangeFilter(gt, gte, lt, lte *float64) (Range, error) {
	if gt == nil && gte == nil && lt == nil && lte == nil {
		return Range{}, fmt.Errorf("at least one range boundary is required")
	}
	if gt != nil && gte != nil {
		return Range{}, fmt.Errorf("cannot specify both gt and gte")
	}
	if lt != nil && lte != nil {
		return Range{}, fmt.Errorf("cannot specify both lt and lte")
	}
	return Range{gt: gt, gte: gte, lt: lt, lte: lte}, nil
}

// GT returns the lower exclusive bound.
func (r Range) GT() *float64 { return r.gt }

// GTE returns the lower inclusive bound.
func (r Range) GTE() *float64 { return r.gte }

// LT returns the upper exclusive bound.
func (r Range) LT() *float64 { return r.lt }

// LTE returns the upper inclusive bound.
func (r Range) LTE() *float64 { return r.lte }

// Contains reports whether v satisfies every bound.
func (r Range) Contains(v float64) bool {
	switch {
	case r.gt != nil && v <= *r.gt:
		return false
	case r.gte != nil && v < *r.gte:
		return false
	case r.lt != nil && v >= *r.lt:
		return false
	case r.lte != nil && v > *r.lte:
		return false
	}
	return true
}

// Parse reads a filter query such as "color:red", "-color:red",
// "price:[10 TO 20}", "color:*" or "*:*". Clauses may be joined with AND.
func Parse(s string) (Expression, error) {
	var must, mustNot []Condition
	for _, clause := range strings.Split(s, " AND ") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		negate := false
		switch clause[0] {
		case '-':
			negate = true
			clause = clause[1:]
		case '+':
			clause = clause[1:]
		}
		c, err := parseClause(clause)
		if err != nil {
			return Expression{}, err
		}
		if negate {
			mustNot = append(mustNot, c)
		} else {
			must = append(must, c)
		}
	}
	if len(must) == 0 && len(mustNot) == 0 {
		return Expression{}, fmt.Errorf("empty filter %q", s)
	}
	return NewExpression(must, mustNot)
}

func parseClause(s string) (Condition, error) {
	if s == MatchAll {
		return All(), nil
	}
	key, val, ok := strings.Cut(s, ":")
	if !ok {
		return Condition{}, fmt.Errorf("filter %q: expected field:value", s)
	}
	switch {
	case val == "*":
		return NewExists(key)
	case strings.HasPrefix(val, "[") || strings.HasPrefix(val, "{"):
		r, err := parseRange(val)
		if err != nil {
			return Condition{}, fmt.Errorf("filter %q: %w", s, err)
		}
		return NewRange(key, r)
	}
	return NewMatch(key, strings.Trim(val, `"`))
}

func parseRange(s string) (Range, error) {
	if len(s) < 2 {
		return Range{}, fmt.Errorf("malformed range")
	}
	lowIncl := s[0] == '['
	end := s[len(s)-1]
	if end != ']' && end != '}' {
		return Range{}, fmt.Errorf("malformed range")
	}
	highIncl := end == ']'
	lo, hi, ok := strings.Cut(s[1:len(s)-1], " TO ")
	if !ok {
		return Range{}, fmt.Errorf("range needs TO")
	}
	var gt, gte, lt, lte *float64
	if v, set, err := ParseBound(strings.TrimSpace(lo)); err != nil {
		return Range{}, err
	} else if set && lowIncl {
		gte = &v
	} else if set {
		gt = &v
	}
	if v, set, err := ParseBound(strings.TrimSpace(hi)); err != nil {
		return Range{}, err
	} else if set && highIncl {
		lte = &v
	} else if set {
		lt = &v
	}
	if gt == nil && gte == nil && lt == nil && lte == nil {
		return Range{}, nil
	}
	return NewRangeFilter(gt, gte, lt, lte)
}

// ParseBound parses a range endpoint: a number or an RFC3339 timestamp (as
// unix milliseconds). "*" means unbounded.
func ParseBound(s string) (float64, bool, error) {
	if s == "*" || s == "" {
		return 0, false, nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, true, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return float64(t.UnixMilli()), true, nil
	}
	return 0, false, fmt.Errorf("invalid range bound %q", s)
}
