package facet

import (
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kailas-cloud/distsearch/internal/domain"
	"github.com/kailas-cloud/distsearch/internal/domain/namedlist"
	"github.com/kailas-cloud/distsearch/internal/domain/params"
	"github.com/kailas-cloud/distsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/distsearch/internal/usecase/search"
)

// maxRangeBuckets bounds the bucket count of one range facet.
const maxRangeBuckets = 10000

// Keys of a range facet section that are not bucket counts.
const (
	keyCounts  = "counts"
	keyGap     = "gap"
	keyStart   = "start"
	keyEnd     = "end"
	keyBefore  = "before"
	keyAfter   = "after"
	keyBetween = "between"
)

type rangeParamNames struct {
	start, end, gap, other, hardEnd string
	// flat renders buckets inline instead of under "counts".
	flat bool
}

var (
	rangeParams = rangeParamNames{ParamRangeStart, ParamRangeEnd, ParamRangeGap, ParamRangeOther, ParamRangeHardEnd, false}
	dateParams  = rangeParamNames{ParamDateStart, ParamDateEnd, ParamDateGap, ParamDateOther, ParamDateHardEnd, true}
)

// RangeFacet is one facet.range or facet.date entry.
type RangeFacet struct {
	Key      string
	Field    string
	Gap      string
	HardEnd  bool
	MinCount int
	Flat     bool
	// Dates is set when start and end are timestamps; bounds are then unix millis.
	Dates   bool
	start   float64
	end     float64
	step    func(float64) float64
	before  bool
	after   bool
	between bool
}

func parseRangeFacet(p *params.Params, raw string, names rangeParamNames) (RangeFacet, error) {
	lp, body, err := params.ParseLocalParams(raw, p)
	if err != nil {
		return RangeFacet{}, err
	}
	field := strings.TrimSpace(body)
	if field == "" {
		return RangeFacet{}, domain.BadRequestf("empty range facet %q", raw)
	}
	rf := RangeFacet{Key: field, Field: field, Flat: names.flat}
	if k := lp[localKey]; k != "" {
		rf.Key = k
	}

	startRaw := p.FieldParam(field, names.start, "")
	endRaw := p.FieldParam(field, names.end, "")
	rf.Gap = p.FieldParam(field, names.gap, "")
	if startRaw == "" || endRaw == "" || rf.Gap == "" {
		return RangeFacet{}, domain.BadRequestf("range facet on %s needs %s, %s and %s", field, names.start, names.end, names.gap)
	}
	var set bool
	if rf.start, set, err = filter.ParseBound(startRaw); err != nil || !set {
		return RangeFacet{}, domain.BadRequestf("invalid %s %q", names.start, startRaw)
	}
	if rf.end, set, err = filter.ParseBound(endRaw); err != nil || !set {
		return RangeFacet{}, domain.BadRequestf("invalid %s %q", names.end, endRaw)
	}
	_, numErr := strconv.ParseFloat(startRaw, 64)
	rf.Dates = numErr != nil
	if rf.end < rf.start {
		return RangeFacet{}, domain.BadRequestf("range facet on %s: end before start", field)
	}
	if rf.step, err = parseGap(rf.Gap, rf.Dates); err != nil {
		return RangeFacet{}, err
	}
	if rf.HardEnd, err = p.FieldBool(field, names.hardEnd, false); err != nil {
		return RangeFacet{}, err
	}
	if rf.MinCount, err = p.FieldInt(field, ParamMinCount, 0); err != nil {
		return RangeFacet{}, err
	}
	for _, v := range strings.Split(p.FieldParam(field, names.other, ""), ",") {
		switch strings.TrimSpace(strings.ToLower(v)) {
		case "", "none":
		case keyBefore:
			rf.before = true
		case keyAfter:
			rf.after = true
		case keyBetween:
			rf.between = true
		case "all":
			rf.before, rf.after, rf.between = true, true, true
		default:
			return RangeFacet{}, domain.BadRequestf("invalid %s %q", names.other, v)
		}
	}
	return rf, nil
}

// parseGap returns the function that advances a bucket's lower bound. Date
// gaps use the +<n><UNIT> form, as in +1DAY or +6HOURS.
func parseGap(s string, dates bool) (func(float64) float64, error) {
	if !dates {
		g, err := strconv.ParseFloat(s, 64)
		if err != nil || g <= 0 {
			return nil, domain.BadRequestf("invalid range gap %q", s)
		}
		return func(v float64) float64 { return v + g }, nil
	}

	t := strings.TrimPrefix(strings.TrimSpace(s), "+")
	i := strings.IndexFunc(t, func(r rune) bool { return !unicode.IsDigit(r) })
	if i <= 0 {
		return nil, domain.BadRequestf("invalid date gap %q", s)
	}
	n, err := strconv.Atoi(t[:i])
	if err != nil || n <= 0 {
		return nil, domain.BadRequestf("invalid date gap %q", s)
	}
	unit := strings.TrimSuffix(strings.ToUpper(t[i:]), "S")

	var d time.Duration
	switch unit {
	case "MILLI", "MILLISECOND":
		d = time.Millisecond
	case "SECOND":
		d = time.Second
	case "MINUTE":
		d = time.Minute
	case "HOUR":
		d = time.Hour
	case "DAY":
		d = 24 * time.Hour
	case "WEEK":
		d = 7 * 24 * time.Hour
	case "MONTH":
		return func(v float64) float64 { return float64(fromMillis(v).AddDate(0, n, 0).UnixMilli()) }, nil
	case "YEAR":
		return func(v float64) float64 { return float64(fromMillis(v).AddDate(n, 0, 0).UnixMilli()) }, nil
	default:
		return nil, domain.BadRequestf("invalid date gap unit in %q", s)
	}
	step := float64((time.Duration(n) * d).Milliseconds())
	return func(v float64) float64 { return v + step }, nil
}

func fromMillis(v float64) time.Time { return time.UnixMilli(int64(v)).UTC() }

func (rf RangeFacet) value(v float64) any {
	if rf.Dates {
		return fromMillis(v).Format(time.RFC3339)
	}
	return v
}

func (rf RangeFacet) label(v float64) string {
	if rf.Dates {
		return fromMillis(v).Format(time.RFC3339)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type bucket struct {
	lo, hi float64
}

// buckets splits [start, end) by gap and returns the effective end, which
// overshoots end unless hardend is set.
func (rf RangeFacet) buckets() ([]bucket, float64, error) {
	var out []bucket
	lo := rf.start
	for lo < rf.end {
		hi := rf.step(lo)
		if hi <= lo {
			return nil, 0, domain.BadRequestf("range gap %q does not advance", rf.Gap)
		}
		if hi > rf.end && rf.HardEnd {
			hi = rf.end
		}
		out = append(out, bucket{lo: lo, hi: hi})
		if len(out) > maxRangeBuckets {
			return nil, 0, domain.BadRequestf("range facet on %s exceeds %d buckets", rf.Field, maxRangeBuckets)
		}
		lo = hi
	}
	return out, lo, nil
}

// numeric converts a stored value to a float, reading timestamps as unix millis.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case string:
		f, set, err := filter.ParseBound(n)
		return f, set && err == nil
	}
	return 0, false
}

// countRange buckets the values of docs. A document counts once per bucket
// however many of its values fall inside.
func countRange(core search.Core, docs *roaring.Bitmap, rf RangeFacet) (*namedlist.NamedList, error) {
	bs, end, err := rf.buckets()
	if err != nil {
		return nil, err
	}
	counts := make([]int64, len(bs))
	var before, after, between int64

	it := docs.Iterator()
	for it.HasNext() {
		doc := it.Next()
		hit := make(map[int]bool)
		var inBefore, inAfter, inBetween bool
		for _, raw := range core.Values(doc, rf.Field) {
			v, ok := numeric(raw)
			if !ok {
				continue
			}
			switch {
			case v < rf.start:
				inBefore = true
				continue
			case v >= end:
				inAfter = true
				continue
			}
			inBetween = true
			i := sort.Search(len(bs), func(i int) bool { return bs[i].hi > v })
			if i < len(bs) {
				hit[i] = true
			}
		}
		for i := range hit {
			counts[i]++
		}
		if inBefore {
			before++
		}
		if inAfter {
			after++
		}
		if inBetween {
			between++
		}
	}

	buckets := namedlist.New(len(bs))
	for i, b := range bs {
		if counts[i] >= int64(rf.MinCount) {
			buckets.Add(rf.label(b.lo), counts[i])
		}
	}

	var out *namedlist.NamedList
	if rf.Flat {
		out = buckets
	} else {
		out = namedlist.Of(keyCounts, buckets)
	}
	out.Add(keyGap, rf.Gap)
	out.Add(keyStart, rf.value(rf.start))
	out.Add(keyEnd, rf.value(end))
	if rf.before {
		out.Add(keyBefore, before)
	}
	if rf.after {
		out.Add(keyAfter, after)
	}
	if rf.between {
		out.Add(keyBetween, between)
	}
	return out, nil
}

// mergeRanges folds one shard's facet_ranges or facet_dates section into acc.
// The first shard seen provides the layout.
func mergeRanges(acc, section *namedlist.NamedList) *namedlist.NamedList {
	if section == nil {
		return acc
	}
	if acc == nil {
		return section.Clone()
	}
	section.Each(func(key string, _ bool, v any) {
		src, ok := v.(*namedlist.NamedList)
		if !ok {
			return
		}
		if dst := acc.GetList(key); dst != nil {
			sumCounts(dst, src)
			return
		}
		acc.Add(key, src.Clone())
	})
	return acc
}

func sumCounts(dst, src *namedlist.NamedList) {
	src.Each(func(name string, _ bool, v any) {
		switch name {
		case keyGap, keyStart, keyEnd:
			return
		}
		if sub, ok := v.(*namedlist.NamedList); ok {
			if d := dst.GetList(name); d != nil {
				sumCounts(d, sub)
			} else {
				dst.Add(name, sub.Clone())
			}
			return
		}
		n, ok := namedlist.Int64(v)
		if !ok {
			return
		}
		i := dst.IndexOf(name, 0)
		if i < 0 {
			dst.Add(name, n)
			return
		}
		cur, _ := namedlist.Int64(dst.Value(i))
		dst.SetAt(i, cur+n)
	})
}

// pruneBuckets drops merged buckets below the range's mincount.
func pruneBuckets(section *namedlist.NamedList, rf RangeFacet) {
	nl := section.GetList(rf.Key)
	if nl == nil || rf.MinCount <= 0 {
		return
	}
	if !rf.Flat {
		if counts := nl.GetList(keyCounts); counts != nil {
			nl.Set(keyCounts, belowMinRemoved(counts, rf.MinCount, nil))
		}
		return
	}
	section.Set(rf.Key, belowMinRemoved(nl, rf.MinCount, map[string]bool{
		keyGap: true, keyStart: true, keyEnd: true, keyBefore: true, keyAfter: true, keyBetween: true,
	}))
}

func belowMinRemoved(nl *namedlist.NamedList, minCount int, keep map[string]bool) *namedlist.NamedList {
	out := namedlist.New(nl.Len())
	nl.Each(func(name string, _ bool, v any) {
		if !keep[name] {
			if n, ok := namedlist.Int64(v); ok && n < int64(minCount) {
				return
			}
		}
		out.Add(name, v)
	})
	return out
}
