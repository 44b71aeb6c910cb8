package facet

import (
	"fmt"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kailas-cloud/distsearch/internal/domain"
	"github.com/kailas-cloud/distsearch/internal/domain/namedlist"
	"github.com/kailas-cloud/distsearch/internal/domain/params"
	"github.com/kailas-cloud/distsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/distsearch/internal/usecase/search"
)

// Response section keys.
const (
	keyFacetCounts  = "facet_counts"
	keyFacetQueries = "facet_queries"
	keyFacetFields  = "facet_fields"
	keyFacetDates   = "facet_dates"
	keyFacetRanges  = "facet_ranges"
	keyFacetPivot   = "facet_pivot"
)

func orEmpty(b *roaring.Bitmap) *roaring.Bitmap {
	if b == nil {
		return roaring.New()
	}
	return b
}

// simpleFacets computes every facet section over one shard's document set.
type simpleFacets struct {
	core   search.Core
	params *params.Params
	docs   *roaring.Bitmap
}

func (s *simpleFacets) counts(opts *Options) (*namedlist.NamedList, error) {
	out := namedlist.New(5)

	queries := namedlist.New(len(opts.Queries))
	for _, qf := range opts.Queries {
		expr, err := filter.Parse(qf.Query)
		if err != nil {
			return nil, fmt.Errorf("%w: facet.query: %w", domain.ErrBadRequest, err)
		}
		queries.Add(qf.Key, int64(s.docs.AndCardinality(matchExpression(s.core, expr))))
	}
	out.Add(keyFacetQueries, queries)

	fields := namedlist.New(len(opts.Fields))
	for _, ff := range opts.Fields {
		fields.Add(ff.Key, termCounts(s.core, s.docs, ff))
	}
	out.Add(keyFacetFields, fields)

	dates := namedlist.New(len(opts.Dates))
	for _, rf := range opts.Dates {
		nl, err := countRange(s.core, s.docs, rf)
		if err != nil {
			return nil, err
		}
		dates.Add(rf.Key, nl)
	}
	out.Add(keyFacetDates, dates)

	ranges := namedlist.New(len(opts.Ranges))
	for _, rf := range opts.Ranges {
		nl, err := countRange(s.core, s.docs, rf)
		if err != nil {
			return nil, err
		}
		ranges.Add(rf.Key, nl)
	}
	out.Add(keyFacetRanges, ranges)

	if len(opts.Pivots) > 0 {
		helper := &pivotHelper{core: s.core, params: s.params}
		pivots := namedlist.New(len(opts.Pivots))
		for _, pf := range opts.Pivots {
			nodes, err := helper.process(s.docs, pf)
			if err != nil {
				return nil, err
			}
			pivots.Add(pf.Key, nodes)
		}
		out.Add(keyFacetPivot, pivots)
	}
	return out, nil
}

// matchExpression evaluates a filter expression against the whole index.
func matchExpression(core search.Core, expr filter.Expression) *roaring.Bitmap {
	var out *roaring.Bitmap
	for _, c := range expr.Must() {
		m := orEmpty(core.Match(c))
		if out == nil {
			out = m.Clone()
			continue
		}
		out.And(m)
	}
	if out == nil {
		out = orEmpty(core.Match(filter.All())).Clone()
	}
	for _, c := range expr.MustNot() {
		out.AndNot(orEmpty(core.Match(c)))
	}
	return out
}

type termCount struct {
	term  string
	count int64
}

// termCounts counts field terms over docs. Listed terms are counted as given
// and in the given order; otherwise prefix, mincount, sort, offset and limit
// apply and a missing bucket is appended on request.
func termCounts(core search.Core, docs *roaring.Bitmap, ff FieldFacet) *namedlist.NamedList {
	if ff.Terms != nil {
		out := namedlist.New(len(ff.Terms))
		for _, t := range ff.Terms {
			out.Add(t, int64(docs.AndCardinality(orEmpty(core.TermDocs(ff.Field, t)))))
		}
		return out
	}

	var all []termCount
	for _, t := range core.Terms(ff.Field) {
		if ff.Prefix != "" && !strings.HasPrefix(t, ff.Prefix) {
			continue
		}
		n := int64(docs.AndCardinality(orEmpty(core.TermDocs(ff.Field, t))))
		if n < int64(ff.MinCount) {
			continue
		}
		all = append(all, termCount{term: t, count: n})
	}
	if ff.Sort == SortCount {
		sort.SliceStable(all, func(i, j int) bool {
			if all[i].count != all[j].count {
				return all[i].count > all[j].count
			}
			return all[i].term < all[j].term
		})
	}

	lo := min(ff.Offset, len(all))
	hi := len(all)
	if ff.Limit >= 0 && lo+ff.Limit < hi {
		hi = lo + ff.Limit
	}
	out := namedlist.New(hi - lo + 1)
	for _, tc := range all[lo:hi] {
		out.Add(tc.term, tc.count)
	}
	if ff.Missing {
		out.AddNull(int64(roaring.AndNot(docs, orEmpty(core.FieldDocs(ff.Field))).GetCardinality()))
	}
	return out
}
