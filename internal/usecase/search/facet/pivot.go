package facet

import (
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kailas-cloud/distsearch/internal/domain"
	"github.com/kailas-cloud/distsearch/internal/domain/namedlist"
	"github.com/kailas-cloud/distsearch/internal/domain/params"
	"github.com/kailas-cloud/distsearch/internal/usecase/search"
)

// PivotFacet is one facet.pivot entry: a chain of at least two fields.
type PivotFacet struct {
	Key      string
	Fields   []string
	MinCount int
}

func parsePivotFacet(p *params.Params, raw string) (PivotFacet, error) {
	lp, body, err := params.ParseLocalParams(raw, p)
	if err != nil {
		return PivotFacet{}, err
	}
	pf := PivotFacet{Key: strings.TrimSpace(body)}
	if k := lp[localKey]; k != "" {
		pf.Key = k
	}
	for _, f := range strings.Split(body, ",") {
		if f = strings.TrimSpace(f); f != "" {
			pf.Fields = append(pf.Fields, f)
		}
	}
	if len(pf.Fields) < 2 {
		return PivotFacet{}, domain.BadRequestf("pivot facet %q needs at least two fields", raw)
	}
	if pf.MinCount, err = p.GetInt(ParamPivotMinCount, defaultPivotMinCount); err != nil {
		return PivotFacet{}, err
	}
	return pf, nil
}

// pivotHelper computes nested pivot trees over a document set.
type pivotHelper struct {
	core   search.Core
	params *params.Params
}

// process returns one node per value of the first field, recursing into
// the remaining fields over each value's document subset.
func (h *pivotHelper) process(docs *roaring.Bitmap, pf PivotFacet) ([]*namedlist.NamedList, error) {
	return h.level(docs, pf.Fields, pf.MinCount)
}

func (h *pivotHelper) level(docs *roaring.Bitmap, fields []string, minMatch int) ([]*namedlist.NamedList, error) {
	ff, err := ParseFieldFacet(h.params, fields[0])
	if err != nil {
		return nil, err
	}
	if ff.MinCount < minMatch {
		ff.MinCount = minMatch
	}
	counts := termCounts(h.core, docs, ff)

	var nodes []*namedlist.NamedList
	for i := 0; i < counts.Len(); i++ {
		count, _ := namedlist.Int64(counts.Value(i))
		if count < int64(minMatch) {
			continue
		}
		var (
			value  any
			subset *roaring.Bitmap
		)
		if counts.IsNull(i) {
			subset = roaring.AndNot(docs, orEmpty(h.core.FieldDocs(ff.Field)))
		} else {
			value = counts.Name(i)
			subset = roaring.And(docs, orEmpty(h.core.TermDocs(ff.Field, counts.Name(i))))
		}
		node := namedlist.Of("field", ff.Field, "value", value, "count", count)
		if len(fields) > 1 {
			children, err := h.level(subset, fields[1:], minMatch)
			if err != nil {
				return nil, err
			}
			if len(children) > 0 {
				node.Add("pivot", children)
			}
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}
