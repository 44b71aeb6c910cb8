package memindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kailas-cloud/distsearch/internal/domain"
	"github.com/kailas-cloud/distsearch/internal/domain/params"
	"github.com/kailas-cloud/distsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/distsearch/internal/domain/search/request"
	"github.com/kailas-cloud/distsearch/internal/domain/search/result"
)

// deadlineCheckEvery is how many documents are scored between time budget checks.
const deadlineCheckEvery = 256

// query is a parsed main query: a disjunction of filter expressions, or a
// function query scoring by a numeric field.
type query struct {
	clauses   []filter.Expression
	funcField string
}

func parseQuery(q string) (query, error) {
	lp, body, err := params.ParseLocalParams(q, nil)
	if err != nil {
		return query{}, err
	}
	if lp[params.TypeKey] == "func" {
		field := strings.TrimSpace(body)
		if field == "" {
			return query{}, domain.BadRequestf("function query without a field")
		}
		return query{funcField: field}, nil
	}

	var out query
	for _, part := range strings.Split(body, " OR ") {
		expr, err := filter.Parse(strings.TrimSpace(part))
		if err != nil {
			return query{}, fmt.Errorf("%w: q: %w", domain.ErrBadRequest, err)
		}
		out.clauses = append(out.clauses, expr)
	}
	return out, nil
}

// idf weighs a term by its rarity.
//
//	idf = ln(1 + (N - df + 0.5) / (df + 0.5))
func idf(numDocs, docFreq uint64) float64 {
	n, df := float64(numDocs), float64(docFreq)
	return math.Log(1 + (n-df+0.5)/(df+0.5))
}

func (ix *Index) eval(expr filter.Expression) *roaring.Bitmap {
	var out *roaring.Bitmap
	for _, c := range expr.Must() {
		m := ix.match(c)
		if out == nil {
			out = m
			continue
		}
		out.And(m)
	}
	if out == nil {
		out = ix.live.Clone()
	}
	for _, c := range expr.MustNot() {
		out.AndNot(ix.match(c))
	}
	return out
}

// scorer scores one clause: matched terms weigh their idf, every other
// condition weighs one.
type scorer struct {
	docs   *roaring.Bitmap
	weight float64
}

func (ix *Index) clauseScorer(expr filter.Expression) scorer {
	s := scorer{docs: ix.eval(expr)}
	n := ix.live.GetCardinality()
	for _, c := range expr.Must() {
		if c.IsMatch() {
			s.weight += idf(n, ix.match(c).GetCardinality())
			continue
		}
		s.weight++
	}
	if len(expr.Must()) == 0 {
		s.weight = 1
	}
	return s
}

// Search ranks matching documents by the request's sort spec. A document
// tie keeps index order. With a time budget the search stops early and
// reports partial results over the documents scored so far.
func (ix *Index) Search(ctx context.Context, req *request.Request) (*result.Hits, error) {
	q, err := parseQuery(req.Query())
	if err != nil {
		return nil, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var (
		matched = roaring.New()
		scorers []scorer
	)
	if q.funcField != "" {
		if bm := ix.fieldDocs[q.funcField]; bm != nil {
			matched = bm.Clone()
		}
	} else {
		for _, expr := range q.clauses {
			s := ix.clauseScorer(expr)
			matched.Or(s.docs)
			scorers = append(scorers, s)
		}
	}
	filters := req.Filters()
	if !filters.IsEmpty() {
		matched.And(ix.eval(filters))
	}

	var deadline time.Time
	if budget := req.TimeAllowed(); budget > 0 {
		deadline = time.Now().Add(budget)
	}

	spec := req.Sort()
	hits := make([]result.Hit, 0, matched.GetCardinality())
	partial := false
	it := matched.Iterator()
	for n := 0; it.HasNext(); n++ {
		if n%deadlineCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				partial = true
				break
			}
		}
		doc := it.Next()
		score := ix.score(doc, q, scorers)
		hits = append(hits, result.Hit{
			Doc:        doc,
			ID:         ix.key(doc),
			Score:      score,
			SortValues: ix.sortKey(spec, doc, score),
		})
	}

	docSet := matched
	if partial {
		docSet = roaring.New()
		for _, h := range hits {
			docSet.Add(h.Doc)
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if c := request.CompareKeys(spec, hits[i].SortValues, hits[j].SortValues); c != 0 {
			return c < 0
		}
		return hits[i].Doc < hits[j].Doc
	})

	var maxScore float64
	for i, h := range hits {
		if i == 0 || h.Score > maxScore {
			maxScore = h.Score
		}
	}

	lo := min(req.Start(), len(hits))
	hi := min(lo+req.Rows(), len(hits))
	return &result.Hits{
		DocSet:   docSet,
		Ranked:   hits[lo:hi],
		NumFound: int64(len(hits)),
		MaxScore: maxScore,
		Partial:  partial,
	}, nil
}

func (ix *Index) score(doc uint32, q query, scorers []scorer) float64 {
	if q.funcField != "" {
		for _, v := range ix.values[doc][q.funcField] {
			if f, ok := numeric(v); ok {
				return f
			}
		}
		return 0
	}
	var total float64
	for _, s := range scorers {
		if s.docs.Contains(doc) {
			total += s.weight
		}
	}
	return total
}

func (ix *Index) key(doc uint32) string {
	vals := ix.values[doc][ix.uniqueKey]
	if len(vals) == 0 {
		return ""
	}
	t, _ := term(vals[0])
	return t
}

// sortKey returns the values a hit sorts by, aligned with spec. A field
// sort uses the document's first value.
func (ix *Index) sortKey(spec []request.SortField, doc uint32, score float64) []any {
	key := make([]any, len(spec))
	for i, sf := range spec {
		if sf.IsScore() {
			key[i] = score
			continue
		}
		if vals := ix.values[doc][sf.Field]; len(vals) > 0 {
			key[i] = vals[0]
		}
	}
	return key
}
