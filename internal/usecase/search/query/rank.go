package query

import (
	"container/heap"

	"github.com/kailas-cloud/distsearch/internal/domain/search/request"
	"github.com/kailas-cloud/distsearch/internal/domain/shard"
)

// docKey builds a merged document's sort key from its shard's sort values.
func docKey(spec []request.SortField, d *shard.Doc) []any {
	key := make([]any, len(spec))
	for i, sf := range spec {
		if sf.IsScore() {
			if d.Score != nil {
				key[i] = *d.Score
			}
			continue
		}
		key[i] = d.SortValue(sf.Field)
	}
	return key
}

type rankedDoc struct {
	doc *shard.Doc
	key []any
}

// before reports whether a ranks ahead of b. Rows from the same shard keep
// their shard order; across shards the sort decides and the shard listed
// first in the request wins a tie.
func before(spec []request.SortField, a, b rankedDoc) bool {
	if a.doc.Shard == b.doc.Shard {
		return a.doc.OrderInShard < b.doc.OrderInShard
	}
	if c := request.CompareKeys(spec, a.key, b.key); c != 0 {
		return c < 0
	}
	return a.doc.ShardIndex < b.doc.ShardIndex
}

// docQueue is a bounded heap keeping the best max documents; its root is the
// worst one kept.
type docQueue struct {
	spec  []request.SortField
	items []rankedDoc
	max   int
}

func newDocQueue(spec []request.SortField, max int) *docQueue {
	return &docQueue{spec: spec, max: max}
}

func (q *docQueue) Len() int           { return len(q.items) }
func (q *docQueue) Less(i, j int) bool { return before(q.spec, q.items[j], q.items[i]) }
func (q *docQueue) Swap(i, j int)      { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *docQueue) Push(x any)         { q.items = append(q.items, x.(rankedDoc)) }

func (q *docQueue) Pop() any {
	n := len(q.items)
	it := q.items[n-1]
	q.items = q.items[:n-1]
	return it
}

// offer inserts d, evicting the worst kept document on overflow.
func (q *docQueue) offer(d *shard.Doc) {
	if q.max <= 0 {
		return
	}
	rd := rankedDoc{doc: d, key: docKey(q.spec, d)}
	if len(q.items) < q.max {
		heap.Push(q, rd)
		return
	}
	if before(q.spec, rd, q.items[0]) {
		q.items[0] = rd
		heap.Fix(q, 0)
	}
}

// popWorst removes and returns the lowest-ranked document kept.
func (q *docQueue) popWorst() *shard.Doc {
	return heap.Pop(q).(rankedDoc).doc
}

// drain pops the n lowest-ranked documents and returns them best first.
func (q *docQueue) drain(n int) []*shard.Doc {
	out := make([]*shard.Doc, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = q.popWorst()
	}
	return out
}
