package facet

import (
	"math"
	"sort"

	"github.com/bits-and-blooms/bitset"

	"github.com/kailas-cloud/distsearch/internal/domain/namedlist"
)

// ShardFacetCount is a term's count summed over the shards that reported it.
type ShardFacetCount struct {
	Name string
	// TermNum is the ordinal assigned on first sight; it indexes shard bitsets.
	TermNum uint
	Count   int64
}

// DistributedFieldFacet accumulates one facet.field across shards.
type DistributedFieldFacet struct {
	FieldFacet

	InitialLimit    int
	InitialMinCount int

	counts  map[string]*ShardFacetCount
	ordered []*ShardFacetCount
	// shardTerms[s] marks the ordinals shard s reported; nil when s never answered.
	shardTerms []*bitset.BitSet
	// missingMax[s] bounds the count of any term shard s did not report.
	missingMax   []int64
	missingCount int64

	// toRefine[s] lists the terms still to ask shard s for.
	toRefine [][]string
	// requested[s] holds every term asked of shard s during refinement.
	requested []map[string]bool
}

// NewDistributedFieldFacet sizes per-shard state and derives what shards are
// asked for in the first round. shardLimit >= 0 overrides the derived limit.
func NewDistributedFieldFacet(ff FieldFacet, numShards, shardLimit int) *DistributedFieldFacet {
	dff := &DistributedFieldFacet{
		FieldFacet: ff,
		counts:     make(map[string]*ShardFacetCount),
		shardTerms: make([]*bitset.BitSet, numShards),
		missingMax: make([]int64, numShards),
		toRefine:   make([][]string, numShards),
		requested:  make([]map[string]bool, numShards),
	}

	dff.InitialLimit = ff.Limit
	if ff.Limit >= 0 {
		dff.InitialLimit = ff.Offset + ff.Limit
	}
	dff.InitialMinCount = ff.MinCount
	switch {
	case ff.Sort == SortCount && ff.Limit >= 0:
		// Over-request so the first round already holds most of the true top.
		dff.InitialLimit = int(float64(dff.InitialLimit)*1.5) + 10
		dff.InitialMinCount = 0
	case ff.Sort == SortCount:
		dff.InitialMinCount = min(ff.MinCount, 1)
	case ff.MinCount > 1 && numShards > 0:
		dff.InitialMinCount = int(math.Ceil(float64(ff.MinCount) / float64(numShards)))
	}
	if shardLimit >= 0 {
		dff.InitialLimit = shardLimit
	}
	return dff
}

// Add folds one shard's term counts in. numRequested is the limit that shard
// was asked for.
func (d *DistributedFieldFacet) Add(shard int, counts *namedlist.NamedList, numRequested int) {
	if shard < 0 || shard >= len(d.shardTerms) {
		return
	}
	terms := d.shardTerms[shard]
	if terms == nil {
		terms = bitset.New(uint(len(d.ordered)))
		d.shardTerms[shard] = terms
	}

	var last int64
	received := 0
	for i := 0; i < counts.Len(); i++ {
		n, _ := namedlist.Int64(counts.Value(i))
		if counts.IsNull(i) {
			d.missingCount += n
			continue
		}
		sfc := d.counts[counts.Name(i)]
		if sfc == nil {
			sfc = &ShardFacetCount{Name: counts.Name(i), TermNum: uint(len(d.ordered))}
			d.counts[sfc.Name] = sfc
			d.ordered = append(d.ordered, sfc)
		}
		sfc.Count += n
		terms.Set(sfc.TermNum)
		last = n
		received++
	}

	// A shard that returned everything it had can only be missing terms
	// below the mincount it was asked with.
	if numRequested < 0 || (numRequested != 0 && received < numRequested) {
		last = int64(d.InitialMinCount)
	}
	d.missingMax[shard] = last
}

// counted reports whether shard s contributed to this facet.
func (d *DistributedFieldFacet) counted(s int) bool { return d.shardTerms[s] != nil }

// CountSorted returns terms by count descending, then term ascending.
func (d *DistributedFieldFacet) CountSorted() []*ShardFacetCount {
	out := append([]*ShardFacetCount(nil), d.ordered...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// IndexSorted returns terms in lexical order.
func (d *DistributedFieldFacet) IndexSorted() []*ShardFacetCount {
	out := append([]*ShardFacetCount(nil), d.ordered...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// needsRefinement reports whether first-round counts may be incomplete.
func (d *DistributedFieldFacet) needsRefinement() bool {
	switch {
	case d.Limit == 0:
		return false
	case d.InitialLimit <= 0 && d.InitialMinCount == 0:
		return false
	case d.MinCount == 0 && d.Sort == SortIndex:
		return false
	}
	return true
}

// FindRefinements queues every term whose true count could place it in the
// requested window, for each counted shard that did not report it.
func (d *DistributedFieldFacet) FindRefinements() {
	if !d.needsRefinement() {
		return
	}
	counts := d.CountSorted()
	ntop := len(counts)
	if d.Limit >= 0 {
		ntop = min(ntop, d.Offset+d.Limit)
	}
	if ntop == 0 {
		return
	}
	smallest := counts[ntop-1].Count

	for rank, sfc := range counts {
		refine := rank < ntop
		if !refine {
			maxCount := sfc.Count
			for s, terms := range d.shardTerms {
				if terms != nil && !terms.Test(sfc.TermNum) {
					maxCount += d.missingMax[s]
				}
			}
			refine = maxCount >= smallest
		}
		if !refine {
			continue
		}
		for s, terms := range d.shardTerms {
			if terms != nil && !terms.Test(sfc.TermNum) && d.missingMax[s] > 0 {
				d.toRefine[s] = append(d.toRefine[s], sfc.Name)
			}
		}
	}
}

// TakeRefinements returns and clears the terms pending for shard s,
// remembering them as requested.
func (d *DistributedFieldFacet) TakeRefinements(s int) []string {
	terms := d.toRefine[s]
	d.toRefine[s] = nil
	if len(terms) == 0 {
		return nil
	}
	if d.requested[s] == nil {
		d.requested[s] = make(map[string]bool, len(terms))
	}
	for _, t := range terms {
		d.requested[s][t] = true
	}
	return terms
}

// Refine adds a refined count. It reports false when the term was never
// requested of shard s, leaving counts untouched.
func (d *DistributedFieldFacet) Refine(s int, term string, count int64) bool {
	if s < 0 || s >= len(d.requested) || !d.requested[s][term] {
		return false
	}
	sfc := d.counts[term]
	if sfc == nil {
		return false
	}
	sfc.Count += count
	return true
}

// Result renders the final window of terms for the response.
func (d *DistributedFieldFacet) Result() *namedlist.NamedList {
	out := namedlist.New(max(d.Limit, 0) + 1)
	minCount := int64(d.MinCount)

	if d.Sort == SortCount {
		counts := d.CountSorted()
		end := len(counts)
		if d.Limit >= 0 {
			end = min(end, d.Offset+d.Limit)
		}
		for i := d.Offset; i < end; i++ {
			if counts[i].Count < minCount {
				break
			}
			out.Add(counts[i].Name, counts[i].Count)
		}
	} else {
		off, lim := d.Offset, d.Limit
		for _, sfc := range d.IndexSorted() {
			if sfc.Count < minCount {
				continue
			}
			if off > 0 {
				off--
				continue
			}
			if lim == 0 {
				break
			}
			lim--
			out.Add(sfc.Name, sfc.Count)
		}
	}

	if d.Missing {
		out.AddNull(d.missingCount)
	}
	return out
}

// Info is the coordinator's facet state for one request.
type Info struct {
	Options   *Options
	NumShards int

	queries *namedlist.NamedList
	fields  []*DistributedFieldFacet
	byKey   map[string]*DistributedFieldFacet
	dates   *namedlist.NamedList
	ranges  *namedlist.NamedList
}

// NewInfo prepares per-field accumulators for a distributed request.
func NewInfo(opts *Options, numShards, shardLimit int) *Info {
	fi := &Info{
		Options:   opts,
		NumShards: numShards,
		queries:   namedlist.New(len(opts.Queries)),
		byKey:     make(map[string]*DistributedFieldFacet, len(opts.Fields)),
	}
	for _, qf := range opts.Queries {
		if fi.queries.IndexOf(qf.Key, 0) < 0 {
			fi.queries.Add(qf.Key, int64(0))
		}
	}
	for _, ff := range opts.Fields {
		dff := NewDistributedFieldFacet(ff, numShards, shardLimit)
		fi.fields = append(fi.fields, dff)
		fi.byKey[ff.Key] = dff
	}
	return fi
}

// Fields returns the field accumulators in request order.
func (fi *Info) Fields() []*DistributedFieldFacet { return fi.fields }

// Field returns the accumulator for a response key.
func (fi *Info) Field(key string) *DistributedFieldFacet { return fi.byKey[key] }
