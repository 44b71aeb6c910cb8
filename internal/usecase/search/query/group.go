package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/kailas-cloud/distsearch/internal/domain"
	"github.com/kailas-cloud/distsearch/internal/domain/namedlist"
	"github.com/kailas-cloud/distsearch/internal/domain/params"
	"github.com/kailas-cloud/distsearch/internal/domain/search/request"
	"github.com/kailas-cloud/distsearch/internal/domain/search/result"
	"github.com/kailas-cloud/distsearch/internal/domain/shard"
	"github.com/kailas-cloud/distsearch/internal/usecase/search"
)

// Grouping protocol parameters.
const (
	paramGroupFirst     = "group.distributed.first"
	paramGroupSecond    = "group.distributed.second"
	paramGroupOffset    = "group.offset"
	paramGroupLimit     = "group.limit"
	paramTopGroupsPfx   = "group.topgroups."
	topGroupsMissingSfx = ".missing"

	stateGroups = "query.groups"
)

type groupKey struct {
	value string
	null  bool
}

func (k groupKey) groupValue() any {
	if k.null {
		return nil
	}
	return k.value
}

// localGroup is one group of ranked local hits, best hit first.
type localGroup struct {
	key  groupKey
	hits []result.Hit
}

// collectGroups splits ranked hits by the first value of field, keeping
// groups in the order of their best hit.
func collectGroups(core search.Core, field string, ranked []result.Hit) []*localGroup {
	byKey := make(map[groupKey]*localGroup)
	var order []*localGroup
	for _, h := range ranked {
		key := groupKey{null: true}
		if vals := core.Values(h.Doc, field); len(vals) > 0 {
			key = groupKey{value: fmt.Sprint(vals[0])}
		}
		g, ok := byKey[key]
		if !ok {
			g = &localGroup{key: key}
			byKey[key] = g
			order = append(order, g)
		}
		g.hits = append(g.hits, h)
	}
	return order
}

func window[T any](items []T, offset, count int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + count
	if end > len(items) || end < offset {
		end = len(items)
	}
	return items[offset:end]
}

// processGrouped answers grouped requests on a single node, including both
// shard-side phases of the distributed protocol.
func (c *Component) processGrouped(ctx context.Context, rb *search.ResponseBuilder) error {
	g := rb.Req.Grouping()
	all := rb.Req.WithWindow(0, int(c.core.NumDocs()))
	hits, err := c.core.Search(ctx, &all)
	if err != nil {
		return fmt.Errorf("%w: local search: %w", domain.ErrServerError, err)
	}
	rb.Hits, rb.DocSet = hits, hits.DocSet
	if hits.Partial {
		rb.SetPartial()
	}
	groups := collectGroups(c.core, g.Field, hits.Ranked)

	var out *namedlist.NamedList
	switch {
	case rb.Params.Bool(paramGroupFirst, false):
		top := namedlist.New(rb.Req.Rows())
		for _, lg := range window(groups, rb.Req.Start(), rb.Req.Rows()) {
			if lg.key.null {
				top.AddNull(lg.hits[0].SortValues)
			} else {
				top.Add(lg.key.value, lg.hits[0].SortValues)
			}
		}
		out = namedlist.Of("matches", hits.NumFound, "ngroups", int64(len(groups)), "topGroups", top)

	case rb.Params.Bool(paramGroupSecond, false):
		wanted := wantedGroups(rb.Params, g.Field)
		var list []*namedlist.NamedList
		for _, lg := range groups {
			if !wanted[lg.key] {
				continue
			}
			docs := window(lg.hits, g.Offset, g.Limit)
			dl, err := c.groupDocList(ctx, rb, lg, docs, g.Offset)
			if err != nil {
				return err
			}
			list = append(list, namedlist.Of(
				"groupValue", lg.key.groupValue(),
				"doclist", dl,
				keySortValues, sortValues(rb.Req.Sort(), docs),
			))
		}
		out = namedlist.Of("matches", hits.NumFound, "groups", list)

	default:
		var list []*namedlist.NamedList
		for _, lg := range window(groups, rb.Req.Start(), rb.Req.Rows()) {
			dl, err := c.groupDocList(ctx, rb, lg, window(lg.hits, g.Offset, g.Limit), g.Offset)
			if err != nil {
				return err
			}
			list = append(list, namedlist.Of("groupValue", lg.key.groupValue(), "doclist", dl))
		}
		out = namedlist.Of("matches", hits.NumFound)
		if g.NGroups {
			out.Add("ngroups", int64(len(groups)))
		}
		out.Add("groups", list)
	}
	rb.Response.Add(keyGrouped, namedlist.Of(g.Field, out))
	return nil
}

func (c *Component) groupDocList(
	ctx context.Context, rb *search.ResponseBuilder, lg *localGroup, docs []result.Hit, offset int,
) (*result.DocList, error) {
	rendered, err := c.renderHits(ctx, rb, docs)
	if err != nil {
		return nil, err
	}
	dl := &result.DocList{NumFound: int64(len(lg.hits)), Start: offset, Docs: rendered}
	if rb.Req.Fields().WantsScore() && len(lg.hits) > 0 {
		maxScore := lg.hits[0].Score
		for _, h := range lg.hits[1:] {
			if h.Score > maxScore {
				maxScore = h.Score
			}
		}
		dl.MaxScore = &maxScore
	}
	return dl, nil
}

func wantedGroups(p *params.Params, field string) map[groupKey]bool {
	out := make(map[groupKey]bool)
	for _, v := range p.GetAll(paramTopGroupsPfx + field) {
		out[groupKey{value: v}] = true
	}
	if p.Bool(paramTopGroupsPfx+field+topGroupsMissingSfx, false) {
		out[groupKey{null: true}] = true
	}
	return out
}

// mergedGroup is one globally agreed group on the coordinator.
type mergedGroup struct {
	key       groupKey
	head      []any
	headIndex int
	numFound  int64
	queue     *docQueue
	docs      []*shard.Doc
}

type groupState struct {
	matches int64
	ngroups int64
	groups  []*mergedGroup
	byKey   map[groupKey]*mergedGroup
}

func (c *Component) groupedDistributedProcess(rb *search.ResponseBuilder) search.Stage {
	switch {
	case rb.Stage < search.StageParseQuery:
		return search.StageParseQuery
	case rb.Stage == search.StageParseQuery:
		return search.StageTopGroups
	case rb.Stage < search.StageTopGroups:
		return search.StageTopGroups
	case rb.Stage == search.StageTopGroups:
		c.createTopGroupsRequest(rb)
		return search.StageExecuteQuery
	case rb.Stage < search.StageExecuteQuery:
		return search.StageExecuteQuery
	case rb.Stage == search.StageExecuteQuery:
		c.createGroupDocsRequest(rb)
		return search.StageGetFields
	case rb.Stage < search.StageGetFields:
		return search.StageGetFields
	case rb.Stage == search.StageGetFields:
		c.createRetrieveDocs(rb)
		return search.StageDone
	}
	return search.StageDone
}

// createTopGroupsRequest asks every shard for its best offset+count groups.
func (c *Component) createTopGroupsRequest(rb *search.ResponseBuilder) {
	sreq := shard.NewRequest(shard.PurposeGetTopGroups, rb.Params.Clone())
	p := sreq.Params
	p.Remove(params.Shards)
	p.Remove(params.IDs)
	p.SetInt(params.Start, 0)
	p.SetInt(params.Rows, rb.Req.Start()+rb.Req.Rows())
	p.Set(params.FSV, "true")
	p.Set(params.FL, c.idFields(&rb.Req))
	p.Set(paramGroupFirst, "true")
	rb.AddRequest(c, sreq)
}

// mergeTopGroups dedups group values across shards, keeping the best head
// for each, and fixes the global group window.
func (c *Component) mergeTopGroups(rb *search.ResponseBuilder, sreq *shard.Request) error {
	g := rb.Req.Grouping()
	spec := rb.Req.Sort()
	st := &groupState{byKey: make(map[groupKey]*mergedGroup)}
	var all []*mergedGroup

	for _, srsp := range sreq.Responses {
		if !srsp.OK() {
			continue
		}
		fieldNL := srsp.Section(keyGrouped).GetList(g.Field)
		if fieldNL == nil {
			if err := malformed(rb, srsp, keyGrouped); err != nil {
				return err
			}
			continue
		}
		if n, ok := namedlist.Int64(fieldNL.Get("matches")); ok {
			st.matches += n
		}
		if n, ok := namedlist.Int64(fieldNL.Get("ngroups")); ok {
			st.ngroups += n
		}
		top := fieldNL.GetList("topGroups")
		for i := 0; i < top.Len(); i++ {
			key := groupKey{value: top.Name(i), null: top.IsNull(i)}
			head, _ := top.Value(i).([]any)
			mg, ok := st.byKey[key]
			if !ok {
				mg = &mergedGroup{key: key, head: head, headIndex: rb.ShardIndex(srsp.Shard)}
				st.byKey[key] = mg
				all = append(all, mg)
				continue
			}
			si := rb.ShardIndex(srsp.Shard)
			if cmp := request.CompareKeys(spec, head, mg.head); cmp < 0 || (cmp == 0 && si < mg.headIndex) {
				mg.head, mg.headIndex = head, si
			}
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if cmp := request.CompareKeys(spec, a.head, b.head); cmp != 0 {
			return cmp < 0
		}
		if a.key.null != b.key.null {
			return b.key.null
		}
		return a.key.value < b.key.value
	})
	st.groups = window(all, rb.Req.Start(), rb.Req.Rows())
	st.byKey = make(map[groupKey]*mergedGroup, len(st.groups))
	for _, mg := range st.groups {
		mg.queue = newDocQueue(spec, g.Offset+g.Limit)
		st.byKey[mg.key] = mg
	}
	rb.SetState(stateGroups, st)
	return nil
}

// createGroupDocsRequest asks every shard for its top documents within the
// agreed groups. It carries GET_TOP_IDS so other components can piggy-back.
func (c *Component) createGroupDocsRequest(rb *search.ResponseBuilder) {
	st, _ := rb.State(stateGroups).(*groupState)
	if st == nil {
		return
	}
	g := rb.Req.Grouping()
	sreq := shard.NewRequest(shard.PurposeGetTopIDs, rb.Params.Clone())
	p := sreq.Params
	p.Remove(params.Shards)
	p.Remove(params.IDs)
	p.Remove(paramGroupFirst)
	p.SetInt(params.Start, 0)
	p.SetInt(params.Rows, 0)
	p.Set(params.FSV, "true")
	p.Set(params.FL, c.idFields(&rb.Req))
	p.Set(paramGroupSecond, "true")
	p.SetInt(paramGroupOffset, 0)
	p.SetInt(paramGroupLimit, g.Offset+g.Limit)
	for _, mg := range st.groups {
		if mg.key.null {
			p.Set(paramTopGroupsPfx+g.Field+topGroupsMissingSfx, "true")
			continue
		}
		p.Add(paramTopGroupsPfx+g.Field, mg.key.value)
	}
	rb.AddRequest(c, sreq)
}

// mergeGroupDocs merges per-group documents across shards, then assigns
// response positions group by group.
func (c *Component) mergeGroupDocs(rb *search.ResponseBuilder, sreq *shard.Request) error {
	st, _ := rb.State(stateGroups).(*groupState)
	if st == nil {
		return nil
	}
	g := rb.Req.Grouping()
	seen := make(map[string]bool)

	for _, srsp := range sreq.Responses {
		if !srsp.OK() {
			continue
		}
		fieldNL := srsp.Section(keyGrouped).GetList(g.Field)
		if fieldNL == nil {
			if err := malformed(rb, srsp, keyGrouped); err != nil {
				return err
			}
			continue
		}
		groups, _ := fieldNL.Get("groups").([]*namedlist.NamedList)
		for _, gnl := range groups {
			key := groupKey{null: true}
			if v := gnl.Get("groupValue"); v != nil {
				key = groupKey{value: fmt.Sprint(v)}
			}
			mg, ok := st.byKey[key]
			if !ok {
				continue
			}
			dl, _ := gnl.Get("doclist").(*result.DocList)
			if dl == nil {
				continue
			}
			mg.numFound += dl.NumFound
			sortVals := gnl.GetList(keySortValues)
			for i, d := range dl.Docs {
				id := fmt.Sprint(d.Get(c.uniqueKey))
				if seen[id] {
					mg.numFound--
					continue
				}
				seen[id] = true
				mg.queue.offer(&shard.Doc{
					ID:           id,
					Shard:        srsp.Shard,
					ShardIndex:   rb.ShardIndex(srsp.Shard),
					Score:        scoreOf(d),
					OrderInShard: i,
					SortValues:   sortVals,
				})
			}
		}
	}

	pos := 0
	rb.ResultIDs = make(map[string]*shard.Doc)
	for _, mg := range st.groups {
		n := mg.queue.Len() - g.Offset
		if n < 0 {
			n = 0
		}
		mg.docs = mg.queue.drain(n)
		for _, sd := range mg.docs {
			sd.PositionInResponse = pos
			rb.ResultIDs[sd.ID] = sd
			pos++
		}
	}
	rb.ResponseDocs = make([]*result.Document, pos)
	return nil
}

// finishGrouped emits the grouped response, dropping documents that vanished
// before their fields could be fetched.
func (c *Component) finishGrouped(rb *search.ResponseBuilder) {
	g := rb.Req.Grouping()
	st, _ := rb.State(stateGroups).(*groupState)
	if st == nil {
		st = &groupState{}
	}
	wantsScore := rb.Req.Fields().WantsScore()

	list := make([]*namedlist.NamedList, 0, len(st.groups))
	for _, mg := range st.groups {
		docs := make([]*result.Document, 0, len(mg.docs))
		var maxScore *float64
		for _, sd := range mg.docs {
			d := rb.ResponseDocs[sd.PositionInResponse]
			if d == nil {
				mg.numFound--
				continue
			}
			if wantsScore && sd.Score != nil && (maxScore == nil || *sd.Score > *maxScore) {
				s := *sd.Score
				maxScore = &s
			}
			docs = append(docs, d)
		}
		list = append(list, namedlist.Of(
			"groupValue", mg.key.groupValue(),
			"doclist", &result.DocList{NumFound: mg.numFound, Start: g.Offset, MaxScore: maxScore, Docs: docs},
		))
	}

	out := namedlist.Of("matches", st.matches)
	if g.NGroups {
		out.Add("ngroups", st.ngroups)
	}
	out.Add("groups", list)
	rb.Response.Add(keyGrouped, namedlist.Of(g.Field, out))
	rb.SetState(stateGroups, nil)
}
