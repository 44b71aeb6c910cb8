package query

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/distsearch/internal/domain"
	"github.com/kailas-cloud/distsearch/internal/domain/namedlist"
	"github.com/kailas-cloud/distsearch/internal/domain/params"
	"github.com/kailas-cloud/distsearch/internal/domain/search/request"
	"github.com/kailas-cloud/distsearch/internal/domain/search/result"
	"github.com/kailas-cloud/distsearch/internal/domain/shard"
	"github.com/kailas-cloud/distsearch/internal/metrics"
	"github.com/kailas-cloud/distsearch/internal/usecase/search"
)

// idFields is the fl sent to shards when only keys and scores are needed.
func (c *Component) idFields(req *request.Request) string {
	if req.Fields().WantsScore() || req.SortsByScore() {
		return c.uniqueKey + "," + request.ScoreField
	}
	return c.uniqueKey
}

// createMainQuery asks every shard for its top offset+count ids.
func (c *Component) createMainQuery(rb *search.ResponseBuilder) {
	req := &rb.Req
	sreq := shard.NewRequest(shard.PurposeGetTopIDs, rb.Params.Clone())
	p := sreq.Params
	p.Remove(params.Shards)
	p.Remove(params.IDs)

	start := 0
	if req.ShardsStart() >= 0 {
		start = req.ShardsStart()
	}
	rows := req.Start() + req.Rows()
	if req.ShardsRows() >= 0 {
		rows = req.ShardsRows()
	}
	p.SetInt(params.Start, start)
	p.SetInt(params.Rows, rows)
	p.Set(params.FSV, "true")
	p.Set(params.FL, c.idFields(req))

	rb.AddRequest(c, sreq)
}

// mergeIDs folds every shard's ranked ids into one bounded ranking. A key
// returned by several shards is attributed to the first shard in response
// order and counted once.
func (c *Component) mergeIDs(rb *search.ResponseBuilder, sreq *shard.Request) error {
	req := &rb.Req
	spec := req.Sort()
	queue := newDocQueue(spec, req.Start()+req.Rows())
	seen := make(map[string]*shard.Doc)

	var (
		numFound int64
		maxScore *float64
	)
	shardInfo := c.newShardInfo(rb)

	for _, srsp := range sreq.Responses {
		var docs *result.DocList
		if srsp.OK() {
			docs, _ = srsp.Payload.Get(keyResponse).(*result.DocList)
			if docs == nil {
				if err := malformed(rb, srsp, keyResponse); err != nil {
					return err
				}
			}
		}
		addShardInfo(shardInfo, srsp, docs)
		if docs == nil {
			continue
		}

		if header := srsp.Section(keyHeader); header != nil && header.Get("partialResults") == true {
			rb.SetPartial()
		}
		numFound += docs.NumFound
		if docs.MaxScore != nil && (maxScore == nil || *docs.MaxScore > *maxScore) {
			ms := *docs.MaxScore
			maxScore = &ms
		}

		sortVals := srsp.Section(keySortValues)
		for i, d := range docs.Docs {
			id := fmt.Sprint(d.Get(c.uniqueKey))
			if prev, dup := seen[id]; dup {
				numFound--
				metrics.MergeDuplicateDocsTotal.Inc()
				rb.Logger().Debug("duplicate document across shards",
					zap.String("id", id),
					zap.String("kept", prev.Shard),
					zap.String("dropped", srsp.Shard),
				)
				continue
			}
			sd := &shard.Doc{
				ID:           id,
				Shard:        srsp.Shard,
				ShardIndex:   rb.ShardIndex(srsp.Shard),
				Score:        scoreOf(d),
				OrderInShard: i,
				SortValues:   sortVals,
			}
			seen[id] = sd
			queue.offer(sd)
		}
	}

	resultSize := queue.Len() - req.Start()
	if resultSize < 0 {
		resultSize = 0
	}
	rb.ResultIDs = make(map[string]*shard.Doc, resultSize)
	for pos, sd := range queue.drain(resultSize) {
		sd.PositionInResponse = pos
		rb.ResultIDs[sd.ID] = sd
	}
	rb.ResponseDocs = make([]*result.Document, resultSize)
	rb.NumFound = numFound
	if req.Fields().WantsScore() {
		rb.MaxScore = maxScore
	}
	if shardInfo != nil {
		rb.Response.Add(keyShardsInfo, shardInfo)
	}
	return nil
}

func scoreOf(d *result.Document) *float64 {
	if f, ok := request.ToFloat(d.Get(request.ScoreField)); ok {
		return &f
	}
	return nil
}

// malformed handles a shard payload without a required section: fatal unless
// the request tolerates shard failures.
func malformed(rb *search.ResponseBuilder, srsp *shard.Response, section string) error {
	purpose := ""
	if srsp.Request != nil {
		purpose = srsp.Request.Purpose.String()
	}
	err := domain.NewShardError(srsp.Shard, purpose, fmt.Errorf("missing %q in shard response", section))
	if !rb.Tolerant {
		return fmt.Errorf("%w: %w", domain.ErrServerError, err)
	}
	rb.Logger().Warn("malformed shard response", zap.String("shard", srsp.Shard), zap.String("section", section))
	rb.SetPartial()
	return nil
}

func (c *Component) newShardInfo(rb *search.ResponseBuilder) *namedlist.NamedList {
	if !rb.Params.Bool(params.ShardsInfo, false) {
		return nil
	}
	return namedlist.New(len(rb.Shards))
}

// addShardInfo records per-shard diagnostics for shards.info.
func addShardInfo(info *namedlist.NamedList, srsp *shard.Response, docs *result.DocList) {
	if info == nil {
		return
	}
	nl := namedlist.New(5)
	switch {
	case srsp.Err != nil:
		nl.Add("error", srsp.Err.Error())
		nl.Add("trace", errorTrace(srsp.Err))
	case docs != nil:
		nl.Add("numFound", docs.NumFound)
		if docs.MaxScore != nil {
			nl.Add("maxScore", *docs.MaxScore)
		}
	default:
		nl.Add("error", "missing response section")
	}
	nl.Add("shardAddress", srsp.Shard)
	nl.Add("time", srsp.Elapsed.Milliseconds())
	info.Add(srsp.Shard, nl)
}

// errorTrace renders the wrap chain of err, outermost first.
func errorTrace(err error) string {
	var parts []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		parts = append(parts, fmt.Sprintf("%T: %v", e, e))
	}
	return strings.Join(parts, "\n")
}

// createRetrieveDocs asks each owning shard for the stored fields of its
// merged documents.
func (c *Component) createRetrieveDocs(rb *search.ResponseBuilder) {
	byShard := make(map[string][]*shard.Doc)
	for _, sd := range rb.ResultIDs {
		byShard[sd.Shard] = append(byShard[sd.Shard], sd)
	}
	shards := make([]string, 0, len(byShard))
	for s := range byShard {
		shards = append(shards, s)
	}
	sort.Strings(shards)

	fl := rb.Req.Fields()
	for _, name := range shards {
		docs := byShard[name]
		sort.Slice(docs, func(i, j int) bool { return docs[i].PositionInResponse < docs[j].PositionInResponse })
		ids := make([]string, len(docs))
		for i, sd := range docs {
			ids[i] = sd.ID
		}

		sreq := shard.NewRequest(shard.PurposeGetFields, rb.Params.Clone())
		sreq.Shards = []string{name}
		p := sreq.Params
		p.Remove(params.Sort)
		p.Remove(params.FSV)
		p.Remove(params.Start)
		p.Remove(params.Rows)
		if !fl.WantsField(c.uniqueKey) {
			p.Set(params.FL, p.Get(params.FL)+","+c.uniqueKey)
		}
		p.Set(params.IDs, params.JoinEscaped(ids, ','))
		rb.AddRequest(c, sreq)
	}
}

// returnFields places fetched documents at their merged positions.
func (c *Component) returnFields(rb *search.ResponseBuilder, sreq *shard.Request) {
	fl := rb.Req.Fields()
	removeKey := !fl.WantsField(c.uniqueKey)
	for _, srsp := range sreq.Responses {
		if !srsp.OK() {
			continue
		}
		list, ok := srsp.Payload.Get(keyResponse).(*result.DocList)
		if !ok {
			// The slots stay empty and are dropped in finishDocs.
			continue
		}
		for _, d := range list.Docs {
			sd, found := rb.ResultIDs[fmt.Sprint(d.Get(c.uniqueKey))]
			if !found || sd.PositionInResponse >= len(rb.ResponseDocs) {
				continue
			}
			if fl.WantsScore() && sd.Score != nil {
				d.Set(request.ScoreField, *sd.Score)
			}
			if removeKey {
				d.Remove(c.uniqueKey)
			}
			rb.ResponseDocs[sd.PositionInResponse] = d
		}
	}
}

// finishDocs drops slots whose document vanished between rounds and emits
// the final list.
func (c *Component) finishDocs(rb *search.ResponseBuilder) {
	docs := make([]*result.Document, 0, len(rb.ResponseDocs))
	for _, d := range rb.ResponseDocs {
		if d == nil {
			rb.NumFound--
			continue
		}
		docs = append(docs, d)
	}
	rb.Response.Add(keyResponse, &result.DocList{
		NumFound: rb.NumFound,
		Start:    rb.Req.Start(),
		MaxScore: rb.MaxScore,
		Docs:     docs,
	})
}
