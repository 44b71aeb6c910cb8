// Package query implements the query component: local ranked search and the
// distributed id merge and field retrieval protocol.
package query

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/distsearch/internal/domain"
	"github.com/kailas-cloud/distsearch/internal/domain/namedlist"
	"github.com/kailas-cloud/distsearch/internal/domain/params"
	"github.com/kailas-cloud/distsearch/internal/domain/search/request"
	"github.com/kailas-cloud/distsearch/internal/domain/search/result"
	"github.com/kailas-cloud/distsearch/internal/domain/shard"
	"github.com/kailas-cloud/distsearch/internal/usecase/search"
)

// Name is the registry name of the component.
const Name = "query"

// DefaultUniqueKey is used when neither the index nor the config names a key field.
const DefaultUniqueKey = "id"

// Response payload keys.
const (
	keyResponse   = "response"
	keySortValues = "sort_values"
	keyGrouped    = "grouped"
	keyShardsInfo = "shards.info"
	keyHeader     = "responseHeader"
)

// Component ranks documents locally and merges ranked ids across shards.
type Component struct {
	search.BaseComponent
	core        search.Core
	uniqueKey   string
	defaultRows int
	logger      *zap.Logger
}

// New creates the query component. core may be nil on a pure coordinator.
func New(core search.Core, uniqueKey string, defaultRows int, logger *zap.Logger) *Component {
	if uniqueKey == "" && core != nil {
		uniqueKey = core.UniqueKey()
	}
	if uniqueKey == "" {
		uniqueKey = DefaultUniqueKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Component{core: core, uniqueKey: uniqueKey, defaultRows: defaultRows, logger: logger}
}

// Constructor adapts New to the component registry.
func Constructor(defaultRows int) search.Constructor {
	return func(d search.Deps) (search.Component, error) {
		return New(d.Core, d.UniqueKey, defaultRows, d.Logger), nil
	}
}

// Name implements search.Component.
func (c *Component) Name() string { return Name }

// Prepare validates the request before any shard is contacted.
func (c *Component) Prepare(_ context.Context, rb *search.ResponseBuilder) error {
	req, err := request.Parse(rb.Params, c.defaultRows)
	if err != nil {
		return err
	}
	rb.Req = req
	rb.UniqueKey = c.uniqueKey
	return nil
}

// Process executes the query against the local index.
func (c *Component) Process(ctx context.Context, rb *search.ResponseBuilder) error {
	if c.core == nil {
		return domain.ServerErrorf("no local index to search")
	}
	if ids := rb.Req.IDs(); len(ids) > 0 {
		return c.processIDs(ctx, rb, ids)
	}
	if rb.Req.Grouping() != nil {
		return c.processGrouped(ctx, rb)
	}

	hits, err := c.core.Search(ctx, &rb.Req)
	if err != nil {
		return fmt.Errorf("%w: local search: %w", domain.ErrServerError, err)
	}
	rb.Hits, rb.DocSet = hits, hits.DocSet
	if hits.Partial {
		rb.SetPartial()
	}

	docs, err := c.renderHits(ctx, rb, hits.Ranked)
	if err != nil {
		return err
	}
	list := &result.DocList{NumFound: hits.NumFound, Start: rb.Req.Start(), Docs: docs}
	if rb.Req.Fields().WantsScore() {
		maxScore := hits.MaxScore
		list.MaxScore = &maxScore
	}
	rb.Response.Add(keyResponse, list)

	if rb.Params.Bool(params.FSV, false) {
		rb.Response.Add(keySortValues, sortValues(rb.Req.Sort(), hits.Ranked))
	}
	return nil
}

// processIDs returns stored documents for an explicit key list, in key order.
func (c *Component) processIDs(ctx context.Context, rb *search.ResponseBuilder, ids []string) error {
	docs, err := c.core.Fetch(ctx, ids)
	if err != nil {
		return fmt.Errorf("%w: fetch ids: %w", domain.ErrServerError, err)
	}
	fl := rb.Req.Fields()
	for _, d := range docs {
		project(d, fl)
	}
	rb.Response.Add(keyResponse, &result.DocList{NumFound: int64(len(docs)), Docs: docs})

	if rb.NeedDocSet {
		req := rb.Req.WithWindow(0, 0)
		hits, err := c.core.Search(ctx, &req)
		if err != nil {
			return fmt.Errorf("%w: local search: %w", domain.ErrServerError, err)
		}
		rb.Hits, rb.DocSet = hits, hits.DocSet
	}
	return nil
}

// renderHits loads stored fields for ranked hits and applies fl.
func (c *Component) renderHits(ctx context.Context, rb *search.ResponseBuilder, hits []result.Hit) ([]*result.Document, error) {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	stored, err := c.core.Fetch(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch hits: %w", domain.ErrServerError, err)
	}
	byID := make(map[string]*result.Document, len(stored))
	for _, d := range stored {
		byID[fmt.Sprint(d.Get(c.uniqueKey))] = d
	}

	fl := rb.Req.Fields()
	out := make([]*result.Document, 0, len(hits))
	for _, h := range hits {
		d, ok := byID[h.ID]
		if !ok {
			continue
		}
		project(d, fl)
		if fl.WantsScore() {
			d.Set(request.ScoreField, h.Score)
		}
		out = append(out, d)
	}
	return out, nil
}

// project drops stored fields the caller did not ask for.
func project(d *result.Document, fl request.FieldList) {
	if fl.WantsAll() {
		return
	}
	var drop []string
	d.Fields().Each(func(name string, _ bool, _ any) {
		if !fl.WantsField(name) {
			drop = append(drop, name)
		}
	})
	for _, name := range drop {
		d.Remove(name)
	}
}

// sortValues renders per-row values of every non-score sort field.
func sortValues(spec []request.SortField, hits []result.Hit) *namedlist.NamedList {
	out := namedlist.New(len(spec))
	for i, sf := range spec {
		if sf.IsScore() {
			continue
		}
		vals := make([]any, len(hits))
		for j, h := range hits {
			if i < len(h.SortValues) {
				vals[j] = h.SortValues[i]
			}
		}
		out.Add(sf.Field, vals)
	}
	return out
}

// DistributedProcess walks the stages of the ranked-id protocol.
func (c *Component) DistributedProcess(_ context.Context, rb *search.ResponseBuilder) (search.Stage, error) {
	if rb.Req.Grouping() != nil {
		return c.groupedDistributedProcess(rb), nil
	}
	switch {
	case rb.Stage < search.StageParseQuery:
		return search.StageParseQuery, nil
	case rb.Stage == search.StageParseQuery:
		return search.StageExecuteQuery, nil
	case rb.Stage < search.StageExecuteQuery:
		return search.StageExecuteQuery, nil
	case rb.Stage == search.StageExecuteQuery:
		c.createMainQuery(rb)
		return search.StageGetFields, nil
	case rb.Stage < search.StageGetFields:
		return search.StageGetFields, nil
	case rb.Stage == search.StageGetFields:
		c.createRetrieveDocs(rb)
		return search.StageDone, nil
	}
	return search.StageDone, nil
}

// HandleResponses merges ids, groups or stored fields depending on purpose.
func (c *Component) HandleResponses(_ context.Context, rb *search.ResponseBuilder, sreq *shard.Request) error {
	switch {
	case sreq.Purpose.Has(shard.PurposeGetTopGroups):
		return c.mergeTopGroups(rb, sreq)
	case sreq.Purpose.Has(shard.PurposeGetTopIDs):
		if rb.Req.Grouping() != nil {
			return c.mergeGroupDocs(rb, sreq)
		}
		return c.mergeIDs(rb, sreq)
	case sreq.Purpose.Has(shard.PurposeGetFields):
		c.returnFields(rb, sreq)
	}
	return nil
}

// FinishStage emits the final document list once fields are retrieved.
func (c *Component) FinishStage(_ context.Context, rb *search.ResponseBuilder) error {
	if rb.Stage != search.StageGetFields {
		return nil
	}
	if rb.Req.Grouping() != nil {
		c.finishGrouped(rb)
		return nil
	}
	c.finishDocs(rb)
	return nil
}
