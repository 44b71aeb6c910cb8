// Package facet implements faceting: local term, query, range and pivot counts
// on a shard, and count merging with refinement on the coordinator.
package facet

import (
	"context"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/distsearch/internal/domain"
	"github.com/kailas-cloud/distsearch/internal/domain/namedlist"
	"github.com/kailas-cloud/distsearch/internal/domain/params"
	"github.com/kailas-cloud/distsearch/internal/domain/shard"
	"github.com/kailas-cloud/distsearch/internal/metrics"
	"github.com/kailas-cloud/distsearch/internal/usecase/search"
)

// Name is the registry name of the component.
const Name = "facet"

const (
	stateOptions = "facet.options"
	stateInfo    = "facet.info"

	termsSuffix = "__terms"
)

// Component computes facet counts.
type Component struct {
	search.BaseComponent
	core search.Core
}

// New creates the facet component. core may be nil on a pure coordinator.
func New(core search.Core) *Component {
	return &Component{core: core}
}

// Constructor adapts New to the component registry.
func Constructor(d search.Deps) (search.Component, error) {
	return New(d.Core), nil
}

// Name implements search.Component.
func (c *Component) Name() string { return Name }

func options(rb *search.ResponseBuilder) *Options {
	opts, _ := rb.State(stateOptions).(*Options)
	if opts == nil {
		return &Options{}
	}
	return opts
}

// Prepare parses facet parameters and asks the query for its full document set.
func (c *Component) Prepare(_ context.Context, rb *search.ResponseBuilder) error {
	opts, err := ParseOptions(rb.Params)
	if err != nil {
		return err
	}
	rb.SetState(stateOptions, opts)
	if opts.Enabled {
		rb.NeedDocSet = true
	}
	return nil
}

// Process computes facet_counts over the local document set.
func (c *Component) Process(_ context.Context, rb *search.ResponseBuilder) error {
	opts := options(rb)
	if !opts.Enabled {
		return nil
	}
	if c.core == nil {
		return domain.ServerErrorf("no local index to facet")
	}
	docs := rb.DocSet
	if docs == nil {
		docs = roaring.New()
	}
	sf := &simpleFacets{core: c.core, params: rb.Params, docs: docs}
	counts, err := sf.counts(opts)
	if err != nil {
		return err
	}
	rb.Response.Add(keyFacetCounts, counts)
	return nil
}

func (c *Component) info(rb *search.ResponseBuilder) *Info {
	fi, _ := rb.State(stateInfo).(*Info)
	if fi == nil {
		opts := options(rb)
		fi = NewInfo(opts, len(rb.Shards), opts.ShardLimit)
		rb.SetState(stateInfo, fi)
	}
	return fi
}

// ModifyRequest piggy-backs the first counting round on the top-ids request
// and turns faceting off everywhere else.
func (c *Component) ModifyRequest(rb *search.ResponseBuilder, _ search.Component, sreq *shard.Request) {
	opts := options(rb)
	if !opts.Enabled {
		return
	}
	p := sreq.Params
	if !sreq.Purpose.Has(shard.PurposeGetTopIDs) {
		p.Set(ParamFacet, "false")
		return
	}

	sreq.Purpose |= shard.PurposeGetFacets
	fi := c.info(rb)

	p.Remove(ParamMinCount)
	p.Remove(ParamOffset)
	p.Remove(ParamLimit)
	p.Remove(ParamPivot)
	for _, dff := range fi.Fields() {
		p.Remove(params.FieldName(dff.Field, ParamMinCount))
		p.Remove(params.FieldName(dff.Field, ParamOffset))
		p.SetInt(params.FieldName(dff.Field, ParamLimit), dff.InitialLimit)
		if dff.InitialMinCount != 0 {
			p.SetInt(params.FieldName(dff.Field, ParamMinCount), dff.InitialMinCount)
		}
	}
	// Range buckets are pruned after merging.
	for _, rf := range append(append([]RangeFacet(nil), opts.Ranges...), opts.Dates...) {
		p.Remove(params.FieldName(rf.Field, ParamMinCount))
	}
}

// DistributedProcess sends pending refinement terms along with the field
// retrieval round.
func (c *Component) DistributedProcess(_ context.Context, rb *search.ResponseBuilder) (search.Stage, error) {
	if !options(rb).Enabled {
		return search.StageDone, nil
	}
	if rb.Stage < search.StageGetFields {
		return search.StageGetFields, nil
	}
	if rb.Stage == search.StageGetFields {
		c.sendRefinements(rb)
	}
	return search.StageDone, nil
}

func refineCommand(dff *DistributedFieldFacet, termsKey string) string {
	if rest := params.Rest(dff.Raw); rest != "" {
		return "{!" + localTerms + "=$" + termsKey + " " + rest
	}
	return "{!" + localTerms + "=$" + termsKey + "}" + dff.Raw
}

func (c *Component) sendRefinements(rb *search.ResponseBuilder) {
	fi, _ := rb.State(stateInfo).(*Info)
	if fi == nil {
		return
	}
	for s, name := range rb.Shards {
		type refinement struct {
			command, termsKey string
			terms             []string
		}
		var pending []refinement
		for _, dff := range fi.Fields() {
			terms := dff.TakeRefinements(s)
			if len(terms) == 0 {
				continue
			}
			termsKey := dff.Key + termsSuffix
			pending = append(pending, refinement{refineCommand(dff, termsKey), termsKey, terms})
			metrics.FacetRefinementTermsTotal.Add(float64(len(terms)))
		}
		if len(pending) == 0 {
			continue
		}

		var sreq *shard.Request
		for _, out := range rb.Outgoing {
			if out.Purpose.Has(shard.PurposeGetFields) && out.TargetsOnly(name) {
				sreq = out
				break
			}
		}
		isNew := sreq == nil
		if isNew {
			sreq = shard.NewRequest(shard.PurposeRefineFacets, rb.Params.Clone())
			sreq.Shards = []string{name}
			sreq.Params.Remove(params.Start)
			sreq.Params.Remove(params.IDs)
			sreq.Params.SetInt(params.Rows, 0)
		}
		sreq.Purpose |= shard.PurposeRefineFacets

		p := sreq.Params
		p.Set(ParamFacet, "true")
		p.Remove(ParamField)
		p.Remove(ParamQuery)
		p.Remove(ParamRange)
		p.Remove(ParamDate)
		p.Remove(ParamPivot)
		for _, r := range pending {
			p.Add(ParamField, r.command)
			p.Set(r.termsKey, params.JoinEscaped(r.terms, ','))
		}
		rb.Logger().Debug("facet refinement",
			zap.String("shard", name),
			zap.Int("fields", len(pending)),
			zap.Bool("piggyback", !isNew),
		)
		if isNew {
			rb.AddRequest(c, sreq)
		}
	}
}

// HandleResponses merges first-round counts or refined counts.
func (c *Component) HandleResponses(_ context.Context, rb *search.ResponseBuilder, sreq *shard.Request) error {
	if !options(rb).Enabled {
		return nil
	}
	if sreq.Purpose.Has(shard.PurposeGetFacets) {
		if err := c.countFacets(rb, sreq); err != nil {
			return err
		}
	}
	if sreq.Purpose.Has(shard.PurposeRefineFacets) {
		return c.refineFacets(rb, sreq)
	}
	return nil
}

// missingCounts handles a shard that answered without facet_counts.
func missingCounts(rb *search.ResponseBuilder, srsp *shard.Response) error {
	purpose := ""
	if srsp.Request != nil {
		purpose = srsp.Request.Purpose.String()
	}
	err := domain.NewShardError(srsp.Shard, purpose, errors.New("missing facet_counts"))
	if !rb.Tolerant {
		return fmt.Errorf("%w: %w", domain.ErrServerError, err)
	}
	rb.Logger().Warn("shard response without facet counts", zap.String("shard", srsp.Shard))
	rb.SetPartial()
	return nil
}

func (c *Component) countFacets(rb *search.ResponseBuilder, sreq *shard.Request) error {
	fi := c.info(rb)
	for _, srsp := range sreq.Responses {
		if !srsp.OK() {
			continue
		}
		fc := srsp.Section(keyFacetCounts)
		if fc == nil {
			if err := missingCounts(rb, srsp); err != nil {
				return err
			}
			continue
		}
		s := rb.ShardIndex(srsp.Shard)

		fc.GetList(keyFacetQueries).Each(func(key string, _ bool, v any) {
			n, _ := namedlist.Int64(v)
			if i := fi.queries.IndexOf(key, 0); i >= 0 {
				cur, _ := namedlist.Int64(fi.queries.Value(i))
				fi.queries.SetAt(i, cur+n)
				return
			}
			fi.queries.Add(key, n)
		})

		fields := fc.GetList(keyFacetFields)
		for _, dff := range fi.Fields() {
			if list := fields.GetList(dff.Key); list != nil {
				dff.Add(s, list, dff.InitialLimit)
			}
		}

		fi.dates = mergeRanges(fi.dates, fc.GetList(keyFacetDates))
		fi.ranges = mergeRanges(fi.ranges, fc.GetList(keyFacetRanges))
	}

	for _, dff := range fi.Fields() {
		dff.FindRefinements()
	}
	return nil
}

func (c *Component) refineFacets(rb *search.ResponseBuilder, sreq *shard.Request) error {
	fi := c.info(rb)
	for _, srsp := range sreq.Responses {
		if !srsp.OK() {
			continue
		}
		fc := srsp.Section(keyFacetCounts)
		if fc == nil {
			if err := missingCounts(rb, srsp); err != nil {
				return err
			}
			continue
		}
		s := rb.ShardIndex(srsp.Shard)
		fc.GetList(keyFacetFields).Each(func(key string, _ bool, v any) {
			dff := fi.Field(key)
			list, _ := v.(*namedlist.NamedList)
			if dff == nil || list == nil {
				return
			}
			list.Each(func(term string, null bool, cnt any) {
				if null {
					return
				}
				n, _ := namedlist.Int64(cnt)
				if dff.Refine(s, term, n) {
					return
				}
				metrics.FacetProtocolAnomaliesTotal.Inc()
				rb.Logger().Error("refinement returned a term that was not requested",
					zap.String("shard", srsp.Shard),
					zap.String("facet", key),
					zap.String("term", term),
					zap.Error(domain.ErrProtocolAnomaly),
				)
			})
		})
	}
	return nil
}

// FinishStage emits the merged facet_counts once refinement is complete.
func (c *Component) FinishStage(_ context.Context, rb *search.ResponseBuilder) error {
	if rb.Stage != search.StageGetFields || !options(rb).Enabled {
		return nil
	}
	fi := c.info(rb)

	fields := namedlist.New(len(fi.Fields()))
	for _, dff := range fi.Fields() {
		fields.Add(dff.Key, dff.Result())
	}
	dates := fi.dates
	if dates == nil {
		dates = namedlist.New(0)
	}
	for _, rf := range fi.Options.Dates {
		pruneBuckets(dates, rf)
	}
	ranges := fi.ranges
	if ranges == nil {
		ranges = namedlist.New(0)
	}
	for _, rf := range fi.Options.Ranges {
		pruneBuckets(ranges, rf)
	}

	rb.Response.Add(keyFacetCounts, namedlist.Of(
		keyFacetQueries, fi.queries,
		keyFacetFields, fields,
		keyFacetDates, dates,
		keyFacetRanges, ranges,
	))
	rb.SetState(stateInfo, nil)
	return nil
}
