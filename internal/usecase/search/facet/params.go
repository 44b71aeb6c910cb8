package facet

import (
	"strings"

	"github.com/kailas-cloud/distsearch/internal/domain"
	"github.com/kailas-cloud/distsearch/internal/domain/params"
)

// Facet request parameters.
const (
	ParamFacet      = "facet"
	ParamField      = "facet.field"
	ParamQuery      = "facet.query"
	ParamLimit      = "facet.limit"
	ParamOffset     = "facet.offset"
	ParamMinCount   = "facet.mincount"
	ParamSort       = "facet.sort"
	ParamMissing    = "facet.missing"
	ParamPrefix     = "facet.prefix"
	ParamShardLimit = "facet.shard.limit"

	ParamRange        = "facet.range"
	ParamRangeStart   = "facet.range.start"
	ParamRangeEnd     = "facet.range.end"
	ParamRangeGap     = "facet.range.gap"
	ParamRangeOther   = "facet.range.other"
	ParamRangeHardEnd = "facet.range.hardend"

	ParamDate        = "facet.date"
	ParamDateStart   = "facet.date.start"
	ParamDateEnd     = "facet.date.end"
	ParamDateGap     = "facet.date.gap"
	ParamDateOther   = "facet.date.other"
	ParamDateHardEnd = "facet.date.hardend"

	ParamPivot         = "facet.pivot"
	ParamPivotMinCount = "facet.pivot.mincount"
)

// Sort orders for field facets.
const (
	SortCount = "count"
	SortIndex = "index"
)

const (
	defaultLimit         = 100
	defaultPivotMinCount = 1

	localKey   = "key"
	localTerms = "terms"
)

// FieldFacet is one facet.field entry with its effective per-field options.
type FieldFacet struct {
	// Raw is the facet.field value as sent, local params included.
	Raw      string
	Key      string
	Field    string
	// Terms lists the only terms to count, in order; nil counts every term.
	Terms    []string
	Prefix   string
	Limit    int
	Offset   int
	MinCount int
	Sort     string
	Missing  bool
}

// ParseFieldFacet resolves one facet.field value against the request params.
func ParseFieldFacet(p *params.Params, raw string) (FieldFacet, error) {
	lp, body, err := params.ParseLocalParams(raw, p)
	if err != nil {
		return FieldFacet{}, err
	}
	field := strings.TrimSpace(body)
	if field == "" {
		return FieldFacet{}, domain.BadRequestf("empty facet.field %q", raw)
	}
	ff := FieldFacet{Raw: raw, Key: field, Field: field}
	if k := lp[localKey]; k != "" {
		ff.Key = k
	}
	if t, ok := lp[localTerms]; ok {
		ff.Terms = params.SplitEscaped(t, ',')
		if ff.Terms == nil {
			ff.Terms = []string{}
		}
	}

	if ff.Limit, err = p.FieldInt(field, ParamLimit, defaultLimit); err != nil {
		return FieldFacet{}, err
	}
	if ff.Offset, err = p.FieldInt(field, ParamOffset, 0); err != nil {
		return FieldFacet{}, err
	}
	if ff.Offset < 0 {
		return FieldFacet{}, domain.BadRequestf("negative %s for %s", ParamOffset, field)
	}
	if ff.MinCount, err = p.FieldInt(field, ParamMinCount, 0); err != nil {
		return FieldFacet{}, err
	}
	if ff.Missing, err = p.FieldBool(field, ParamMissing, false); err != nil {
		return FieldFacet{}, err
	}
	ff.Prefix = p.FieldParam(field, ParamPrefix, "")

	switch s := strings.ToLower(p.FieldParam(field, ParamSort, "")); s {
	case "":
		ff.Sort = SortIndex
		if ff.Limit > 0 {
			ff.Sort = SortCount
		}
	case SortCount, "true":
		ff.Sort = SortCount
	case SortIndex, "false", "lex":
		ff.Sort = SortIndex
	default:
		return FieldFacet{}, domain.BadRequestf("invalid %s %q for %s", ParamSort, s, field)
	}
	return ff, nil
}

// QueryFacet is one facet.query entry.
type QueryFacet struct {
	Key   string
	Query string
}

// ParseQueryFacet splits an optional {!key=...} prefix off a facet.query value.
func ParseQueryFacet(p *params.Params, raw string) (QueryFacet, error) {
	lp, body, err := params.ParseLocalParams(raw, p)
	if err != nil {
		return QueryFacet{}, err
	}
	qf := QueryFacet{Key: raw, Query: strings.TrimSpace(body)}
	if k := lp[localKey]; k != "" {
		qf.Key = k
	}
	return qf, nil
}

// Options is the parsed facet section of a request.
type Options struct {
	Enabled    bool
	// ShardLimit replaces the derived per-shard limit when >= 0.
	ShardLimit int

	Queries []QueryFacet
	Fields  []FieldFacet
	Ranges  []RangeFacet
	Dates   []RangeFacet
	Pivots  []PivotFacet
}

// ParseOptions parses every facet parameter of p. A request with facet=false
// yields a disabled Options without looking further.
func ParseOptions(p *params.Params) (*Options, error) {
	enabled, err := p.GetBool(ParamFacet, false)
	if err != nil {
		return nil, err
	}
	opts := &Options{Enabled: enabled, ShardLimit: -1}
	if !enabled {
		return opts, nil
	}
	if opts.ShardLimit, err = p.GetInt(ParamShardLimit, -1); err != nil {
		return nil, err
	}
	for _, raw := range p.GetAll(ParamQuery) {
		qf, err := ParseQueryFacet(p, raw)
		if err != nil {
			return nil, err
		}
		opts.Queries = append(opts.Queries, qf)
	}
	for _, raw := range p.GetAll(ParamField) {
		ff, err := ParseFieldFacet(p, raw)
		if err != nil {
			return nil, err
		}
		opts.Fields = append(opts.Fields, ff)
	}
	for _, raw := range p.GetAll(ParamRange) {
		rf, err := parseRangeFacet(p, raw, rangeParams)
		if err != nil {
			return nil, err
		}
		opts.Ranges = append(opts.Ranges, rf)
	}
	for _, raw := range p.GetAll(ParamDate) {
		rf, err := parseRangeFacet(p, raw, dateParams)
		if err != nil {
			return nil, err
		}
		opts.Dates = append(opts.Dates, rf)
	}
	for _, raw := range p.GetAll(ParamPivot) {
		pf, err := parsePivotFacet(p, raw)
		if err != nil {
			return nil, err
		}
		opts.Pivots = append(opts.Pivots, pf)
	}
	return opts, nil
}
