package shard

import (
	"strings"
	"time"

	"github.com/kailas-cloud/distsearch/internal/domain/namedlist"
	"github.com/kailas-cloud/distsearch/internal/domain/params"
)

// Purpose flags say which phase of work a shard request carries.
type Purpose uint32

const (
	PurposePrivate Purpose = 1 << iota
	PurposeGetTermDFs
	PurposeGetTopIDs
	PurposeRefineTopIDs
	PurposeGetFacets
	PurposeRefineFacets
	PurposeGetFields
	PurposeGetHighlights
	PurposeGetDebug
	PurposeGetStats
	PurposeGetTerms
	PurposeGetTopGroups
)

var purposeNames = []struct {
	p    Purpose
	name string
}{
	{PurposePrivate, "PRIVATE"},
	{PurposeGetTermDFs, "GET_TERM_DFS"},
	{PurposeGetTopIDs, "GET_TOP_IDS"},
	{PurposeRefineTopIDs, "REFINE_TOP_IDS"},
	{PurposeGetFacets, "GET_FACETS"},
	{PurposeRefineFacets, "REFINE_FACETS"},
	{PurposeGetFields, "GET_FIELDS"},
	{PurposeGetHighlights, "GET_HIGHLIGHTS"},
	{PurposeGetDebug, "GET_DEBUG"},
	{PurposeGetStats, "GET_STATS"},
	{PurposeGetTerms, "GET_TERMS"},
	{PurposeGetTopGroups, "GET_TOP_GROUPS"},
}

// Has reports whether any bit of flag is set.
func (p Purpose) Has(flag Purpose) bool { return p&flag != 0 }

func (p Purpose) String() string {
	if p == 0 {
		return "NONE"
	}
	var parts []string
	for _, pn := range purposeNames {
		if p.Has(pn.p) {
			parts = append(parts, pn.name)
		}
	}
	return strings.Join(parts, "|")
}

// Request is one logical request fanned out to one or more shards.
type Request struct {
	ID      string
	Purpose Purpose
	// Shards lists the target shards; nil means every shard of the query.
	Shards []string
	// ActualShards is resolved by the coordinator right before dispatch.
	ActualShards []string
	Params       *params.Params
	Responses    []*Response
}

// NewRequest creates a request with an empty parameter set.
func NewRequest(purpose Purpose, p *params.Params) *Request {
	if p == nil {
		p = params.New()
	}
	return &Request{Purpose: purpose, Params: p}
}

// TargetsOnly reports whether the request goes to exactly one given shard.
func (r *Request) TargetsOnly(name string) bool {
	return len(r.Shards) == 1 && r.Shards[0] == name
}

// Response is the outcome of a Request on one shard.
type Response struct {
	Shard   string
	Request *Request
	Payload *namedlist.NamedList
	Err     error
	Elapsed time.Duration
}

// OK reports whether the shard answered with a payload.
func (r *Response) OK() bool { return r != nil && r.Err == nil && r.Payload != nil }

// Section returns a top-level payload section as a list, or nil.
func (r *Response) Section(name string) *namedlist.NamedList {
	if !r.OK() {
		return nil
	}
	return r.Payload.GetList(name)
}

// Doc is the per-document record used while merging ranked ids across shards.
type Doc struct {
	ID         string
	Shard      string
	ShardIndex int
	Score      *float64
	// OrderInShard is the row index within its shard's response.
	OrderInShard int
	// SortValues maps sort field to the shard's values for every returned row.
	SortValues         *namedlist.NamedList
	PositionInResponse int
}

// SortValue returns this document's value for a sort field, or nil.
func (d *Doc) SortValue(field string) any {
	vals, ok := d.SortValues.Get(field).([]any)
	if !ok || d.OrderInShard >= len(vals) {
		return nil
	}
	return vals[d.OrderInShard]
}
