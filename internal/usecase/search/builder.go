package search

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/distsearch/internal/domain/namedlist"
	"github.com/kailas-cloud/distsearch/internal/domain/params"
	"github.com/kailas-cloud/distsearch/internal/domain/search/request"
	"github.com/kailas-cloud/distsearch/internal/domain/search/result"
	"github.com/kailas-cloud/distsearch/internal/domain/shard"
)

// ResponseBuilder is the per-request state threaded through every component.
// Exactly one goroutine owns it.
type ResponseBuilder struct {
	RequestID string
	Params    *params.Params
	// Req is the validated query, filled by the query component's Prepare.
	Req   request.Request
	Stage Stage

	Components []Component
	Shards     []string
	IsDistrib  bool
	Tolerant   bool
	UniqueKey  string

	Outgoing []*shard.Request
	Finished []*shard.Request

	// ResultIDs maps document key to its merged ShardDoc.
	ResultIDs map[string]*shard.Doc
	// ResponseDocs holds final rows by position; a nil slot is still unfilled.
	ResponseDocs []*result.Document
	NumFound     int64
	MaxScore     *float64

	// Hits and DocSet carry local execution results to later components.
	Hits   *result.Hits
	DocSet *roaring.Bitmap
	// NeedDocSet asks local execution for the full match set even when only
	// stored fields are fetched.
	NeedDocSet bool

	Response *namedlist.NamedList
	Header   *namedlist.NamedList

	partial bool
	state   map[string]any
	logger  *zap.Logger
}

// NewResponseBuilder creates a builder for one request.
func NewResponseBuilder(p *params.Params, components []Component, logger *zap.Logger) *ResponseBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &ResponseBuilder{
		RequestID:  id,
		Params:     p,
		Components: components,
		ResultIDs:  map[string]*shard.Doc{},
		Response:   namedlist.New(4),
		Header:     namedlist.New(4),
		state:      map[string]any{},
		logger:     logger.With(zap.String("search_id", id)),
	}
}

// Logger returns the request-scoped logger.
func (rb *ResponseBuilder) Logger() *zap.Logger { return rb.logger }

// AddRequest queues a shard request and lets every other component modify it,
// unless the request is private to its creator.
func (rb *ResponseBuilder) AddRequest(from Component, req *shard.Request) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	rb.Outgoing = append(rb.Outgoing, req)
	if req.Purpose.Has(shard.PurposePrivate) {
		return
	}
	for _, c := range rb.Components {
		if c != from {
			c.ModifyRequest(rb, from, req)
		}
	}
}

// ShardIndex returns the position of a shard in rb.Shards, or -1.
func (rb *ResponseBuilder) ShardIndex(name string) int {
	for i, s := range rb.Shards {
		if s == name {
			return i
		}
	}
	return -1
}

// SetPartial flags the response as incomplete.
func (rb *ResponseBuilder) SetPartial() { rb.partial = true }

// Partial reports whether any shard or local search fell short.
func (rb *ResponseBuilder) Partial() bool { return rb.partial }

// State returns per-request component state stored under key.
func (rb *ResponseBuilder) State(key string) any { return rb.state[key] }

// SetState stores per-request component state; nil releases it.
func (rb *ResponseBuilder) SetState(key string, v any) {
	if v == nil {
		delete(rb.state, key)
		return
	}
	rb.state[key] = v
}
