package search

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kailas-cloud/distsearch/internal/domain/namedlist"
	"github.com/kailas-cloud/distsearch/internal/domain/params"
	"github.com/kailas-cloud/distsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/distsearch/internal/domain/search/request"
	"github.com/kailas-cloud/distsearch/internal/domain/search/result"
)

// Core is a shard's local single-node index.
type Core interface {
	// UniqueKey names the document key field.
	UniqueKey() string
	Search(ctx context.Context, req *request.Request) (*result.Hits, error)
	// Fetch returns copies of stored documents in ids order, skipping unknown keys.
	Fetch(ctx context.Context, ids []string) ([]*result.Document, error)
	// Values returns a document's stored values for field.
	Values(doc uint32, field string) []any
	// Terms returns the indexed terms of field in lexical order.
	Terms(field string) []string
	TermDocs(field, term string) *roaring.Bitmap
	// FieldDocs returns documents with any value in field.
	FieldDocs(field string) *roaring.Bitmap
	Match(c filter.Condition) *roaring.Bitmap
	NumDocs() uint64
}

// Transport sends one shard its request and returns the payload.
type Transport interface {
	Send(ctx context.Context, shard string, p *params.Params) (*namedlist.NamedList, error)
}
