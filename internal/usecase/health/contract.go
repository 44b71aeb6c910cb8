package health

import (
	"context"

	"github.com/kailas-cloud/distsearch/internal/domain/namedlist"
	"github.com/kailas-cloud/distsearch/internal/domain/params"
)

// StorePinger checks response cache store availability.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// ShardSender reaches a shard by name.
type ShardSender interface {
	Send(ctx context.Context, shard string, p *params.Params) (*namedlist.NamedList, error)
}
