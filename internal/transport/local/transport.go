// Package local routes shard requests to in-process handlers.
package local

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kailas-cloud/distsearch/internal/domain"
	"github.com/kailas-cloud/distsearch/internal/domain/namedlist"
	"github.com/kailas-cloud/distsearch/internal/domain/params"
	"github.com/kailas-cloud/distsearch/internal/usecase/search"
)

// Transport maps shard names to the handlers serving them.
type Transport struct {
	mu     sync.RWMutex
	shards map[string]search.RequestHandler
}

// New creates an empty transport.
func New() *Transport {
	return &Transport{shards: make(map[string]search.RequestHandler)}
}

// Register serves a shard name with h, replacing any previous handler.
func (t *Transport) Register(name string, h search.RequestHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shards[name] = h
}

// Names returns registered shard names in sorted order.
func (t *Transport) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.shards))
	for n := range t.shards {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Send hands the shard a private copy of the params.
func (t *Transport) Send(ctx context.Context, shard string, p *params.Params) (*namedlist.NamedList, error) {
	t.mu.RLock()
	h, ok := t.shards[shard]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownShard, shard)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("send to %s: %w", shard, err)
	}
	rsp, err := h.Handle(ctx, p.Clone())
	if err != nil {
		return nil, fmt.Errorf("shard %s: %w", shard, err)
	}
	return rsp, nil
}
