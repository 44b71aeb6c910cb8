// Package cluster wires shard cores, their handlers and the coordinator.
package cluster

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/distsearch/internal/domain"
	"github.com/kailas-cloud/distsearch/internal/transport/local"
	"github.com/kailas-cloud/distsearch/internal/usecase/search"
	"github.com/kailas-cloud/distsearch/internal/usecase/search/facet"
	"github.com/kailas-cloud/distsearch/internal/usecase/search/query"
)

// DefaultComponents is the component chain used when none is configured.
var DefaultComponents = []string{query.Name, facet.Name}

// Shard is one named local core.
type Shard struct {
	Name string
	Core search.Core
}

// Options configures a cluster.
type Options struct {
	Components  []string
	UniqueKey   string
	DefaultRows int
	Handler     search.Options
}

// Cluster is a coordinator in front of in-process shards.
type Cluster struct {
	Coordinator *search.Handler
	Transport   *local.Transport
	shards      []Shard
	handlers    map[string]*search.Handler
}

// NewRegistry returns a registry with every built-in component.
func NewRegistry(defaultRows int) *search.Registry {
	r := search.NewRegistry()
	r.Register(query.Name, query.Constructor(defaultRows))
	r.Register(facet.Name, facet.Constructor)
	return r
}

// New builds one handler per shard and a coordinator fanning out to all of
// them in the given order.
func New(shards []Shard, opts Options, logger *zap.Logger) (*Cluster, error) {
	if len(shards) == 0 {
		return nil, domain.ErrNoShards
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	names := opts.Components
	if len(names) == 0 {
		names = DefaultComponents
	}
	registry := NewRegistry(opts.DefaultRows)

	c := &Cluster{
		Transport: local.New(),
		shards:    shards,
		handlers:  make(map[string]*search.Handler, len(shards)),
	}
	shardNames := make([]string, 0, len(shards))
	for _, s := range shards {
		if _, dup := c.handlers[s.Name]; dup {
			return nil, fmt.Errorf("duplicate shard %q", s.Name)
		}
		comps, err := registry.Build(names, search.Deps{
			Core:      s.Core,
			UniqueKey: opts.UniqueKey,
			Logger:    logger.With(zap.String("shard", s.Name)),
		})
		if err != nil {
			return nil, fmt.Errorf("shard %s: %w", s.Name, err)
		}
		h := search.NewHandler(comps, nil, search.Options{}, logger.With(zap.String("shard", s.Name)))
		c.handlers[s.Name] = h
		c.Transport.Register(s.Name, h)
		shardNames = append(shardNames, s.Name)
	}

	comps, err := registry.Build(names, search.Deps{UniqueKey: opts.UniqueKey, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	hopts := opts.Handler
	if len(hopts.Shards) == 0 {
		hopts.Shards = shardNames
	}
	c.Coordinator = search.NewHandler(comps, c.Transport, hopts, logger)
	return c, nil
}

// Shards returns the shards in configured order.
func (c *Cluster) Shards() []Shard { return c.shards }

// ShardHandler returns the handler serving one shard, or nil.
func (c *Cluster) ShardHandler(name string) *search.Handler { return c.handlers[name] }
