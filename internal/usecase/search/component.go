package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/kailas-cloud/distsearch/internal/domain"
	"github.com/kailas-cloud/distsearch/internal/domain/shard"
)

// Stage is one coordinated round of the distributed protocol.
type Stage int

// Protocol stages in execution order.
const (
	StageStart        Stage = 0
	StageParseQuery   Stage = 1000
	StageTopGroups    Stage = 1500
	StageExecuteQuery Stage = 2000
	StageGetFields    Stage = 3000
	StageDone         Stage = math.MaxInt
)

func (s Stage) String() string {
	switch s {
	case StageStart:
		return "START"
	case StageParseQuery:
		return "PARSE_QUERY"
	case StageTopGroups:
		return "TOP_GROUPS"
	case StageExecuteQuery:
		return "EXECUTE_QUERY"
	case StageGetFields:
		return "GET_FIELDS"
	case StageDone:
		return "DONE"
	}
	return "STAGE_" + strconv.Itoa(int(s))
}

// Component is one step of the search pipeline. Prepare runs on every
// component before any Process. In distributed mode the coordinator instead
// drives DistributedProcess, ModifyRequest, HandleResponses and FinishStage.
//
// Components are shared by concurrent requests and must keep per-request
// state on the ResponseBuilder.
type Component interface {
	Name() string
	Prepare(ctx context.Context, rb *ResponseBuilder) error
	Process(ctx context.Context, rb *ResponseBuilder) error
	// DistributedProcess queues shard requests for rb.Stage and returns the
	// next stage this component still needs.
	DistributedProcess(ctx context.Context, rb *ResponseBuilder) (Stage, error)
	// ModifyRequest lets a component piggy-back on a request queued by another.
	ModifyRequest(rb *ResponseBuilder, who Component, req *shard.Request)
	HandleResponses(ctx context.Context, rb *ResponseBuilder, req *shard.Request) error
	FinishStage(ctx context.Context, rb *ResponseBuilder) error
}

// BaseComponent provides no-op hooks. Embed it and override what you need.
type BaseComponent struct{}

func (BaseComponent) Prepare(context.Context, *ResponseBuilder) error { return nil }

func (BaseComponent) Process(context.Context, *ResponseBuilder) error { return nil }

func (BaseComponent) DistributedProcess(context.Context, *ResponseBuilder) (Stage, error) {
	return StageDone, nil
}

func (BaseComponent) ModifyRequest(*ResponseBuilder, Component, *shard.Request) {}

func (BaseComponent) HandleResponses(context.Context, *ResponseBuilder, *shard.Request) error {
	return nil
}

func (BaseComponent) FinishStage(context.Context, *ResponseBuilder) error { return nil }

// Deps carries what a component constructor may need.
type Deps struct {
	// Core is the local index; nil on a pure coordinator.
	Core Core
	// UniqueKey names the document key field across all shards.
	UniqueKey string
	Logger    *zap.Logger
}

// Constructor builds a component.
type Constructor func(deps Deps) (Component, error)

// Registry maps component names to constructors.
type Registry struct {
	ctors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: map[string]Constructor{}}
}

// Register adds or replaces a constructor.
func (r *Registry) Register(name string, ctor Constructor) {
	r.ctors[name] = ctor
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build instantiates the named components in order.
func (r *Registry) Build(names []string, deps Deps) ([]Component, error) {
	out := make([]Component, 0, len(names))
	for _, n := range names {
		ctor, ok := r.ctors[n]
		if !ok {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownComponent, n)
		}
		c, err := ctor(deps)
		if err != nil {
			return nil, fmt.Errorf("build component %q: %w", n, err)
		}
		out = append(out, c)
	}
	return out, nil
}
