package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/distsearch/internal/domain"
	"github.com/kailas-cloud/distsearch/internal/domain/namedlist"
	"github.com/kailas-cloud/distsearch/internal/domain/params"
	"github.com/kailas-cloud/distsearch/internal/domain/shard"
	"github.com/kailas-cloud/distsearch/internal/logger"
	"github.com/kailas-cloud/distsearch/internal/metrics"
)

// Default coordinator settings.
const (
	DefaultMaxParallelShards = 8
	DefaultShardTimeout      = 5 * time.Second
)

// Options tunes a Handler.
type Options struct {
	// MaxParallelShards bounds concurrent shard calls within one round.
	MaxParallelShards int
	ShardTimeout      time.Duration
	// Tolerant is the default for shards.tolerant.
	Tolerant bool
	// Shards is the default shard list when a request names none.
	Shards []string
}

// Handler runs a component chain locally or drives the staged distributed
// protocol across shards.
type Handler struct {
	components []Component
	transport  Transport
	opts       Options
	logger     *zap.Logger
}

// NewHandler creates a handler. transport may be nil for shard-only handlers.
func NewHandler(components []Component, transport Transport, opts Options, logger *zap.Logger) *Handler {
	if opts.MaxParallelShards <= 0 {
		opts.MaxParallelShards = DefaultMaxParallelShards
	}
	if opts.ShardTimeout <= 0 {
		opts.ShardTimeout = DefaultShardTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{components: components, transport: transport, opts: opts, logger: logger}
}

// Handle executes one request and returns the response body.
func (h *Handler) Handle(ctx context.Context, p *params.Params) (*namedlist.NamedList, error) {
	start := time.Now()
	rb := NewResponseBuilder(p, h.components, logger.FromContextOr(ctx, h.logger))

	var err error
	if rb.Tolerant, err = p.GetBool(params.ShardsTolerant, h.opts.Tolerant); err != nil {
		return nil, err
	}
	rb.Shards = h.shardsFor(p)
	isShard := p.Bool(params.IsShard, false)
	distrib := p.Bool(params.Distrib, true)
	rb.IsDistrib = len(rb.Shards) > 0 && distrib && !isShard

	for _, c := range h.components {
		if err := c.Prepare(ctx, rb); err != nil {
			return nil, fmt.Errorf("prepare %s: %w", c.Name(), err)
		}
	}

	if rb.IsDistrib {
		if h.transport == nil {
			return nil, domain.ServerErrorf("distributed request without a shard transport")
		}
		if err := h.distributed(ctx, rb); err != nil {
			return nil, err
		}
	} else {
		for _, c := range h.components {
			if err := c.Process(ctx, rb); err != nil {
				return nil, fmt.Errorf("process %s: %w", c.Name(), err)
			}
		}
	}

	rb.Header.Set("status", 0)
	rb.Header.Set("QTime", time.Since(start).Milliseconds())
	if rb.Partial() {
		rb.Header.Set("partialResults", true)
		if rb.IsDistrib {
			metrics.PartialResultsTotal.Inc()
		}
	}
	out := namedlist.New(rb.Response.Len() + 1)
	out.Add("responseHeader", rb.Header)
	rb.Response.Each(func(name string, null bool, v any) {
		if null {
			out.AddNull(v)
			return
		}
		out.Add(name, v)
	})
	return out, nil
}

func (h *Handler) shardsFor(p *params.Params) []string {
	s := p.Get(params.Shards)
	if s == "" {
		return h.opts.Shards
	}
	var out []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// distributed advances every component through the stages until all of them
// report StageDone.
func (h *Handler) distributed(ctx context.Context, rb *ResponseBuilder) error {
	next := StageStart
	for {
		rb.Stage = next
		next = StageDone
		metrics.SearchStagesTotal.WithLabelValues(rb.Stage.String()).Inc()
		rb.Logger().Debug("search stage", zap.Stringer("stage", rb.Stage))

		for _, c := range h.components {
			s, err := c.DistributedProcess(ctx, rb)
			if err != nil {
				return fmt.Errorf("distributed process %s: %w", c.Name(), err)
			}
			if s < next {
				next = s
			}
		}

		// Handling responses may queue follow-up requests within the same stage.
		for len(rb.Outgoing) > 0 {
			batch := rb.Outgoing
			rb.Outgoing = nil
			h.dispatch(ctx, rb, batch)

			for _, sreq := range batch {
				if err := h.checkShardErrors(rb, sreq); err != nil {
					return err
				}
				rb.Finished = append(rb.Finished, sreq)
				for _, c := range h.components {
					if err := c.HandleResponses(ctx, rb, sreq); err != nil {
						return fmt.Errorf("handle responses %s: %w", c.Name(), err)
					}
				}
			}
		}

		for _, c := range h.components {
			if err := c.FinishStage(ctx, rb); err != nil {
				return fmt.Errorf("finish stage %s: %w", c.Name(), err)
			}
		}
		if next == StageDone {
			return nil
		}
	}
}

// dispatch sends every request of a round to its shards with bounded
// parallelism and returns once all of them have a response. Each response
// lands in the slot of its shard, so later merges see canonical shard order
// regardless of completion order.
func (h *Handler) dispatch(ctx context.Context, rb *ResponseBuilder, batch []*shard.Request) {
	var g errgroup.Group
	g.SetLimit(h.opts.MaxParallelShards)

	for _, sreq := range batch {
		sreq.ActualShards = sreq.Shards
		if sreq.ActualShards == nil {
			sreq.ActualShards = rb.Shards
		}
		sreq.Responses = make([]*shard.Response, len(sreq.ActualShards))
		for i, name := range sreq.ActualShards {
			g.Go(func() error {
				sreq.Responses[i] = h.send(ctx, sreq, name)
				return nil
			})
		}
	}
	_ = g.Wait()
}

func (h *Handler) send(ctx context.Context, sreq *shard.Request, name string) *shard.Response {
	p := sreq.Params.Clone()
	p.Remove(params.Shards)
	p.Set(params.Distrib, "false")
	p.Set(params.IsShard, "true")
	p.Set(params.ShardURL, name)

	ctx, cancel := context.WithTimeout(ctx, h.opts.ShardTimeout)
	defer cancel()

	start := time.Now()
	payload, err := h.transport.Send(ctx, name, p)
	elapsed := time.Since(start)

	purpose := sreq.Purpose.String()
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ShardRequestsTotal.WithLabelValues(purpose, status).Inc()
	metrics.ShardRequestDuration.WithLabelValues(purpose).Observe(elapsed.Seconds())

	return &shard.Response{Shard: name, Request: sreq, Payload: payload, Err: err, Elapsed: elapsed}
}

// checkShardErrors promotes shard failures to a server error unless the
// request tolerates them, in which case the response is flagged partial.
func (h *Handler) checkShardErrors(rb *ResponseBuilder, sreq *shard.Request) error {
	for _, srsp := range sreq.Responses {
		if srsp.Err == nil {
			continue
		}
		shardErr := domain.NewShardError(srsp.Shard, sreq.Purpose.String(), srsp.Err)
		if !rb.Tolerant {
			return fmt.Errorf("%w: %w", domain.ErrServerError, shardErr)
		}
		rb.Logger().Warn("shard request failed",
			zap.String("shard", srsp.Shard),
			zap.Stringer("purpose", sreq.Purpose),
			zap.Error(srsp.Err),
		)
		rb.SetPartial()
	}
	return nil
}
