package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/distsearch/internal/domain"
	"github.com/kailas-cloud/distsearch/internal/domain/namedlist"
	"github.com/kailas-cloud/distsearch/internal/domain/params"
	"github.com/kailas-cloud/distsearch/internal/domain/shard"
)

// --- Mocks ---

// mockTransport answers every shard with its name, after an optional delay.
type mockTransport struct {
	mu      sync.Mutex
	delays  map[string]time.Duration
	errs    map[string]error
	calls   []string
	active  int
	maxSeen int
}

func (m *mockTransport) Send(ctx context.Context, name string, p *params.Params) (*namedlist.NamedList, error) {
	m.mu.Lock()
	m.calls = append(m.calls, name)
	m.active++
	if m.active > m.maxSeen {
		m.maxSeen = m.active
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	select {
	case <-time.After(m.delays[name]):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := m.errs[name]; err != nil {
		return nil, err
	}
	return namedlist.Of("shard", name, "isShard", p.Get(params.IsShard)), nil
}

// stagedComponent queues one request at each of its stages and records
// everything the handler calls.
type stagedComponent struct {
	BaseComponent
	name     string
	stages   []Stage
	private  bool
	modified []string
	handled  [][]string
	finished []Stage
}

func (c *stagedComponent) Name() string { return c.name }

func (c *stagedComponent) DistributedProcess(_ context.Context, rb *ResponseBuilder) (Stage, error) {
	for _, s := range c.stages {
		if rb.Stage == s {
			purpose := shard.PurposeGetTopIDs
			if c.private {
				purpose |= shard.PurposePrivate
			}
			rb.AddRequest(c, shard.NewRequest(purpose, params.New()))
		}
	}
	for _, s := range c.stages {
		if s > rb.Stage {
			return s, nil
		}
	}
	return StageDone, nil
}

func (c *stagedComponent) ModifyRequest(_ *ResponseBuilder, who Component, _ *shard.Request) {
	c.modified = append(c.modified, who.Name())
}

func (c *stagedComponent) HandleResponses(_ context.Context, _ *ResponseBuilder, sreq *shard.Request) error {
	var order []string
	for _, r := range sreq.Responses {
		order = append(order, r.Shard)
	}
	c.handled = append(c.handled, order)
	return nil
}

func (c *stagedComponent) FinishStage(_ context.Context, rb *ResponseBuilder) error {
	c.finished = append(c.finished, rb.Stage)
	return nil
}

// --- Tests ---

func TestHandler_StagesFollowMinimum(t *testing.T) {
	a := &stagedComponent{name: "a", stages: []Stage{StageExecuteQuery, StageGetFields}}
	b := &stagedComponent{name: "b", stages: []Stage{StageParseQuery}}
	h := NewHandler([]Component{a, b}, &mockTransport{}, Options{Shards: []string{"s1"}}, nil)

	if _, err := h.Handle(context.Background(), params.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Stage{StageStart, StageParseQuery, StageExecuteQuery, StageGetFields}
	if len(a.finished) != len(want) {
		t.Fatalf("expected stages %v, got %v", want, a.finished)
	}
	for i := range want {
		if a.finished[i] != want[i] {
			t.Errorf("stage %d: expected %s, got %s", i, want[i], a.finished[i])
		}
	}
}

func TestHandler_ModifyRequestSkipsCreatorAndPrivate(t *testing.T) {
	a := &stagedComponent{name: "a", stages: []Stage{StageExecuteQuery}}
	b := &stagedComponent{name: "b", stages: []Stage{StageGetFields}, private: true}
	h := NewHandler([]Component{a, b}, &mockTransport{}, Options{Shards: []string{"s1"}}, nil)

	if _, err := h.Handle(context.Background(), params.New()); err != nil {
		t.Fatal(err)
	}
	if len(a.modified) != 0 {
		t.Errorf("private request must not be offered to others, got %v", a.modified)
	}
	if len(b.modified) != 1 || b.modified[0] != "a" {
		t.Errorf("expected b to see a's request once, got %v", b.modified)
	}
}

func TestHandler_ResponsesInShardOrder(t *testing.T) {
	tr := &mockTransport{delays: map[string]time.Duration{"s1": 30 * time.Millisecond, "s2": 10 * time.Millisecond}}
	a := &stagedComponent{name: "a", stages: []Stage{StageExecuteQuery}}
	h := NewHandler([]Component{a}, tr, Options{Shards: []string{"s1", "s2", "s3"}}, nil)

	if _, err := h.Handle(context.Background(), params.New()); err != nil {
		t.Fatal(err)
	}
	if len(a.handled) != 1 {
		t.Fatalf("expected one handled request, got %d", len(a.handled))
	}
	got := a.handled[0]
	if len(got) != 3 || got[0] != "s1" || got[1] != "s2" || got[2] != "s3" {
		t.Errorf("expected canonical shard order, got %v", got)
	}
}

func TestHandler_BoundedParallelism(t *testing.T) {
	delays := map[string]time.Duration{}
	shards := []string{"s1", "s2", "s3", "s4", "s5", "s6"}
	for _, s := range shards {
		delays[s] = 5 * time.Millisecond
	}
	tr := &mockTransport{delays: delays}
	a := &stagedComponent{name: "a", stages: []Stage{StageExecuteQuery}}
	h := NewHandler([]Component{a}, tr, Options{Shards: shards, MaxParallelShards: 2}, nil)

	if _, err := h.Handle(context.Background(), params.New()); err != nil {
		t.Fatal(err)
	}
	if tr.maxSeen > 2 {
		t.Errorf("expected at most 2 concurrent sends, got %d", tr.maxSeen)
	}
	if len(tr.calls) != len(shards) {
		t.Errorf("expected %d sends, got %d", len(shards), len(tr.calls))
	}
}

func TestHandler_ShardFailure(t *testing.T) {
	tr := &mockTransport{errs: map[string]error{"s2": errors.New("boom")}}
	a := &stagedComponent{name: "a", stages: []Stage{StageExecuteQuery}}
	h := NewHandler([]Component{a}, tr, Options{Shards: []string{"s1", "s2"}}, nil)

	_, err := h.Handle(context.Background(), params.New())
	if !errors.Is(err, domain.ErrServerError) || !errors.Is(err, domain.ErrShardFailure) {
		t.Fatalf("expected a wrapped shard failure, got %v", err)
	}

	rsp, err := h.Handle(context.Background(), params.Of(params.ShardsTolerant, "true"))
	if err != nil {
		t.Fatalf("tolerant request must succeed, got %v", err)
	}
	if rsp.GetList("responseHeader").Get("partialResults") != true {
		t.Error("expected partialResults in the header")
	}
}

func TestHandler_ShardTimeout(t *testing.T) {
	tr := &mockTransport{delays: map[string]time.Duration{"s1": time.Second}}
	a := &stagedComponent{name: "a", stages: []Stage{StageExecuteQuery}}
	h := NewHandler([]Component{a}, tr, Options{Shards: []string{"s1"}, ShardTimeout: 10 * time.Millisecond, Tolerant: true}, nil)

	rsp, err := h.Handle(context.Background(), params.New())
	if err != nil {
		t.Fatal(err)
	}
	if rsp.GetList("responseHeader").Get("partialResults") != true {
		t.Error("a timed out shard must mark the response partial")
	}
}

func TestHandler_ShardParamsOverrideTarget(t *testing.T) {
	tr := &mockTransport{}
	a := &stagedComponent{name: "a", stages: []Stage{StageExecuteQuery}}
	h := NewHandler([]Component{a}, tr, Options{Shards: []string{"s1"}}, nil)

	if _, err := h.Handle(context.Background(), params.Of(params.Shards, "x, y")); err != nil {
		t.Fatal(err)
	}
	if len(tr.calls) != 2 {
		t.Errorf("expected the shards param to pick x and y, got %v", tr.calls)
	}
}

func TestHandler_LocalWhenShardRequest(t *testing.T) {
	a := &stagedComponent{name: "a", stages: []Stage{StageExecuteQuery}}
	h := NewHandler([]Component{a}, nil, Options{Shards: []string{"s1"}}, nil)

	if _, err := h.Handle(context.Background(), params.Of(params.IsShard, "true")); err != nil {
		t.Fatalf("shard requests run locally, got %v", err)
	}
	if len(a.finished) != 0 {
		t.Error("local execution must not run distributed stages")
	}

	_, err := h.Handle(context.Background(), params.New())
	if !errors.Is(err, domain.ErrServerError) {
		t.Errorf("expected ErrServerError without a transport, got %v", err)
	}
}

func TestResponseBuilder_State(t *testing.T) {
	rb := NewResponseBuilder(params.New(), nil, nil)
	rb.SetState("k", 1)
	if rb.State("k") != 1 {
		t.Fatal("state not stored")
	}
	rb.SetState("k", nil)
	if rb.State("k") != nil {
		t.Error("nil must release state")
	}
	if rb.ShardIndex("nope") != -1 {
		t.Error("unknown shard index must be -1")
	}
}
