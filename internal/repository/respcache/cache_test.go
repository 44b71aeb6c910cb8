package respcache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/kailas-cloud/distsearch/internal/cluster"
	"github.com/kailas-cloud/distsearch/internal/domain"
	"github.com/kailas-cloud/distsearch/internal/domain/params"
	"github.com/kailas-cloud/distsearch/internal/repository/memindex"
	"github.com/kailas-cloud/distsearch/internal/usecase/search"
)

func TestSelect_CacheMiss(t *testing.T) {
	inner := &mockSelect{body: []byte(`{"n":1}`)}
	c, ms := newTestCache(t, inner)

	var setKey string
	var setTTL time.Duration
	ms.setFn = func(_ context.Context, key string, _ []byte, ttl time.Duration) error {
		setKey, setTTL = key, ttl
		return nil
	}

	body, err := c.Select(context.Background(), params.Of("q", "*:*"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `{"n":1}` {
		t.Fatalf("unexpected body: %s", body)
	}
	if !strings.HasPrefix(setKey, "test:") {
		t.Errorf("expected prefixed key, got %q", setKey)
	}
	if setTTL != time.Minute {
		t.Errorf("expected ttl 1m, got %v", setTTL)
	}
}

func TestSelect_CacheHit(t *testing.T) {
	inner := &mockSelect{body: []byte(`{"n":1}`)}
	c, ms := newTestCache(t, inner)

	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return []byte(`{"n":2}`), nil
	}

	body, err := c.Select(context.Background(), params.Of("q", "*:*"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `{"n":2}` {
		t.Fatalf("expected cached body, got %s", body)
	}
	if inner.calls != 0 {
		t.Errorf("inner select must not run on a hit, ran %d times", inner.calls)
	}
}

func TestSelect_KeyIgnoresParamOrder(t *testing.T) {
	c, _ := newTestCache(t, &mockSelect{})

	a := c.cacheKey(params.Of("q", "x", "rows", "5"))
	b := c.cacheKey(params.Of("rows", "5", "q", "x"))
	if a != b {
		t.Errorf("expected equal keys, got %q and %q", a, b)
	}
	if a == c.cacheKey(params.Of("q", "x", "rows", "6")) {
		t.Error("different params must not share a key")
	}
}

func TestSelect_InnerError(t *testing.T) {
	inner := &mockSelect{err: domain.BadRequestf("bad sort")}
	c, ms := newTestCache(t, inner)

	var setCalled bool
	ms.setFn = func(_ context.Context, _ string, _ []byte, _ time.Duration) error {
		setCalled = true
		return nil
	}

	_, err := c.Select(context.Background(), params.New())
	if !errors.Is(err, domain.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
	if setCalled {
		t.Error("errors must not be cached")
	}
}

func TestSelect_StoreErrorsAreSoft(t *testing.T) {
	inner := &mockSelect{body: []byte(`{}`)}
	c, ms := newTestCache(t, inner)

	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return nil, errors.New("connection reset")
	}
	ms.setFn = func(_ context.Context, _ string, _ []byte, _ time.Duration) error {
		return errors.New("connection reset")
	}

	body, err := c.Select(context.Background(), params.New())
	if err != nil {
		t.Fatalf("store failures must not fail the request: %v", err)
	}
	if string(body) != `{}` {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestSelect_PartialResponsesNotStored(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_cache_total"}, []string{"result"})
	inner := &mockSelect{body: []byte(`{"responseHeader":{"partialResults":true}}`), partial: true}
	ms := &mockKVStore{
		setFn: func(_ context.Context, key string, _ []byte, _ time.Duration) error {
			t.Errorf("partial response stored under %q", key)
			return nil
		},
	}
	c := New(inner, ms, time.Minute, "test:", counter, zap.NewNop())

	for range 2 {
		body, err := c.Select(context.Background(), params.Of("q", "*:*"))
		if err != nil {
			t.Fatal(err)
		}
		if string(body) != string(inner.body) {
			t.Errorf("unexpected body: %s", body)
		}
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("skip")); got != 2 {
		t.Errorf("expected 2 skips, got %v", got)
	}
	if inner.calls != 2 {
		t.Errorf("expected 2 inner calls, got %d", inner.calls)
	}
}

func TestSelect_UnreadableEntryEvicted(t *testing.T) {
	inner := &mockSelect{body: []byte(`{"n":1}`)}
	c, ms := newTestCache(t, inner)

	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return []byte(`{"n":`), nil
	}
	var deleted, stored string
	ms.delFn = func(_ context.Context, key string) error {
		deleted = key
		return nil
	}
	ms.setFn = func(_ context.Context, key string, _ []byte, _ time.Duration) error {
		stored = key
		return nil
	}

	body, err := c.Select(context.Background(), params.Of("q", "*:*"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `{"n":1}` {
		t.Errorf("expected a fresh body, got %s", body)
	}
	if deleted == "" || deleted != stored {
		t.Errorf("expected %q evicted then rewritten, got del=%q set=%q", stored, deleted, stored)
	}
}

// A coordinator configured as tolerant marks a response partial without any
// request param saying so; the cache must still refuse it.
func TestSelect_ConfigTolerantPartialNotCached(t *testing.T) {
	a := memindex.New("id")
	if err := a.Add(map[string]any{"id": "1", "cat": "x"}); err != nil {
		t.Fatal(err)
	}
	cl, err := cluster.New([]cluster.Shard{{Name: "A", Core: a}}, cluster.Options{
		Handler: search.Options{Tolerant: true},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	var stored []string
	ms := &mockKVStore{
		setFn: func(_ context.Context, _ string, value []byte, _ time.Duration) error {
			stored = append(stored, string(value))
			return nil
		},
	}
	c := New(search.New(cl.Coordinator), ms, time.Minute, "test:", nil, zap.NewNop())

	body, err := c.Select(context.Background(), params.Of("q", "*:*", "shards", "A,ghost"))
	if err != nil {
		t.Fatalf("tolerant coordinator must answer: %v", err)
	}
	if !strings.Contains(string(body), `"partialResults":true`) {
		t.Fatalf("expected a partial body, got %s", body)
	}
	if len(stored) != 0 {
		t.Errorf("partial response was cached: %v", stored)
	}

	if _, err := c.Select(context.Background(), params.Of("q", "*:*", "shards", "A")); err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Errorf("expected the complete response cached once, got %d", len(stored))
	}
}
