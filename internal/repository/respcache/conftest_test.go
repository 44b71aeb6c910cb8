package respcache

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/distsearch/internal/db"
	"github.com/kailas-cloud/distsearch/internal/domain/params"
)

type mockSelect struct {
	body    []byte
	partial bool
	err     error
	calls   int
}

func (m *mockSelect) SelectPartial(_ context.Context, _ *params.Params) ([]byte, bool, error) {
	m.calls++
	return m.body, m.partial, m.err
}

// mockKVStore implements the consumer interface for tests.
type mockKVStore struct {
	getFn func(ctx context.Context, key string) ([]byte, error)
	setFn func(ctx context.Context, key string, value []byte, ttl time.Duration) error
	delFn func(ctx context.Context, key string) error
}

func (m *mockKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return nil, db.ErrKeyNotFound
}

func (m *mockKVStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value, ttl)
	}
	return nil
}

func newTestCache(t *testing.T, inner *mockSelect) (*CachedSelect, *mockKVStore) {
	t.Helper()
	ms := &mockKVStore{}
	c := New(inner, ms, time.Minute, "test:", nil, zap.NewNop())
	return c, ms
}

func (m *mockKVStore) Del(ctx context.Context, key string) error {
	if m.delFn != nil {
		return m.delFn(ctx, key)
	}
	return nil
}
