package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rankcrawl/internal/crawl"
)

type fakeClient struct {
	mu     sync.Mutex
	data   map[string]string
	failOn string
	closed bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: make(map[string]string)}
}

func (f *fakeClient) Get(_ context.Context, key string) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "get" {
		return goredis.NewStringResult("", errors.New("i/o timeout"))
	}
	v, ok := f.data[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (f *fakeClient) Set(_ context.Context, key string, value any, _ time.Duration) *goredis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "set" {
		return goredis.NewStatusResult("", errors.New("READONLY"))
	}
	f.data[key] = string(value.([]byte))
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Del(_ context.Context, keys ...string) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := f.data[key]; ok {
			delete(f.data, key)
			n++
		}
	}
	return goredis.NewIntResult(n, nil)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestStoreUsesPrefixedKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := newFakeClient()
	store := NewWithClient(fake, "")

	require.NoError(t, store.Set(ctx, "settings", []byte(`{"a":1}`)))
	require.Contains(t, fake.data, "rankcrawl:settings")

	got, err := store.Get(ctx, "settings")
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(got))

	require.NoError(t, store.Remove(ctx, "settings"))
	_, err = store.Get(ctx, "settings")
	require.ErrorIs(t, err, crawl.ErrNotFound)
	require.ErrorIs(t, store.Remove(ctx, "settings"), crawl.ErrNotFound)

	require.NoError(t, store.Close())
	require.True(t, fake.closed)
}

func TestStoreWrapsClientErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := newFakeClient()
	store := NewWithClient(fake, "test:")

	fake.failOn = "get"
	_, err := store.Get(ctx, "quota")
	require.Error(t, err)
	require.NotErrorIs(t, err, crawl.ErrNotFound)

	fake.failOn = "set"
	require.Error(t, store.Set(ctx, "quota", []byte("{}")))
}
