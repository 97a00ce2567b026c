package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet bool
	sets    int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, errors.New("connection refused")
	}
	b, ok := m.data[key]
	if !ok {
		return nil, ErrMiss
	}
	return b, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.sets++
	return nil
}

type snapshot struct {
	Temp float64 `json:"temp"`
}

func TestCached_ReadThrough(t *testing.T) {
	store := newMemStore()
	calls := 0
	load := func(ctx context.Context) (snapshot, error) {
		calls++
		return snapshot{Temp: 72}, nil
	}
	c := NewCached[snapshot](store, "weather", time.Minute, load, zerolog.Nop())

	v, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 72.0, v.Temp)

	v, err = c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 72.0, v.Temp)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, store.sets)
}

func TestCached_StoreFailureFallsThrough(t *testing.T) {
	store := newMemStore()
	store.failGet = true
	calls := 0
	c := NewCached[snapshot](store, "weather", time.Minute, func(ctx context.Context) (snapshot, error) {
		calls++
		return snapshot{Temp: 60}, nil
	}, zerolog.Nop())

	v, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 60.0, v.Temp)
	assert.Equal(t, 1, calls)
}

func TestCached_LoaderErrorNotStored(t *testing.T) {
	store := newMemStore()
	boom := errors.New("api down")
	c := NewCached[snapshot](store, "weather", time.Minute, func(ctx context.Context) (snapshot, error) {
		return snapshot{}, boom
	}, zerolog.Nop())

	_, err := c.Get(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, store.sets)
}

func TestCached_CorruptEntryReloads(t *testing.T) {
	store := newMemStore()
	store.data["weather"] = []byte("{not json")
	c := NewCached[snapshot](store, "weather", time.Minute, func(ctx context.Context) (snapshot, error) {
		return snapshot{Temp: 55}, nil
	}, zerolog.Nop())

	v, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 55.0, v.Temp)
	assert.JSONEq(t, `{"temp":55}`, string(store.data["weather"]))
}

func TestCached_NilStore(t *testing.T) {
	calls := 0
	c := NewCached[snapshot](nil, "weather", time.Minute, func(ctx context.Context) (snapshot, error) {
		calls++
		return snapshot{Temp: 1}, nil
	}, zerolog.Nop())

	_, _ = c.Get(context.Background())
	_, _ = c.Get(context.Background())
	assert.Equal(t, 2, calls)
}

// Requires a Redis server; set MIRROR_TEST_REDIS=host:port to run.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("MIRROR_TEST_REDIS")
	if addr == "" {
		t.Skip("MIRROR_TEST_REDIS not set")
	}
	store, err := NewRedisStore(RedisConfig{Addr: addr, Prefix: "mirror-test:"})
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	key := t.Name()

	_, err = store.Get(ctx, key+"-absent")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, store.Set(ctx, key, []byte("hello"), time.Minute))
	b, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}
