package redisstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis implements the commands Storage uses. Calling anything else
// panics on the nil embedded interface.
type fakeRedis struct {
	redis.Cmdable
	mu   sync.Mutex
	data map[string][]byte
	ttl  map[string]time.Duration
	fail error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string][]byte{}, ttl: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return redis.NewStringResult("", f.fail)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, exp time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value.([]byte)
	f.ttl[key] = exp
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(0)
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Scan(_ context.Context, _ uint64, match string, _ int64) *redis.ScanCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(match, "*")
	var keys []string
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return redis.NewScanCmdResult(keys, 0, nil)
}

func TestStorageRoundTrip(t *testing.T) {
	fake := newFakeRedis()
	s := New(fake, WithPrefix("test:"))

	require.NoError(t, s.Set("sid", []byte("payload"), time.Hour))
	assert.Equal(t, time.Hour, fake.ttl["test:sid"])

	got, err := s.Get("sid")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	require.NoError(t, s.Delete("sid"))
	got, err = s.Get("sid")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStorageIgnoresEmptyKeys(t *testing.T) {
	s := New(newFakeRedis())

	require.NoError(t, s.Set("", []byte("x"), 0))
	require.NoError(t, s.Set("k", nil, 0))
	got, err := s.Get("")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStorageResetKeepsForeignKeys(t *testing.T) {
	fake := newFakeRedis()
	fake.data["other:key"] = []byte("keep")
	s := New(fake)

	require.NoError(t, s.Set("a", []byte("1"), 0))
	require.NoError(t, s.Set("b", []byte("2"), 0))
	require.NoError(t, s.Reset())

	assert.Len(t, fake.data, 1)
	assert.Contains(t, fake.data, "other:key")
}

func TestStorageWrapsErrors(t *testing.T) {
	fake := newFakeRedis()
	fake.fail = errors.New("connection refused")
	s := New(fake)

	_, err := s.Get("sid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestStorageCloseWithoutPool(t *testing.T) {
	assert.NoError(t, New(newFakeRedis()).Close())
}
