package kvstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, found, err := s.Get(ctx, KeyGuestCart)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, KeyGuestCart, `[{"id":"a"}]`))
	require.NoError(t, s.Set(ctx, KeyAuth, `{"user":null}`))

	v, found, err := s.Get(ctx, KeyGuestCart)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `[{"id":"a"}]`, v)

	require.NoError(t, s.Remove(ctx, KeyGuestCart))
	_, found, err = s.Get(ctx, KeyGuestCart)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = s.Get(ctx, KeyAuth)
	require.NoError(t, err)
	assert.True(t, found, "removing one key must not touch another")

	require.NoError(t, s.Remove(ctx, "never-set"))
	assert.True(t, s.Ping(ctx))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "kv.json")
	s := NewFileStore(path)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, s.Initialize(context.Background()))
	exerciseStore(t, s)

	reopened := NewFileStore(path)
	require.NoError(t, reopened.Initialize(context.Background()))
	v, found, err := reopened.Get(context.Background(), KeyAuth)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"user":null}`, v)
}

func TestFileStore_CorruptFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s := NewFileStore(path)
	require.NoError(t, s.Initialize(context.Background()))
	_, found, err := s.Get(context.Background(), KeyGuestCart)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNoopStore(t *testing.T) {
	ctx := context.Background()
	var s Store = NoopStore{}
	require.NoError(t, s.Set(ctx, KeyGuestCart, "x"))
	_, found, err := s.Get(ctx, KeyGuestCart)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(mr.Addr(), "device-1", logrus.New())
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Initialize(context.Background()))
	exerciseStore(t, s)

	assert.True(t, mr.Exists("shopclient:device-1"))
	assert.Equal(t, `{"user":null}`, mr.HGet("shopclient:device-1", KeyAuth))
}

func TestRedisStore_FailuresMatchErrStorage(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(mr.Addr(), "device-2", logrus.New())
	s.maxElapsed = 300 * time.Millisecond
	t.Cleanup(func() { s.Close() })
	mr.Close()

	err := s.Set(context.Background(), KeyGuestCart, "[]")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))

	err = s.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.False(t, errors.Is(err, redis.ErrClosed), "cause must be the ping error, got %v", err)
	assert.NotContains(t, err.Error(), "client is closed")
}
