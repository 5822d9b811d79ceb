package store_test

import (
	"context"
	"fmt"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/store"
)

func newRedisStore(t *testing.T) (*store.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := store.NewRedisStoreFromClient(client)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) store.UserStore {
		s, _ := newRedisStore(t)
		return s
	})
}

func TestNewRedisStorePings(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := store.NewRedisStore(context.Background(), mr.Addr(), "", nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = store.NewRedisStore(context.Background(), "127.0.0.1:1", "", nil)
	assert.Error(t, err)
}

func TestRedisStoreLayout(t *testing.T) {
	s, mr := newRedisStore(t)
	created, err := s.Insert(context.Background(), newRecord(t, "layout@example.com"))
	require.NoError(t, err)

	assert.True(t, mr.Exists("user:"+created.ID))
	ids, err := mr.List("users")
	require.NoError(t, err)
	assert.Equal(t, []string{created.ID}, ids)
}

func TestRedisCursorPagesAcrossManyRecords(t *testing.T) {
	s, _ := newRedisStore(t)
	const n = 250
	for i := 0; i < n; i++ {
		_, err := s.Insert(context.Background(), newRecord(t, fmt.Sprintf("u%d@example.com", i)))
		require.NoError(t, err)
	}
	got := collect(t, s)
	require.Len(t, got, n)
	assert.Equal(t, "u0@example.com", got[0].Email)
	assert.Equal(t, fmt.Sprintf("u%d@example.com", n-1), got[n-1].Email)
}

func TestRedisStoreSurfacesBackendErrors(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.SetError("boom")
	_, err := s.Get(context.Background(), "anything")
	assert.Error(t, err)
	_, err = s.List(context.Background())
	assert.Error(t, err)
}
