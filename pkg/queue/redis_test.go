package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb), mr
}

func TestPushPopIsFIFO(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Push(ctx, "q", []byte("a")))
	require.NoError(t, store.Push(ctx, "q", []byte("b")))

	first, err := store.Pop(ctx, "q", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "a", string(first))

	second, err := store.Pop(ctx, "q", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "b", string(second))
}

func TestPopTimesOutOnEmptyList(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Pop(context.Background(), "empty", time.Second)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestPeekDoesNotConsume(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	for _, v := range []string{"1", "2", "3"} {
		require.NoError(t, store.Push(ctx, "q", []byte(v)))
	}

	items, err := store.Peek(ctx, "q", 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "1", string(items[0]))

	list, err := mr.List("q")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, list)

	n, err := store.Len(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestGetSetAndTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
	assert.Equal(t, time.Minute, mr.TTL("k"))

	require.NoError(t, store.Set(ctx, "forever", []byte("v"), 0))
	assert.Equal(t, time.Duration(0), mr.TTL("forever"))
}

func TestSetNX(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := store.SetNX(ctx, "once", []byte("1"), time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.SetNX(ctx, "once", []byte("2"), time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeletePrefix(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"ocr_result:1", "ocr_result:2", "em_result:1"} {
		require.NoError(t, store.Set(ctx, k, []byte("x"), 0))
	}

	n, err := store.DeletePrefix(ctx, "ocr_result:")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.True(t, mr.Exists("em_result:1"))
	assert.False(t, mr.Exists("ocr_result:1"))
}
