package redisstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/groupmap/pkg/store"
)

func client(t *testing.T) redis.UniversalClient {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func namespace(t *testing.T) string {
	return fmt.Sprintf("test-%d", time.Now().UnixNano())
}

func TestApplyEvents(t *testing.T) {
	s := &Store{feed: store.NewFeed()}
	s.logger = testLogger()

	var mu sync.Mutex
	var added []string
	var removed []string
	s.SubscribeChildAdded(store.ChildAddedHandlerFunc(func(key string, value any) {
		mu.Lock()
		defer mu.Unlock()
		added = append(added, key)
	}))
	s.SubscribeChildRemoved(store.ChildRemovedHandlerFunc(func(key string) {
		mu.Lock()
		defer mu.Unlock()
		removed = append(removed, key)
	}))

	s.apply(`{"op":"set","key":"group1","value":{"color":"red","position":{"lat":1,"lng":2}}}`)
	s.apply(`{"op":"set","key":"group1","value":{"color":"blue","position":{"lat":1,"lng":2}}}`)
	s.apply(`not json`)
	s.apply(`{"op":"rename","key":"group1"}`)
	s.apply(`{"op":"del","key":"group1"}`)

	assert.Equal(t, []string{"group1"}, added)
	assert.Equal(t, []string{"group1"}, removed)
	_, ok := s.feed.Get("group1")
	assert.False(t, ok)
}

func TestWriteIsSeenByOtherStore(t *testing.T) {
	rdb := client(t)
	ctx := context.Background()
	ns := namespace(t)
	t.Cleanup(func() { rdb.Del(ctx, "groupmap:"+ns) })

	a, err := Open(ctx, rdb, ns)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := Open(ctx, rdb, ns)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	seen := make(chan any, 4)
	b.SubscribeValue("group1", store.ValueHandlerFunc(func(key string, value any, present bool) {
		if present {
			seen <- value
		}
	}))

	value := map[string]any{"color": "red", "position": map[string]any{"lat": 1.5, "lng": 2.5}}
	require.NoError(t, a.Write(ctx, "group1", value))

	select {
	case v := <-seen:
		assert.Equal(t, value, v)
	case <-time.After(5 * time.Second):
		t.Fatal("write was not delivered")
	}

	snap, err := b.SnapshotAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, value, snap["group1"])

	require.NoError(t, a.Remove(ctx, "group1"))
	snap, err = a.SnapshotAll(ctx)
	require.NoError(t, err)
	assert.NotContains(t, snap, "group1")
}

func TestResyncRepairsMissedEvents(t *testing.T) {
	rdb := client(t)
	ctx := context.Background()
	ns := namespace(t)
	t.Cleanup(func() { rdb.Del(ctx, "groupmap:"+ns) })

	s, err := Open(ctx, rdb, ns, WithResync(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	// bypass the channel entirely
	require.NoError(t, rdb.HSet(ctx, "groupmap:"+ns, "group3", `{"color":"green","position":{"lat":0,"lng":0}}`).Err())
	_, ok := s.feed.Get("group3")
	require.False(t, ok)

	require.NoError(t, s.Resync(ctx))
	v, ok := s.feed.Get("group3")
	require.True(t, ok)
	assert.Equal(t, "green", v.(map[string]any)["color"])
}

func TestUnreachableRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	_, err := Open(context.Background(), rdb, "nope")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
