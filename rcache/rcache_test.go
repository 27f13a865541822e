package rcache_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/chigozirigeorge/verinest/rcache"
)

func TestMain(m *testing.M) {
	if os.Getenv("VERINEST_SKIP_DOCKERTEST") != "" {
		os.Exit(0)
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		fmt.Println("dockertest unavailable, skipping rcache integration tests:", err)
		os.Exit(0)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "redis",
		Tag:        "7-alpine",
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
	})
	if err != nil {
		fmt.Println("could not start redis container:", err)
		os.Exit(0)
	}
	defer pool.Purge(resource)

	addr := fmt.Sprintf("localhost:%s", resource.GetPort("6379/tcp"))
	os.Setenv("VERINEST_TEST_REDIS_ADDR", addr)

	err = pool.Retry(func() error {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		fmt.Println("could not connect to redis container:", err)
		os.Exit(0)
	}

	os.Exit(m.Run())
}

func newTestCache(t *testing.T) *rcache.Cache {
	t.Helper()
	addr := os.Getenv("VERINEST_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("no test redis available")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() {
		rdb.FlushDB(context.Background())
		rdb.Close()
	})
	return rcache.New(rdb)
}

type sampleValue struct {
	Name string
	Age  int
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := newTestCache(t)
	_, ok := rcache.Get[sampleValue](context.Background(), c, "nonexistent-key")
	require.False(t, ok)
}

func TestSetThenGetRoundTrips(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key := rcache.UserKey(uuid.New())

	rcache.Set(ctx, c, key, sampleValue{Name: "ada", Age: 30}, rcache.UserTTL)

	v, ok := rcache.Get[sampleValue](ctx, c, key)
	require.True(t, ok)
	require.Equal(t, "ada", v.Name)
	require.Equal(t, 30, v.Age)
}

func TestDeleteRemovesKey(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key := rcache.JobKey(uuid.New())

	rcache.Set(ctx, c, key, sampleValue{Name: "job"}, rcache.JobTTL)
	c.Delete(ctx, key)

	_, ok := rcache.Get[sampleValue](ctx, c, key)
	require.False(t, ok)
}

func TestInvalidateChatClearsMessagesAndUserChats(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	chatID := uuid.New()
	p1, p2 := uuid.New(), uuid.New()

	rcache.Set(ctx, c, rcache.ChatKey(chatID), sampleValue{Name: "chat"}, rcache.ChatTTL)
	rcache.Set(ctx, c, rcache.MessagesKey(chatID, 1), sampleValue{Name: "page1"}, rcache.MessagesTTL)
	rcache.Set(ctx, c, rcache.MessagesKey(chatID, 2), sampleValue{Name: "page2"}, rcache.MessagesTTL)
	rcache.Set(ctx, c, rcache.UserChatsKey(p1, 1), sampleValue{Name: "p1chats"}, rcache.UserChatsTTL)
	rcache.Set(ctx, c, rcache.UserChatsKey(p2, 1), sampleValue{Name: "p2chats"}, rcache.UserChatsTTL)

	c.InvalidateChat(ctx, chatID, p1, p2)

	_, ok := rcache.Get[sampleValue](ctx, c, rcache.ChatKey(chatID))
	require.False(t, ok)
	_, ok = rcache.Get[sampleValue](ctx, c, rcache.MessagesKey(chatID, 1))
	require.False(t, ok)
	_, ok = rcache.Get[sampleValue](ctx, c, rcache.MessagesKey(chatID, 2))
	require.False(t, ok)
	_, ok = rcache.Get[sampleValue](ctx, c, rcache.UserChatsKey(p1, 1))
	require.False(t, ok)
	_, ok = rcache.Get[sampleValue](ctx, c, rcache.UserChatsKey(p2, 1))
	require.False(t, ok)
}

func TestInvalidateUnreadClearsOnlyThatUser(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	u1, u2 := uuid.New(), uuid.New()

	rcache.Set(ctx, c, rcache.UnreadCountKey(u1), sampleValue{Name: "u1"}, rcache.UnreadCountTTL)
	rcache.Set(ctx, c, rcache.UnreadCountKey(u2), sampleValue{Name: "u2"}, rcache.UnreadCountTTL)

	c.InvalidateUnread(ctx, u1)

	_, ok := rcache.Get[sampleValue](ctx, c, rcache.UnreadCountKey(u1))
	require.False(t, ok)
	_, ok = rcache.Get[sampleValue](ctx, c, rcache.UnreadCountKey(u2))
	require.True(t, ok, "invalidating one user must not touch another's unread count")
}
