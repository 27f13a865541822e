// Package rcache is the Cache Layer (C6): a keyed, typed cache fronted
// by a JSON codec on top of github.com/redis/go-redis/v9, grounded on
// original_source/Backend/src/db/cache.rs's CacheHelper. Every
// operation is best-effort — a cache failure is logged and treated as
// a miss, never propagated as a request error, per spec §4.5.
package rcache

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/chigozirigeorge/verinest/metrics"
)

var log = logrus.WithField("subsystem", "rcache")

// TTLs per namespace, spec §4.5.
const (
	ChatTTL           = 3600 * time.Second
	MessagesTTL       = 1800 * time.Second
	UserChatsTTL      = 1800 * time.Second
	UnreadCountTTL    = 300 * time.Second
	UserTTL           = 1800 * time.Second
	JobTTL            = 900 * time.Second
	WorkerProfileTTL  = 1800 * time.Second
	ContractProposalTTL = 1800 * time.Second

	scanBatchSize = 100
)

// Cache wraps a redis client with the namespace conventions spec §4.5
// names.
type Cache struct {
	rdb *redis.Client
	m   *metrics.Metrics
}

func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// WithMetrics attaches a Metrics collector so Get hits/misses are
// counted under verinest_cache_hits_total/verinest_cache_misses_total.
// Optional: a Cache with no metrics attached behaves exactly as before.
func (c *Cache) WithMetrics(m *metrics.Metrics) *Cache {
	c.m = m
	return c
}

// namespaceOf returns the part of a key before its first ':',
// matching the ChatKey/MessagesKey/... prefix convention, for use as
// the cache hit/miss metric's low-cardinality label.
func namespaceOf(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

// Namespace key builders, spec §4.5.
func ChatKey(chatID uuid.UUID) string { return "chat:" + chatID.String() }
func MessagesKey(chatID uuid.UUID, page int) string {
	return "messages:" + chatID.String() + ":" + strconv.Itoa(page)
}
func UserChatsKey(userID uuid.UUID, page int) string {
	return "user_chats:" + userID.String() + ":" + strconv.Itoa(page)
}
func UnreadCountKey(userID uuid.UUID) string   { return "unread_count:" + userID.String() }
func UserKey(userID uuid.UUID) string          { return "user:" + userID.String() }
func JobKey(jobID uuid.UUID) string            { return "job:" + jobID.String() }
func WorkerProfileKey(userID uuid.UUID) string { return "worker_profile:" + userID.String() }
func ContractProposalKey(id uuid.UUID) string  { return "contract_proposal:" + id.String() }

// Get fetches and decodes key into a T. A miss, a decode failure, or a
// transport error all coalesce to (zero, false) — only a decode
// failure is logged, per spec §4.5's "decode errors are logged" rule;
// a plain miss is normal operation and isn't worth a log line.
func Get[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var zero T
	raw, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if c.m != nil {
			c.m.CacheMisses.WithLabelValues(namespaceOf(key)).Inc()
		}
		return zero, false
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		log.WithError(err).WithField("key", key).Warn("cache decode failed")
		if c.m != nil {
			c.m.CacheMisses.WithLabelValues(namespaceOf(key)).Inc()
		}
		return zero, false
	}
	if c.m != nil {
		c.m.CacheHits.WithLabelValues(namespaceOf(key)).Inc()
	}
	return v, true
}

// Set marshals value and writes it under key with ttl. Best-effort:
// failures are logged, never returned, per spec §4.5.
func Set(ctx context.Context, c *Cache, key string, value interface{}, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("cache encode failed")
		return
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		log.WithError(err).WithField("key", key).Warn("cache set failed")
	}
}

// Delete removes a single key. Best-effort.
func (c *Cache) Delete(ctx context.Context, key string) {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		log.WithError(err).WithField("key", key).Warn("cache delete failed")
	}
}

// DeletePattern removes every key matching pattern using incremental
// SCAN in batches of 100, never KEYS — per spec §4.5's "the cache must
// never execute a full-keyspace blocking operation in a user-facing
// path" invariant.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) {
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			log.WithError(err).WithField("pattern", pattern).Warn("cache scan failed")
			return
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				log.WithError(err).WithField("pattern", pattern).Warn("cache pattern delete failed")
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	log.WithField("pattern", pattern).WithField("deleted", deleted).Debug("cache pattern invalidated")
}

// InvalidateChat clears the chat's own cache entry plus every
// paginated messages/user_chats key that could now be stale, per spec
// §4.5's invalidate_chat operation.
func (c *Cache) InvalidateChat(ctx context.Context, chatID, participantOne, participantTwo uuid.UUID) {
	c.Delete(ctx, ChatKey(chatID))
	c.DeletePattern(ctx, "messages:"+chatID.String()+":*")
	c.DeletePattern(ctx, "user_chats:"+participantOne.String()+":*")
	c.DeletePattern(ctx, "user_chats:"+participantTwo.String()+":*")
}

// InvalidateUserChats clears every paginated user_chats key for a
// single user, per spec §4.5's invalidate_user_chats operation.
func (c *Cache) InvalidateUserChats(ctx context.Context, userID uuid.UUID) {
	c.DeletePattern(ctx, "user_chats:"+userID.String()+":*")
}

// InvalidateUnread clears a user's unread-count entry, per spec §4.5's
// invalidate_unread operation.
func (c *Cache) InvalidateUnread(ctx context.Context, userID uuid.UUID) {
	c.Delete(ctx, UnreadCountKey(userID))
}

// Ping reports whether the backing Redis connection is reachable, for
// the process health check.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
