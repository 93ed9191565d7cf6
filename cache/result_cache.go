// Package cache is a cache-aside layer over Redis for computed score
// payloads. It fails open: an unreachable backend turns every lookup into
// a miss and callers recompute as if the cache were empty.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"resume-pipeline/domain"
)

const (
	entryPrefix = "resume:score:v1:"
	indexPrefix = "resume:score:jobs:"

	// DefaultTTL bounds how long a score stays reusable.
	DefaultTTL = 24 * time.Hour
)

// redisClient is the slice of go-redis the cache uses; *redis.Client
// satisfies it and tests substitute a fake.
type redisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Available bool    `json:"available"`
	KeyCount  int     `json:"key_count"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
}

// ResultCache maps (jobID, jobDescription) fingerprints to score payloads.
type ResultCache struct {
	rdb redisClient
	ttl time.Duration
	log logrus.FieldLogger

	// available is decided once at construction. A backend that is down at
	// startup leaves the cache in pass-through mode for the process lifetime.
	available bool

	hits   atomic.Int64
	misses atomic.Int64
}

// NewResultCache probes the backend once and returns a cache that either
// works or permanently passes through.
func NewResultCache(rdb redisClient, ttl time.Duration, log logrus.FieldLogger) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &ResultCache{rdb: rdb, ttl: ttl, log: log}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if rdb == nil {
		c.log.Warn("result cache disabled: no redis client configured")
		return c
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		c.log.WithError(err).Warn("result cache unreachable, operating in pass-through mode")
		return c
	}
	c.available = true
	return c
}

// Key fingerprints a scoring request. Missing and empty job descriptions
// normalize to the same input, so the same job without a description always
// lands on one key.
func Key(jobID, jobDescription string) string {
	h := sha256.New()
	h.Write([]byte(jobID))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(jobDescription)))
	return entryPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached payload for (jobID, jobDescription), marked as
// cached, or a miss. An unreachable or failing backend is also a miss.
func (c *ResultCache) Get(ctx context.Context, jobID, jobDescription string) (*domain.ScorePayload, bool) {
	if !c.available {
		c.misses.Add(1)
		return nil, false
	}

	data, err := c.rdb.Get(ctx, Key(jobID, jobDescription)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).Debug("cache get failed, treating as miss")
		}
		c.misses.Add(1)
		return nil, false
	}

	var payload domain.ScorePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.log.WithError(err).Debug("cache entry undecodable, treating as miss")
		c.misses.Add(1)
		return nil, false
	}

	payload.Cached = true
	c.hits.Add(1)
	return &payload, true
}

// Set stores payload under the request fingerprint and indexes the key by
// jobID so Invalidate can find every description variant. A failed write is
// not fatal to the caller.
func (c *ResultCache) Set(ctx context.Context, jobID string, payload *domain.ScorePayload, jobDescription string, ttl time.Duration) bool {
	if !c.available || payload == nil {
		return false
	}
	if ttl <= 0 {
		ttl = c.ttl
	}

	stored := *payload
	stored.Cached = false
	data, err := json.Marshal(&stored)
	if err != nil {
		c.log.WithError(err).Debug("cache set skipped: payload not serializable")
		return false
	}

	key := Key(jobID, jobDescription)
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		c.log.WithError(err).Debug("cache set failed")
		return false
	}

	index := indexPrefix + jobID
	if err := c.rdb.SAdd(ctx, index, key).Err(); err != nil {
		return false
	}
	// The index only needs to outlive its newest entry.
	_ = c.rdb.Expire(ctx, index, ttl).Err()
	return true
}

// Invalidate removes every cached variant derived from jobID.
func (c *ResultCache) Invalidate(ctx context.Context, jobID string) bool {
	if !c.available {
		return false
	}

	index := indexPrefix + jobID
	keys, err := c.rdb.SMembers(ctx, index).Result()
	if err != nil {
		c.log.WithError(err).Debug("cache invalidate failed reading index")
		return false
	}

	keys = append(keys, index)
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.WithError(err).Debug("cache invalidate failed deleting keys")
		return false
	}
	return true
}

// Stats reports availability, entry count and hit rate. Hit rate is 0 when
// the cache has seen no traffic.
func (c *ResultCache) Stats(ctx context.Context) Stats {
	s := Stats{
		Available: c.available,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	if !c.available {
		return s
	}

	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, entryPrefix+"*", 100).Result()
		if err != nil {
			break
		}
		s.KeyCount += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return s
}
