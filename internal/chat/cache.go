package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LeadCacheTTL bounds how stale a cached lead summary may be.
const LeadCacheTTL = 90 * time.Second

// LeadCache stores rendered lead summaries per account and person. A miss
// returns ok=false with a nil error.
type LeadCache interface {
	Get(ctx context.Context, accountID int64, personID string) (summary string, ok bool, err error)
	Set(ctx context.Context, accountID int64, personID, summary string) error
}

type cachedLead struct {
	Summary string `json:"summary"`
}

func leadCacheKey(accountID int64, personID string) string {
	return "lead_data:" + strconv.FormatInt(accountID, 10) + ":" + personID
}

// RedisClient is the subset of go-redis used by RedisLeadCache.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

type RedisLeadCache struct {
	client RedisClient
	ttl    time.Duration
}

func NewRedisLeadCache(client RedisClient) *RedisLeadCache {
	return &RedisLeadCache{client: client, ttl: LeadCacheTTL}
}

func (c *RedisLeadCache) Get(ctx context.Context, accountID int64, personID string) (string, bool, error) {
	raw, err := c.client.Get(ctx, leadCacheKey(accountID, personID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lead cache get: %w", err)
	}

	var entry cachedLead
	if err := json.Unmarshal(raw, &entry); err != nil {
		return "", false, fmt.Errorf("lead cache get: decode entry: %w", err)
	}
	return entry.Summary, true, nil
}

func (c *RedisLeadCache) Set(ctx context.Context, accountID int64, personID, summary string) error {
	raw, err := json.Marshal(cachedLead{Summary: summary})
	if err != nil {
		return fmt.Errorf("lead cache set: encode entry: %w", err)
	}
	if err := c.client.Set(ctx, leadCacheKey(accountID, personID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("lead cache set: %w", err)
	}
	return nil
}

// MemoryLeadCache is the in-process LeadCache used when no Redis is
// configured.
type MemoryLeadCache struct {
	mu      sync.Mutex
	entries map[string]memoryLead
	ttl     time.Duration
	now     func() time.Time
}

type memoryLead struct {
	summary string
	expires time.Time
}

func NewMemoryLeadCache() *MemoryLeadCache {
	return &MemoryLeadCache{
		entries: make(map[string]memoryLead),
		ttl:     LeadCacheTTL,
		now:     time.Now,
	}
}

func (c *MemoryLeadCache) Get(_ context.Context, accountID int64, personID string) (string, bool, error) {
	key := leadCacheKey(accountID, personID)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false, nil
	}
	if !c.now().Before(entry.expires) {
		delete(c.entries, key)
		return "", false, nil
	}
	return entry.summary, true, nil
}

func (c *MemoryLeadCache) Set(_ context.Context, accountID int64, personID, summary string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if !now.Before(entry.expires) {
			delete(c.entries, key)
		}
	}
	c.entries[leadCacheKey(accountID, personID)] = memoryLead{summary: summary, expires: now.Add(c.ttl)}
	return nil
}
