package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/veridata/fieldgate/pkg/observability"
)

// DecisionCache caches role-level access decisions. The in-process LRU is
// the first tier; an optional Redis client adds a shared tier so a fleet
// converges on warm decisions. Only decisions independent of actor id and
// record state are ever stored here.
type DecisionCache struct {
	local   *lru.Cache[string, Decision]
	redis   *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

// DecisionCacheConfig configures the cache tiers
type DecisionCacheConfig struct {
	Size  int
	TTL   time.Duration
	Redis *redis.Client
}

// NewDecisionCache creates a decision cache. Redis is optional.
func NewDecisionCache(cfg DecisionCacheConfig, metrics *observability.Metrics) (*DecisionCache, error) {
	if cfg.Size <= 0 {
		cfg.Size = 1024
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}

	local, err := lru.New[string, Decision](cfg.Size)
	if err != nil {
		return nil, err
	}

	return &DecisionCache{
		local:   local,
		redis:   cfg.Redis,
		ttl:     cfg.TTL,
		metrics: metrics,
	}, nil
}

const redisKeyPrefix = "fieldgate:decision:"

// Get looks the key up in the local tier, then Redis. Redis errors degrade
// to a miss; the cache never fails an evaluation.
func (c *DecisionCache) Get(ctx context.Context, key string) (Decision, bool) {
	if decision, ok := c.local.Get(key); ok {
		c.metrics.RecordCacheHit("local")
		return decision, true
	}

	if c.redis != nil {
		data, err := c.redis.Get(ctx, redisKeyPrefix+key).Bytes()
		if err == nil {
			var decision Decision
			if json.Unmarshal(data, &decision) == nil {
				c.local.Add(key, decision)
				c.metrics.RecordCacheHit("redis")
				return decision, true
			}
		}
	}

	c.metrics.RecordCacheMiss()
	return Decision{}, false
}

// Set stores the decision in both tiers
func (c *DecisionCache) Set(ctx context.Context, key string, decision Decision) {
	c.local.Add(key, decision)

	if c.redis != nil {
		if data, err := json.Marshal(decision); err == nil {
			c.redis.Set(ctx, redisKeyPrefix+key, data, c.ttl)
		}
	}
}

// Purge drops every cached decision. Called when the policy table is
// replaced, which only happens across a restart today.
func (c *DecisionCache) Purge(ctx context.Context) {
	c.local.Purge()

	if c.redis != nil {
		iter := c.redis.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			c.redis.Del(ctx, iter.Val())
		}
	}
}
