package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// TreeCache keeps the assembled account tree in Redis. The tree is read far
// more often than the chart changes; any account mutation drops the tenant's
// entry.
type TreeCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTreeCache constructs a tree cache with the given entry lifetime.
func NewTreeCache(client *redis.Client, ttl time.Duration) *TreeCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TreeCache{client: client, ttl: ttl}
}

func treeKey(tenant shared.TenantID) string {
	return fmt.Sprintf("ledger:tree:%d", tenant)
}

// Get returns the cached tree for the tenant, or ok=false on miss.
func (c *TreeCache) Get(ctx context.Context, tenant shared.TenantID) ([]*AccountHead, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, treeKey(tenant)).Bytes()
	if err != nil {
		return nil, false
	}
	var roots []*AccountHead
	if err := json.Unmarshal(data, &roots); err != nil {
		return nil, false
	}
	return roots, true
}

// Set stores the tree for the tenant. Failures are ignored; the cache is
// best effort.
func (c *TreeCache) Set(ctx context.Context, tenant shared.TenantID, roots []*AccountHead) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(roots)
	if err != nil {
		return
	}
	c.client.Set(ctx, treeKey(tenant), data, c.ttl)
}

// Invalidate drops the tenant's cached tree.
func (c *TreeCache) Invalidate(ctx context.Context, tenant shared.TenantID) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Del(ctx, treeKey(tenant))
}
