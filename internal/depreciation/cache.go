package depreciation

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-assets/internal/shared"
)

// Cache keeps current valuations in Redis. A nil Cache is a no-op.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Get returns the cached valuation and whether it was present.
func (c *Cache) Get(ctx context.Context, assetID int64) (Valuation, bool, error) {
	if c == nil || c.client == nil {
		return Valuation{}, false, nil
	}
	payload, err := c.client.Get(ctx, shared.ValuationCacheKey(assetID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Valuation{}, false, nil
	}
	if err != nil {
		return Valuation{}, false, err
	}
	var v Valuation
	if err := json.Unmarshal(payload, &v); err != nil {
		return Valuation{}, false, err
	}
	return v, true, nil
}

// storeIfGeneration writes KEYS[1] only while KEYS[2] still holds ARGV[1].
var storeIfGeneration = redis.NewScript(`
local gen = redis.call('GET', KEYS[2])
if not gen then gen = '0' end
if gen ~= ARGV[1] then return 0 end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// Generation returns the asset's current invalidation generation; a missing key reads as 0.
func (c *Cache) Generation(ctx context.Context, assetID int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	gen, err := c.client.Get(ctx, shared.ValuationGenerationKey(assetID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// SetIfGeneration stores the valuation unless the asset was invalidated after gen was read.
// It reports whether the value was written.
func (c *Cache) SetIfGeneration(ctx context.Context, v Valuation, gen int64) (bool, error) {
	if c == nil || c.client == nil {
		return false, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	keys := []string{shared.ValuationCacheKey(v.AssetID), shared.ValuationGenerationKey(v.AssetID)}
	stored, err := storeIfGeneration.Run(ctx, c.client, keys,
		strconv.FormatInt(gen, 10), raw, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

// Invalidate bumps the asset's generation and drops the cached valuation.
func (c *Cache) Invalidate(ctx context.Context, assetID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, shared.ValuationGenerationKey(assetID))
		pipe.Del(ctx, shared.ValuationCacheKey(assetID))
		return nil
	})
	return err
}
