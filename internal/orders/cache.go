package orders

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/phuslu/log"
	"github.com/redis/go-redis/v9"
)

// CachedStore decorates a Store with a redis TTL cache. Cache failures are
// soft: any redis error falls through to the inner store with a log line,
// never to the caller.
type CachedStore struct {
	inner Store
	rdb   *redis.Client
	ttl   time.Duration
	log   log.Logger
}

func NewCachedStore(inner Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	c := &CachedStore{}
	c.inner = inner
	c.rdb = rdb
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	c.ttl = ttl
	c.log = log.DefaultLogger
	c.log.Context = log.NewContext(nil).Str("module", "order-cache").Value()
	return c
}

func deliveryKey(orderID int64) string {
	return "delivery:" + strconv.FormatInt(orderID, 10)
}

func (c *CachedStore) Delivery(ctx context.Context, orderID int64) (*Delivery, error) {
	key := deliveryKey(orderID)
	val, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		d := &Delivery{}
		if json.Unmarshal([]byte(val), d) == nil {
			return d, nil
		}
		// undecodable entry, treat as a miss
		c.log.Warn().Str("key", key).Msg("dropping corrupt cache entry")
	} else if err != redis.Nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}
	d, err := c.inner.Delivery(ctx, orderID)
	if err != nil {
		return nil, err
	}
	b, _ := json.Marshal(d)
	err = c.rdb.Set(ctx, key, b, c.ttl).Err()
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
	return d, nil
}

// Invalidate drops the cached entry, for callers reacting to order
// mutations in the order-management service.
func (c *CachedStore) Invalidate(ctx context.Context, orderID int64) error {
	return c.rdb.Del(ctx, deliveryKey(orderID)).Err()
}
