package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "whatsapp:msg:"

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) StoreSent(ctx context.Context, logID string, providerMessageID string, sentAt time.Time) error {
	b, err := json.Marshal(SentRecord{
		ProviderMessageID: providerMessageID,
		SentAt:            sentAt.UTC(),
	})
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, keyPrefix+logID, b, c.ttl).Err()
}

// Sent returns the cached delivery record, or nil when it expired or never existed.
func (c *RedisCache) Sent(ctx context.Context, logID string) (*SentRecord, error) {
	raw, err := c.rdb.Get(ctx, keyPrefix+logID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec SentRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
