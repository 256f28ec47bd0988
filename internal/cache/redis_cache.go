package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"lumipos/backend/internal/domain"
)

// draftTTL bounds how long an abandoned draft lingers.
const draftTTL = 7 * 24 * time.Hour

type RedisDraftCache struct {
	client *redis.Client
}

func NewRedisDraftCache(addr string, password string, db int) *RedisDraftCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisDraftCache{client: client}
}

func (c *RedisDraftCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisDraftCache) Close() error {
	return c.client.Close()
}

func (c *RedisDraftCache) Save(ctx context.Context, tenantID string, register string, draft domain.CartDraft) error {
	payload, err := json.Marshal(draft)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, draftKey(tenantID, register), payload, draftTTL).Err()
}

func (c *RedisDraftCache) Load(ctx context.Context, tenantID string, register string) (*domain.CartDraft, bool, error) {
	val, err := c.client.Get(ctx, draftKey(tenantID, register)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var draft domain.CartDraft
	if err := json.Unmarshal([]byte(val), &draft); err != nil {
		return nil, false, err
	}
	return &draft, true, nil
}

func (c *RedisDraftCache) Delete(ctx context.Context, tenantID string, register string) error {
	return c.client.Del(ctx, draftKey(tenantID, register)).Err()
}
