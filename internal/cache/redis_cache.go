package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"barpos/backend/internal/domain"
)

type RedisRecipeCache struct {
	client *redis.Client
}

func NewRedisRecipeCache(addr string, password string, db int) *RedisRecipeCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisRecipeCache{client: client}
}

// Client exposes the connection so the stock locker can share it.
func (c *RedisRecipeCache) Client() *redis.Client {
	return c.client
}

func (c *RedisRecipeCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisRecipeCache) Close() error {
	return c.client.Close()
}

func (c *RedisRecipeCache) Get(ctx context.Context, productID string) ([]domain.RecipeRow, bool, error) {
	val, err := c.client.Get(ctx, recipeKey(productID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var rows []domain.RecipeRow
	if err := json.Unmarshal([]byte(val), &rows); err != nil {
		return nil, false, err
	}
	return rows, true, nil
}

func (c *RedisRecipeCache) Set(ctx context.Context, productID string, rows []domain.RecipeRow, ttl time.Duration) error {
	if rows == nil {
		rows = []domain.RecipeRow{}
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, recipeKey(productID), payload, ttl).Err()
}

func (c *RedisRecipeCache) Delete(ctx context.Context, productID string) error {
	return c.client.Del(ctx, recipeKey(productID)).Err()
}
