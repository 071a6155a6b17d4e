package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient: подмножество redis.Cmdable, используемое кэшем.
type redisClient interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisConfig: параметры подключения.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisCache хранит отпечатки, уже попавшие в журнал, отдельными ключами с TTL.
type RedisCache struct {
	client redisClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache подключается к Redis и проверяет соединение.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}

	return newRedisCache(client, cfg.KeyPrefix, cfg.TTL), nil
}

func newRedisCache(client redisClient, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "goodnews:seen:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Seen возвращает отпечатки, найденные в кэше.
func (c *RedisCache) Seen(ctx context.Context, fingerprints []string) (map[string]bool, error) {
	seen := make(map[string]bool)
	for _, fp := range fingerprints {
		n, err := c.client.Exists(ctx, c.key(fp)).Result()
		if err != nil {
			return seen, fmt.Errorf("redis exists: %w", err)
		}
		if n > 0 {
			seen[fp] = true
		}
	}
	return seen, nil
}

// MarkSeen добавляет отпечатки в кэш.
func (c *RedisCache) MarkSeen(ctx context.Context, fingerprints ...string) error {
	var errs []error
	for _, fp := range fingerprints {
		if err := c.client.Set(ctx, c.key(fp), "1", c.ttl).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis set %s: %w", fp, err))
		}
	}
	return errors.Join(errs...)
}

// Close закрывает клиент Redis.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) key(fp string) string {
	return c.prefix + fp
}
