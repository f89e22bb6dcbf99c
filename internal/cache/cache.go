package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key is absent. Callers fall through to
// the system of record; the cache is never authoritative.
var ErrMiss = errors.New("cache: miss")

// Cache is a best-effort read-through cache over Redis. Every method takes a
// context so caller timeouts bound the Redis round trip.
type Cache struct {
	client     *redis.Client
	defaultTTL time.Duration
	logger     *slog.Logger
}

func New(redisURL string, defaultTTL time.Duration, logger *slog.Logger) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}

	logger.Info("redis connection established")
	return &Cache{client: client, defaultTTL: defaultTTL, logger: logger}, nil
}

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrMiss
		}
		return err
	}
	return json.Unmarshal(data, dest)
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *Cache) Remove(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Cache key layout. Payments are invalidated (never rewritten in place) on
// every status transition to avoid staleness races with concurrent readers.

func PaymentKey(paymentID string) string {
	return "payment:" + paymentID
}

func GatewayCatalogKey() string {
	return "gateway:catalog"
}

func GatewayHealthKey(gatewayID int64) string {
	return fmt.Sprintf("gateway:health:%d", gatewayID)
}
