package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultCacheKey = "fhirwatch:alerts:recent"

// Cache keeps the most recent alerts in a capped Redis list so the dashboard
// can read them without scanning the log file. Writes are best-effort; the
// JSONL log remains the source of truth.
type Cache struct {
	client *redis.Client
	key    string
	cap    int64
}

// NewCache connects to Redis. cap bounds the list length (default 500).
func NewCache(addr string, cap int64) (*Cache, error) {
	if cap <= 0 {
		cap = 500
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Cache{client: client, key: defaultCacheKey, cap: cap}, nil
}

// Push prepends one alert and trims the list to capacity.
func (c *Cache) Push(ctx context.Context, a Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	pipe := c.client.TxPipeline()
	pipe.LPush(ctx, c.key, data)
	pipe.LTrim(ctx, c.key, 0, c.cap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push alert to cache: %w", err)
	}
	return nil
}

// Recent returns up to max cached alerts, newest-first. Entries that fail to
// decode are skipped.
func (c *Cache) Recent(ctx context.Context, max int) ([]Alert, error) {
	if max <= 0 {
		max = 50
	}
	items, err := c.client.LRange(ctx, c.key, 0, int64(max-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read alert cache: %w", err)
	}
	alerts := make([]Alert, 0, len(items))
	for _, item := range items {
		var a Alert
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			continue
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error { return c.client.Close() }
