package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Queue backed by a Redis list, for multi-process worker
// deployments. Items are JSON-encoded and moved with LPUSH/BRPOP.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis connects to Redis and returns a list-backed queue.
func NewRedis(ctx context.Context, addr, key string) (*Redis, error) {
	if key == "" {
		key = "vaakshakti:work"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client, key: key}, nil
}

// Enqueue publishes an item to the list.
func (r *Redis) Enqueue(ctx context.Context, item Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal work item: %w", err)
	}
	if err := r.client.LPush(ctx, r.key, data).Err(); err != nil {
		return fmt.Errorf("lpush work item: %w", err)
	}
	return nil
}

// Dequeue blocks for the next item. The blocking pop uses a short timeout so
// context cancellation is observed promptly.
func (r *Redis) Dequeue(ctx context.Context) (Item, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Item{}, err
		}
		vals, err := r.client.BRPop(ctx, 2*time.Second, r.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Item{}, ctx.Err()
			}
			return Item{}, fmt.Errorf("brpop work item: %w", err)
		}
		// BRPOP returns [key, value]
		var item Item
		if err := json.Unmarshal([]byte(vals[1]), &item); err != nil {
			return Item{}, fmt.Errorf("unmarshal work item: %w", err)
		}
		return item, nil
	}
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
