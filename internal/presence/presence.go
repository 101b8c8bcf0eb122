// Package presence mirrors the relay's online peer set to an external store
// for operators. The relay never reads it back; a restart starts empty.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store receives registry changes.
type Store interface {
	Add(ctx context.Context, peerID string) error
	Remove(ctx context.Context, peerID string) error
	Close() error
}

// Nop discards every change.
type Nop struct{}

func (Nop) Add(context.Context, string) error    { return nil }
func (Nop) Remove(context.Context, string) error { return nil }
func (Nop) Close() error                         { return nil }

const (
	// DefaultKey is the Redis set holding online peer ids.
	DefaultKey = "peerlink:peers"
	keyTTL     = 24 * time.Hour
)

// Redis keeps online peer ids in a Redis set.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis connects to addr and verifies the connection with PING.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Redis{client: client, key: DefaultKey}, nil
}

// Add records peerID as online and refreshes the set's expiry.
func (r *Redis) Add(ctx context.Context, peerID string) error {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.key, peerID)
	pipe.Expire(ctx, r.key, keyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Remove records peerID as offline.
func (r *Redis) Remove(ctx context.Context, peerID string) error {
	return r.client.SRem(ctx, r.key, peerID).Err()
}

// Close releases the Redis connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
