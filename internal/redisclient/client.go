package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrSessionNotFound is returned when a checkout session id is unknown or
// has expired.
var ErrSessionNotFound = errors.New("checkout session not found")

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// PutSession stores a checkout session payload with a TTL.
func (c *Client) PutSession(ctx context.Context, sessionID string, payload []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, sessionKey(sessionID), payload, ttl).Err()
}

// GetSession retrieves a checkout session payload.
func (c *Client) GetSession(ctx context.Context, sessionID string) ([]byte, error) {
	payload, err := c.rdb.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	return payload, err
}

// DeleteSession removes a checkout session.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, sessionKey(sessionID)).Err()
}

// AcquireLock acquires a distributed lock. Used per order id to fast-fail
// concurrent reconciliation attempts and per session id to single-flight
// checkout submission.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("checkout:session:%s", sessionID)
}
