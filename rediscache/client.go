package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	sr "github.com/solver-ralph/sr"
)

type client struct {
	conn *Connection
}

// NewClient returns a cache backed by the singleton connection. OpenConnection
// must have been called first.
func NewClient() sr.Cache {
	return &client{
		conn: connection,
	}
}

// keyNotFound detects whether the error signifies key not found by Redis.
func (c client) keyNotFound(err error) bool {
	return err == redis.Nil
}

// Ping tests connectivity (PONG should be returned).
func (c client) Ping(ctx context.Context) error {
	if c.conn == nil {
		return fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	_, err := c.conn.Client.Ping(ctx).Result()
	return err
}

// Set executes the redis Set command.
func (c client) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	if c.conn == nil {
		return fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	// No caching if expiration < 0.
	if expiration < 0 {
		return nil
	}
	return c.conn.Client.Set(ctx, key, value, expiration).Err()
}

// Get executes the redis Get command.
func (c client) Get(ctx context.Context, key string) (bool, string, error) {
	if c.conn == nil {
		return false, "", fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	s, err := c.conn.Client.Get(ctx, key).Result()
	// Convert key not found into returning false and nil err.
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	}
	return r, s, err
}

// SetStruct serializes value to JSON then executes the redis Set command.
func (c client) SetStruct(ctx context.Context, key string, value any, expiration time.Duration) error {
	if c.conn == nil {
		return fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	if expiration < 0 {
		return nil
	}
	ba, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.conn.Client.Set(ctx, key, ba, expiration).Err()
}

// GetStruct executes the redis Get command and deserializes into target.
func (c client) GetStruct(ctx context.Context, key string, target any) (bool, error) {
	if c.conn == nil {
		return false, fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	if target == nil {
		return false, fmt.Errorf("target can't be nil")
	}
	ba, err := c.conn.Client.Get(ctx, key).Bytes()
	if err == nil {
		err = json.Unmarshal(ba, target)
	}
	// Convert key not found into returning false and nil err.
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	}
	return r, err
}

// Delete removes keys; returns false with no error when none of them existed.
func (c client) Delete(ctx context.Context, keys []string) (bool, error) {
	if c.conn == nil {
		return false, fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	n, err := c.conn.Client.Del(ctx, keys...).Result()
	if c.keyNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
