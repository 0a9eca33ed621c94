package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sirenlink/internal/models"

	"github.com/redis/go-redis/v9"
)

const stateCacheKeyPrefix = "device:state:"

// StateCacheRedis mirrors device snapshots under device:state:<id> with a TTL.
type StateCacheRedis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStateCacheRedis(rdb *redis.Client, ttl time.Duration) *StateCacheRedis {
	return &StateCacheRedis{rdb: rdb, ttl: ttl}
}

var _ StateCache = (*StateCacheRedis)(nil)

func stateCacheKey(deviceID string) string { return stateCacheKeyPrefix + deviceID }

func (c *StateCacheRedis) Set(ctx context.Context, s models.DeviceState) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal device state %q: %w", s.DeviceID, err)
	}
	if err := c.rdb.Set(ctx, stateCacheKey(s.DeviceID), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", s.DeviceID, err)
	}
	return nil
}

// Get returns (nil, nil) when the key is absent or expired.
func (c *StateCacheRedis) Get(ctx context.Context, deviceID string) (*models.DeviceState, error) {
	b, err := c.rdb.Get(ctx, stateCacheKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", deviceID, err)
	}
	var s models.DeviceState
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("unmarshal cached state %q: %w", deviceID, err)
	}
	return &s, nil
}

// Ping verifies connectivity at startup.
func (c *StateCacheRedis) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
