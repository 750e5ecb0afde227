package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Redis bundles the client with its lock client. Redis is optional: callers
// treat a nil *Redis as "not configured".
type Redis struct {
	Client *redis.Client
	Locker *redislock.Client
}

func ConnectRedis(ctx context.Context, address string) (*Redis, error) {
	if address == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: address,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", address, err)
	}
	return &Redis{Client: rdb, Locker: redislock.New(rdb)}, nil
}

func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

// GetObject decodes the JSON value at key into dest. The bool is false on a miss.
func (r *Redis) GetObject(ctx context.Context, key string, dest any) (bool, error) {
	if r == nil || r.Client == nil {
		return false, nil
	}
	val, err := r.Client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Redis) SetObject(ctx context.Context, key string, obj any, exp time.Duration) error {
	if r == nil || r.Client == nil {
		return nil
	}
	objInByte, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, key, objInByte, exp).Err()
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Del(ctx, keys...).Err()
}

// Hit counts one request in the fixed window stored at key and returns the
// count so far. The window starts with the first hit.
func (r *Redis) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	if r == nil || r.Client == nil {
		return 0, nil
	}
	count, err := r.Client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := r.Client.Expire(ctx, key, window).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}
