package data

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// errEmptyKey is returned for every call made with an empty key.
var errEmptyKey = errors.New("key cannot be empty")

// RedisCacheRepo implements core.CacheRepository on Redis.
type RedisCacheRepo struct {
	client redis.UniversalClient
}

// NewRedisCacheRepo creates a new RedisCacheRepo with the given Redis client.
func NewRedisCacheRepo(client redis.UniversalClient) *RedisCacheRepo {
	return &RedisCacheRepo{client: client}
}

// Set stores a value in Redis with the given key and TTL.
func (r *RedisCacheRepo) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errEmptyKey
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// versionSuffix names the companion key holding the version written by SetIfNewer.
const versionSuffix = "#version"

func versionKey(key string) string { return key + versionSuffix }

// setIfNewerScript writes KEYS[1] and its version key KEYS[2] unless the stored version is
// higher than ARGV[1]. ARGV[3] is the TTL in milliseconds; zero keeps the keys forever.
var setIfNewerScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[2])
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ttl)
	redis.call('SET', KEYS[2], ARGV[1], 'PX', ttl)
else
	redis.call('SET', KEYS[1], ARGV[2])
	redis.call('SET', KEYS[2], ARGV[1])
end
return 1
`)

// SetIfNewer stores value under key unless a higher version was already written.
func (r *RedisCacheRepo) SetIfNewer(ctx context.Context, key string, version int64, value []byte, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errEmptyKey
	}
	n, err := setIfNewerScript.Run(ctx, r.client, []string{key, versionKey(key)}, version, value, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis set if newer: %w", err)
	}
	return n == 1, nil
}

// Get retrieves a value from Redis by key; a missing key yields nil, nil.
func (r *RedisCacheRepo) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errEmptyKey
	}
	result, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return result, nil
}

// Delete removes a key, and its version key if any, from Redis.
func (r *RedisCacheRepo) Delete(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errEmptyKey
	}
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, key)
		pipe.Del(ctx, versionKey(key))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis del: %w", err)
	}
	return del.Val() > 0, nil
}

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 200

// DeleteByPrefix removes every key matching prefix*. It walks the keyspace with SCAN, so keys
// written concurrently may survive. Version keys are removed but not counted.
func (r *RedisCacheRepo) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, errEmptyKey
	}
	deleted := 0
	iter := r.client.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := r.client.Del(ctx, batch...).Result(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		for _, k := range batch {
			if !strings.HasSuffix(k, versionSuffix) {
				deleted++
			}
		}
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis scan: %w", err)
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// Health checks the health of the Redis connection.
func (r *RedisCacheRepo) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
