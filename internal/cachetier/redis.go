package cachetier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"
)

const (
	redisNamesKey    = "caches"       // Set: every cache name
	redisCachePrefix = "cache:"       // Hash prefix: cache:{name} -> request key to snapshot JSON
	defaultKeyPrefix = "offlinesync:" // namespace shared with other tenants of the instance
)

type redisStorage struct {
	client *redis.Client
	prefix string
}

// NewRedisStorage stores cache names in a set and each cache in its own hash.
func NewRedisStorage(client *redis.Client, prefix string) Storage {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &redisStorage{client: client, prefix: prefix}
}

func (s *redisStorage) namesKey() string {
	return s.prefix + redisNamesKey
}

func (s *redisStorage) cacheKey(name string) string {
	return s.prefix + redisCachePrefix + name
}

func (s *redisStorage) Open(ctx context.Context, name string) (Cache, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrInvalidInput
	}
	if err := s.client.SAdd(ctx, s.namesKey(), name).Err(); err != nil {
		return nil, fmt.Errorf("register cache %s: %w", name, err)
	}
	return &redisCache{client: s.client, key: s.cacheKey(name)}, nil
}

func (s *redisStorage) Has(ctx context.Context, name string) (bool, error) {
	return s.client.SIsMember(ctx, s.namesKey(), name).Result()
}

func (s *redisStorage) Delete(ctx context.Context, name string) (bool, error) {
	pipe := s.client.TxPipeline()
	removed := pipe.SRem(ctx, s.namesKey(), name)
	pipe.Del(ctx, s.cacheKey(name))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	return removed.Val() > 0, nil
}

func (s *redisStorage) Names(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.namesKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *redisStorage) Close() error {
	return s.client.Close()
}

type redisCache struct {
	client *redis.Client
	key    string
}

func (c *redisCache) Match(ctx context.Context, key string) (Snapshot, bool, error) {
	payload, err := c.client.HGet(ctx, c.key, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return snap, true, nil
}

func (c *redisCache) Put(ctx context.Context, key string, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.HSet(ctx, c.key, key, payload).Err()
}

func (c *redisCache) Delete(ctx context.Context, key string) (bool, error) {
	n, err := c.client.HDel(ctx, c.key, key).Result()
	return n > 0, err
}

func (c *redisCache) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.client.HKeys(ctx, c.key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
