// Package sink is a development stand-in for the remote endpoint records are
// synced to. It accepts activity-sync envelopes and discards replays by
// idempotency key.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/agentworkforce/offlinesync/internal/records"
)

// Activity is one accepted envelope.
type Activity struct {
	IdempotencyKey string           `json:"idempotencyKey"`
	ReceivedAt     time.Time        `json:"receivedAt"`
	Envelope       records.Envelope `json:"envelope"`
}

type Repository interface {
	// Save stores a unless an activity with the same key exists. created is
	// false for a replay.
	Save(ctx context.Context, a Activity) (created bool, err error)
	List(ctx context.Context) ([]Activity, error)
}

type memoryRepository struct {
	mu    sync.Mutex
	byKey map[string]Activity
	order []string
}

func NewMemoryRepository() Repository {
	return &memoryRepository{byKey: map[string]Activity{}}
}

func (r *memoryRepository) Save(_ context.Context, a Activity) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[a.IdempotencyKey]; ok {
		return false, nil
	}
	r.byKey[a.IdempotencyKey] = a
	r.order = append(r.order, a.IdempotencyKey)
	return true, nil
}

func (r *memoryRepository) List(_ context.Context) ([]Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Activity, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.byKey[key])
	}
	return out, nil
}

const (
	activityPrefix = "activity:" // String: activity:{key} -> json
	activitiesKey  = "activities" // List: accepted keys in arrival order
)

type redisRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisRepository(client *redis.Client, prefix string) Repository {
	if prefix == "" {
		prefix = "offlinesync-sink:"
	}
	return &redisRepository{client: client, prefix: prefix}
}

func (r *redisRepository) activityKey(key string) string {
	return r.prefix + activityPrefix + key
}

func (r *redisRepository) Save(ctx context.Context, a Activity) (bool, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	created, err := r.client.SetNX(ctx, r.activityKey(a.IdempotencyKey), payload, 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to store activity %s: %w", a.IdempotencyKey, err)
	}
	if !created {
		return false, nil
	}
	if err := r.client.RPush(ctx, r.prefix+activitiesKey, a.IdempotencyKey).Err(); err != nil {
		return true, fmt.Errorf("failed to index activity %s: %w", a.IdempotencyKey, err)
	}
	return true, nil
}

func (r *redisRepository) List(ctx context.Context) ([]Activity, error) {
	keys, err := r.client.LRange(ctx, r.prefix+activitiesKey, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	if len(keys) == 0 {
		return []Activity{}, nil
	}
	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, r.activityKey(key))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load activities: %w", err)
	}
	out := make([]Activity, 0, len(keys))
	for _, cmd := range cmds {
		raw, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var a Activity
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
