package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps entries in Redis so several server replicas share one
// cache. Entry bodies live under <prefix>entry:<key> and carry the entry's
// remaining lifetime as a native TTL; two sorted sets index them by last access
// and by expiry. Index members whose body Redis already expired are dropped on
// the next Load of that key or the next Sweep.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore uses client with keys namespaced under prefix ("deep-research:"
// when empty).
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "deep-research:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedis connects and pings.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisStore) entryKey(key string) string { return s.prefix + "entry:" + key }
func (s *RedisStore) lruKey() string             { return s.prefix + "lru" }
func (s *RedisStore) expiryKey() string          { return s.prefix + "expiry" }

func (s *RedisStore) Load(ctx context.Context, key string) (*Entry, error) {
	raw, err := s.client.Get(ctx, s.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		if _, err := s.remove(ctx, key); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return &e, nil
}

func (s *RedisStore) Save(ctx context.Context, e *Entry) error {
	// LastAccessedAt is the cache's "now" for this write.
	ttl := e.ExpiresAt.Sub(e.LastAccessedAt)
	if ttl <= 0 {
		_, err := s.remove(ctx, e.Key)
		return err
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.entryKey(e.Key), raw, ttl)
		p.ZAdd(ctx, s.lruKey(), redis.Z{Score: float64(e.LastAccessedAt.UnixMilli()), Member: e.Key})
		p.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(e.ExpiresAt.UnixMilli()), Member: e.Key})
		return nil
	})
	return err
}

func (s *RedisStore) remove(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	entryKeys := make([]string, len(keys))
	members := make([]any, len(keys))
	for i, k := range keys {
		entryKeys[i] = s.entryKey(k)
		members[i] = k
	}
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, entryKeys...)
		p.ZRem(ctx, s.lruKey(), members...)
		p.ZRem(ctx, s.expiryKey(), members...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return del.Val(), nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.remove(ctx, key)
	return n > 0, err
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.lruKey()).Result()
	return int(n), err
}

func (s *RedisStore) EvictOldest(ctx context.Context) (string, error) {
	popped, err := s.client.ZPopMin(ctx, s.lruKey(), 1).Result()
	if err != nil {
		return "", err
	}
	if len(popped) == 0 {
		return "", nil
	}
	key, _ := popped[0].Member.(string)
	if _, err := s.remove(ctx, key); err != nil {
		return "", err
	}
	return key, nil
}

func (s *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	keys, err := s.client.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	if _, err := s.remove(ctx, keys...); err != nil {
		return 0, err
	}
	return len(keys), nil
}
