package credstore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// defaultRedisPrefix namespaces credential keys.
const defaultRedisPrefix = "authsession"

// RedisStore keeps credentials as Redis keys whose TTL is the value's max
// age. Every process pointed at the same Redis and prefix shares them.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore returns a RedisStore. prefix scopes the keys, typically to
// one origin and user; an empty prefix uses "authsession".
func NewRedisStore(redisClient redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	return &RedisStore{redis: redisClient, prefix: prefix}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + ":" + name
}

func (s *RedisStore) Get(ctx context.Context, name string) (string, bool, error) {
	v, err := s.redis.Get(ctx, s.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}

	if err != nil {
		return "", false, &StoreError{Op: "get", Name: name, Err: err}
	}

	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, name, value string, opts Options) error {
	if err := s.redis.Set(ctx, s.key(name), value, opts.MaxAge).Err(); err != nil {
		return &StoreError{Op: "set", Name: name, Err: err}
	}

	return nil
}

func (s *RedisStore) Clear(ctx context.Context, name string) error {
	if err := s.redis.Del(ctx, s.key(name)).Err(); err != nil {
		return &StoreError{Op: "clear", Name: name, Err: err}
	}

	return nil
}
