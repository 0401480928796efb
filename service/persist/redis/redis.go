package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rekapu/go-rekapu/env"
	"github.com/rekapu/go-rekapu/service/persist"
)

func init() {
	env.RegisterValidation("REDIS_URL", "required")
}

// Store is a redis-backed implementation of persist.Store. Every collection
// maps to a key prefix inside a single logical database, so a whole
// collection can be enumerated with a prefix scan.
type Store struct {
	client *redis.Client
}

func newClient(ctx context.Context) *redis.Client {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	redisURL := env.Get[string](ctx, "REDIS_URL")
	redisPass := env.Get[string](ctx, "REDIS_PASS")
	client := redis.NewClient(&redis.Options{
		Addr:     redisURL,
		Password: redisPass,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		panic(err)
	}
	return client
}

// NewStore creates a new redis-backed store, panicking if the server is
// unreachable
func NewStore(ctx context.Context) *Store {
	return &Store{client: newClient(ctx)}
}

// Client returns the underlying redis client
func (s *Store) Client() *redis.Client {
	return s.client
}

func prefixedKey(coll persist.Collection, key string) string {
	return fmt.Sprintf("%s:%s", coll, key)
}

// Get returns the value stored under a key
func (s *Store) Get(ctx context.Context, coll persist.Collection, key string) ([]byte, error) {
	bs, err := s.client.Get(ctx, prefixedKey(coll, key)).Bytes()
	if err == redis.Nil {
		return nil, persist.ErrKeyNotFound{Collection: coll, Key: key}
	}
	if err != nil {
		return nil, err
	}
	return bs, nil
}

// Set stores a value under a key
func (s *Store) Set(ctx context.Context, coll persist.Collection, key string, value []byte) error {
	return s.client.Set(ctx, prefixedKey(coll, key), value, 0).Err()
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, coll persist.Collection, key string) error {
	return s.client.Del(ctx, prefixedKey(coll, key)).Err()
}

// GetAll returns every entry in a collection via a prefix scan
func (s *Store) GetAll(ctx context.Context, coll persist.Collection) (map[string][]byte, error) {
	prefix := fmt.Sprintf("%s:", coll)
	out := map[string][]byte{}

	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		bs, err := s.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[key[len(prefix):]] = bs
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the underlying client
func (s *Store) Close() error {
	return s.client.Close()
}
