// Package cache stores fetched VAST and VMAP documents by tag URL.
// It supports an in-process store and a Redis store shared between
// instances, with configurable TTL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL for cached documents
	DefaultTTL = 5 * time.Minute

	// MaxValueSize per entry (512KB)
	MaxValueSize = 512 * 1024

	// Redis key prefix
	keyPrefix = "vast_doc:"
)

// ErrTooLarge is returned when a document exceeds MaxValueSize
var ErrTooLarge = errors.New("document too large to cache")

// Store caches raw document bodies
type Store interface {
	// Get returns the cached body. A miss is (nil, false, nil).
	Get(ctx context.Context, url string) ([]byte, bool, error)
	Set(ctx context.Context, url string, body []byte, ttl time.Duration) error
}

// CachedEntry is what's stored in Redis
type CachedEntry struct {
	URL     string `json:"url"`
	Body    string `json:"body"`
	Created int64  `json:"created"`
}

// Key returns the storage key of a tag URL
func Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// MemoryStore is an in-process Store backed by go-cache
type MemoryStore struct {
	cache      *gocache.Cache
	defaultTTL time.Duration
}

// NewMemoryStore creates an in-process store
func NewMemoryStore(defaultTTL, cleanupInterval time.Duration) *MemoryStore {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 2 * defaultTTL
	}
	return &MemoryStore{
		cache:      gocache.New(defaultTTL, cleanupInterval),
		defaultTTL: defaultTTL,
	}
}

// Get retrieves a cached body
func (s *MemoryStore) Get(_ context.Context, url string) ([]byte, bool, error) {
	v, found := s.cache.Get(Key(url))
	if !found {
		return nil, false, nil
	}
	body, ok := v.([]byte)
	if !ok {
		return nil, false, fmt.Errorf("corrupt cache entry for %s", url)
	}
	return body, true, nil
}

// Set stores a copy of body
func (s *MemoryStore) Set(_ context.Context, url string, body []byte, ttl time.Duration) error {
	if len(body) > MaxValueSize {
		return ErrTooLarge
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	s.cache.Set(Key(url), append([]byte(nil), body...), ttl)
	return nil
}

// Len returns the number of live entries
func (s *MemoryStore) Len() int {
	return s.cache.ItemCount()
}

// RedisStore is a Store shared between instances
type RedisStore struct {
	client     *redis.Client
	defaultTTL time.Duration
}

// NewRedisStore creates a store on an existing client
func NewRedisStore(client *redis.Client, defaultTTL time.Duration) *RedisStore {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &RedisStore{client: client, defaultTTL: defaultTTL}
}

// NewRedisStoreFromURL parses a redis:// URL and pings the server
func NewRedisStoreFromURL(ctx context.Context, redisURL string, defaultTTL time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStore(client, defaultTTL), nil
}

// Get retrieves a cached body
func (s *RedisStore) Get(ctx context.Context, url string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, Key(url)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis error: %w", err)
	}

	var entry CachedEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, false, fmt.Errorf("corrupt cache entry: %w", err)
	}
	if entry.URL != url {
		// hash collision
		return nil, false, nil
	}
	return []byte(entry.Body), true, nil
}

// Set stores body under the tag URL
func (s *RedisStore) Set(ctx context.Context, url string, body []byte, ttl time.Duration) error {
	if len(body) > MaxValueSize {
		return ErrTooLarge
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	data, err := json.Marshal(CachedEntry{
		URL:     url,
		Body:    string(body),
		Created: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if err := s.client.Set(ctx, Key(url), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client returns the underlying Redis client
func (s *RedisStore) Client() *redis.Client {
	return s.client
}
