package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis client methods used by RedisStore.
// Keeping it as an interface enables mocking in tests.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Close() error
}

// RedisConfig holds connection settings for a RedisStore
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps each file as a string key named Prefix+path
type RedisStore struct {
	cfg    RedisConfig
	client RedisClient
	logger *slog.Logger
}

// RedisOption configures a RedisStore
type RedisOption func(*RedisStore)

// WithRedisLogger sets the logger
func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(s *RedisStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRedisStore connects to Redis and verifies the connection with PING
func NewRedisStore(ctx context.Context, cfg RedisConfig, opts ...RedisOption) (*RedisStore, error) {
	ropts := &redis.Options{
		Addr: cfg.Address,
		DB:   cfg.DB,
	}
	if cfg.Password != "" {
		ropts.Password = cfg.Password
	}
	client := redis.NewClient(ropts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis store %s: ping failed: %w", cfg.Address, err)
	}

	s := NewRedisStoreWithClient(cfg, client, opts...)
	s.logger.Info("redis store connected", "address", cfg.Address, "prefix", cfg.Prefix)
	return s, nil
}

// NewRedisStoreWithClient creates a RedisStore backed by a pre-built client
func NewRedisStoreWithClient(cfg RedisConfig, client RedisClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		cfg:    cfg,
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(name string) string {
	return s.cfg.Prefix + cleanPath(name)
}

// Read returns the contents of name
func (s *RedisStore) Read(ctx context.Context, name string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", name, err)
	}
	return data, nil
}

// Write stores data under name without expiry
func (s *RedisStore) Write(ctx context.Context, name string, data []byte) error {
	if err := s.client.Set(ctx, s.key(name), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", name, err)
	}
	return nil
}

// List returns the sorted names of files directly in dir
func (s *RedisStore) List(ctx context.Context, dir string) ([]string, error) {
	dir = cleanPath(dir)
	base := s.cfg.Prefix
	if dir != "." {
		base += dir + "/"
	}

	names := make([]string, 0)
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, escapeGlob(base)+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %s: %w", dir, err)
		}
		for _, k := range keys {
			rest := strings.TrimPrefix(k, base)
			if rest != "" && !strings.Contains(rest, "/") {
				names = append(names, path.Base(rest))
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Strings(names)
	return dedupe(names), nil
}

// Delete removes name
func (s *RedisStore) Delete(ctx context.Context, name string) error {
	n, err := s.client.Del(ctx, s.key(name)).Result()
	if err != nil {
		return fmt.Errorf("redis del %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotExist, name)
	}
	return nil
}

// Exists reports whether name holds a file
func (s *RedisStore) Exists(ctx context.Context, name string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(name)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", name, err)
	}
	return n > 0, nil
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}

// dedupe drops adjacent duplicates; SCAN may return a key more than once
func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
