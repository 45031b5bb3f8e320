// Package redisstore persists state in Redis: plain keys for snapshots,
// capped lists for time series and hashes for order records.
package redisstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vadiminshakov/auction/internal/storage"
	"github.com/vadiminshakov/auction/pkg/retrier"
)

// Config connection settings.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Prefix       string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
}

// Option overrides one config field.
type Option func(*Config)

func WithPassword(p string) Option { return func(c *Config) { c.Password = p } }
func WithDB(db int) Option         { return func(c *Config) { c.DB = db } }
func WithPrefix(p string) Option   { return func(c *Config) { c.Prefix = p } }
func WithPoolSize(n int) Option    { return func(c *Config) { c.PoolSize = n } }

// Backend Redis-backed storage.Backend.
type Backend struct {
	client *redis.Client
	prefix string
}

var _ storage.Backend = (*Backend)(nil)

// NewBackend connects to Redis and waits until it answers PING.
func NewBackend(ctx context.Context, l *zap.Logger, addr string, opts ...Option) (*Backend, error) {
	cfg := &Config{
		Addr:         addr,
		Prefix:       "auction",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
	})

	r := retrier.New(retrier.StoreConnect)
	err := r.Do(ctx, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			l.Warn("redis ping failed", zap.String("addr", cfg.Addr), zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "connect redis %s", cfg.Addr)
	}

	return &Backend{client: client, prefix: cfg.Prefix}, nil
}

// New connects and returns a JSON store over Redis.
func New(ctx context.Context, l *zap.Logger, addr string, opts ...Option) (*storage.JSONStore, error) {
	b, err := NewBackend(ctx, l, addr, opts...)
	if err != nil {
		return nil, err
	}
	return storage.NewJSONStore(b), nil
}

func (b *Backend) wrapKey(key string) string {
	return b.prefix + ":" + key
}

func (b *Backend) Put(ctx context.Context, key string, value []byte) error {
	return b.client.Set(ctx, b.wrapKey(key), value, 0).Err()
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, b.wrapKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Append pushes to the head of the list and trims it to limit in one transaction.
func (b *Backend) Append(ctx context.Context, key string, value []byte, limit int) error {
	k := b.wrapKey(key)
	pipe := b.client.TxPipeline()
	pipe.LPush(ctx, k, value)
	if limit > 0 {
		pipe.LTrim(ctx, k, 0, int64(limit-1))
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Range reads newest first from Redis and reverses to oldest first.
func (b *Backend) Range(ctx context.Context, key string, n int) ([][]byte, error) {
	stop := int64(-1)
	if n > 0 {
		stop = int64(n - 1)
	}
	items, err := b.client.LRange(ctx, b.wrapKey(key), 0, stop).Result()
	if err != nil {
		return nil, err
	}

	out := make([][]byte, len(items))
	for i, item := range items {
		out[len(items)-1-i] = []byte(item)
	}
	return out, nil
}

func (b *Backend) PutField(ctx context.Context, key, field string, value []byte) error {
	return b.client.HSet(ctx, b.wrapKey(key), field, value).Err()
}

func (b *Backend) Fields(ctx context.Context, key string) (map[string][]byte, error) {
	all, err := b.client.HGetAll(ctx, b.wrapKey(key)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(all))
	for f, v := range all {
		out[f] = []byte(v)
	}
	return out, nil
}

// Durable is true: Redis persistence is configured server side.
func (b *Backend) Durable() bool { return true }

func (b *Backend) Close() error {
	return b.client.Close()
}
