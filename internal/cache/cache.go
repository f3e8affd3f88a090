// Package cache memoizes gateway queries for a bounded time. It is a pure
// optimization: a disabled cache returns exactly what the gateway does.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/pkg/logger"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// Store is a byte-value store with per-entry expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Config selects and sizes the cache backend.
type Config struct {
	Backend string        `mapstructure:"backend" validate:"oneof=memory redis none"`
	TTL     time.Duration `mapstructure:"ttl" validate:"gte=0"`
	Size    int           `mapstructure:"size" validate:"gte=0"`
}

// Enabled reports whether queries should be memoized at all.
func (c Config) Enabled() bool {
	return c.Backend != "none" && c.Backend != "" && c.TTL > 0
}

// MemoryStore is an in-process expirable LRU.
type MemoryStore struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemoryStore holds at most size entries, each for ttl.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = 256
	}
	return &MemoryStore{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.lru.Get(key)
	return v, ok, nil
}

// Set stores value. The LRU applies its own TTL; ttl is accepted for the
// Store contract.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.lru.Add(key, value)
	return nil
}

// RedisStore shares cached results between operators' runs.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps client; keys are namespaced with prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ghithu:query:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, value, ttl).Err()
}

// Recorder is told about every lookup outcome.
type Recorder interface {
	ObserveCache(hit bool)
}

// Executor is a read-through cache in front of a gateway executor.
type Executor struct {
	next     gateway.Executor
	store    Store
	ttl      time.Duration
	recorder Recorder
	logger   logger.Logger
}

// NewExecutor wraps next. Store failures are logged and bypassed.
func NewExecutor(next gateway.Executor, store Store, ttl time.Duration, rec Recorder, log logger.Logger) *Executor {
	return &Executor{
		next:     next,
		store:    store,
		ttl:      ttl,
		recorder: rec,
		logger:   logger.OrDefault(log).WithComponent("query-cache"),
	}
}

// Key derives the cache key from the function name and the rendered query.
func Key(q gateway.Query) string {
	sum := sha256.Sum256([]byte(q.String()))
	return hex.EncodeToString(sum[:])
}

// FetchRows implements gateway.Executor.
func (e *Executor) FetchRows(ctx context.Context, q gateway.Query) (*gateway.Table, error) {
	key := Key(q)

	if raw, ok, err := e.store.Get(ctx, key); err != nil {
		e.logger.WithError(err).Warn("Cache lookup failed, querying gateway")
	} else if ok {
		var table gateway.Table
		if err := json.Unmarshal(raw, &table); err == nil {
			e.observe(true)
			return &table, nil
		}
		e.logger.WithField("function", q.Function).Warn("Discarding undecodable cache entry")
	}

	e.observe(false)
	table, err := e.next.FetchRows(ctx, q)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(table); err == nil {
		if err := e.store.Set(ctx, key, raw, e.ttl); err != nil {
			e.logger.WithError(err).Warn("Cache write failed")
		}
	}
	return table, nil
}

func (e *Executor) observe(hit bool) {
	if e.recorder != nil {
		e.recorder.ObserveCache(hit)
	}
}

// Wrap returns next unchanged when config disables caching.
func Wrap(next gateway.Executor, config Config, store Store, rec Recorder, log logger.Logger) gateway.Executor {
	if !config.Enabled() || store == nil {
		return next
	}
	return NewExecutor(next, store, config.TTL, rec, log)
}
