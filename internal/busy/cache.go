package busy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var ErrCacheMiss = errors.New("cache miss")

// KV is the slice of redis the busy layer needs.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type RedisKV struct {
	client *redis.Client
}

func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return v, err
}

func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// MemoryKV is an in-process KV used when no redis address is configured.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]memEntry
	now  func() time.Time
}

type memEntry struct {
	value   string
	expires time.Time
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]memEntry), now: time.Now}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[key]
	if !ok || (!e.expires.IsZero() && !m.now().Before(e.expires)) {
		return "", ErrCacheMiss
	}
	return e.value, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memEntry{value: value}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.data[key] = e
	return nil
}

func (m *MemoryKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// Cached is a read-through cache in front of another Source. Ranges are
// widened to whole UTC days so that requests made moments apart share a key.
type Cached struct {
	next Source
	kv   KV
	ttl  time.Duration
	log  *zap.Logger
}

func NewCached(next Source, kv KV, ttl time.Duration, log *zap.Logger) *Cached {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cached{next: next, kv: kv, ttl: ttl, log: log}
}

func (c *Cached) Busy(ctx context.Context, hostID string, from, to time.Time) ([]Interval, error) {
	dayFrom := from.UTC().Truncate(24 * time.Hour)
	dayTo := to.UTC().Truncate(24 * time.Hour)
	if dayTo.Before(to) {
		dayTo = dayTo.Add(24 * time.Hour)
	}
	key := fmt.Sprintf("busy:%s:%d:%d", hostID, dayFrom.Unix(), dayTo.Unix())

	raw, err := c.kv.Get(ctx, key)
	switch {
	case err == nil:
		var cached []Interval
		if jerr := json.Unmarshal([]byte(raw), &cached); jerr == nil {
			return Clip(cached, from, to), nil
		}
		c.log.Warn("discarding unreadable busy cache entry", zap.String("key", key))
	case !errors.Is(err, ErrCacheMiss):
		c.log.Warn("busy cache read failed", zap.String("key", key), zap.Error(err))
	}

	fresh, err := c.next.Busy(ctx, hostID, dayFrom, dayTo)
	if err != nil {
		return nil, err
	}
	fresh = Merge(fresh)
	if b, jerr := json.Marshal(fresh); jerr == nil {
		if serr := c.kv.Set(ctx, key, string(b), c.ttl); serr != nil {
			c.log.Warn("busy cache write failed", zap.String("key", key), zap.Error(serr))
		}
	}
	return Clip(fresh, from, to), nil
}
