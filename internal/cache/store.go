package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/yesterday/internal/model"
	"github.com/sells-group/yesterday/internal/store"
)

const (
	keyPrefix = "yesterday:day:"
	genPrefix = "yesterday:daygen:"
)

// Counter receives hit and miss notifications. *metrics.Metrics satisfies it.
type Counter interface {
	CacheHit()
	CacheMiss()
}

// Store wraps a store.Store, serving DailyIndex from the cache. Entries are
// keyed by a per-day generation that Rebuild increments, so a load that
// raced a rebuild can only populate a generation no reader asks for again.
// Cache failures fall through to the wrapped store.
type Store struct {
	store.Store

	backend Backend
	ttl     time.Duration
	counter Counter
	group   singleflight.Group
}

// NewStore decorates inner with a read-through day cache.
func NewStore(inner store.Store, backend Backend, ttl time.Duration, counter Counter) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{Store: inner, backend: backend, ttl: ttl, counter: counter}
}

// DailyIndex returns the cached index for date, loading and caching it on a
// miss. Empty days are not cached.
func (s *Store) DailyIndex(ctx context.Context, date model.Date) (*model.DailyIndex, error) {
	gen, ok := s.generation(ctx, date)
	if !ok {
		s.miss()
		return s.Store.DailyIndex(ctx, date)
	}

	key := dayKey(date, gen)
	if idx, ok := s.get(ctx, key); ok {
		s.hit()
		return idx, nil
	}
	s.miss()

	v, err, _ := s.group.Do(key, func() (any, error) {
		idx, err := s.Store.DailyIndex(ctx, date)
		if err != nil || idx == nil {
			return idx, err
		}
		s.set(ctx, key, idx)
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.DailyIndex), nil
}

// Rebuild replaces the day's index and then moves the day to a new
// generation.
func (s *Store) Rebuild(ctx context.Context, date model.Date, entries []model.IndexEntry) error {
	if err := s.Store.Rebuild(ctx, date, entries); err != nil {
		return err
	}
	s.Invalidate(ctx, date)
	return nil
}

// Invalidate bumps the day's generation and drops the previous entry.
func (s *Store) Invalidate(ctx context.Context, date model.Date) {
	gen, err := s.backend.Incr(ctx, genKey(date))
	if err != nil {
		zap.L().Warn("cache: bump generation failed", zap.Stringer("date", date), zap.Error(err))
		return
	}
	if err := s.backend.Del(ctx, dayKey(date, gen-1)); err != nil {
		zap.L().Warn("cache: invalidate failed", zap.Stringer("date", date), zap.Error(err))
	}
}

// generation reads the day's current generation. A day never rebuilt
// through the cache is generation 0. ok is false when it cannot be read.
func (s *Store) generation(ctx context.Context, date model.Date) (int64, bool) {
	data, err := s.backend.Get(ctx, genKey(date))
	if IsMiss(err) {
		return 0, true
	}
	if err != nil {
		zap.L().Warn("cache: get generation failed", zap.Stringer("date", date), zap.Error(err))
		return 0, false
	}
	gen, err := strconv.ParseInt(data, 10, 64)
	if err != nil {
		zap.L().Warn("cache: bad generation", zap.Stringer("date", date), zap.String("value", data))
		return 0, false
	}
	return gen, true
}

// Close closes the cache backend and the wrapped store.
func (s *Store) Close() error {
	if err := s.backend.Close(); err != nil {
		zap.L().Warn("cache: close backend", zap.Error(err))
	}
	return s.Store.Close()
}

func (s *Store) get(ctx context.Context, key string) (*model.DailyIndex, bool) {
	data, err := s.backend.Get(ctx, key)
	if err != nil {
		if !IsMiss(err) {
			zap.L().Warn("cache: get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var idx model.DailyIndex
	if err := json.Unmarshal([]byte(data), &idx); err != nil {
		zap.L().Warn("cache: unmarshal failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &idx, true
}

func (s *Store) set(ctx context.Context, key string, idx *model.DailyIndex) {
	data, err := json.Marshal(idx)
	if err != nil {
		zap.L().Warn("cache: marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.backend.Set(ctx, key, data, s.ttl); err != nil {
		zap.L().Warn("cache: set failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Store) hit() {
	if s.counter != nil {
		s.counter.CacheHit()
	}
}

func (s *Store) miss() {
	if s.counter != nil {
		s.counter.CacheMiss()
	}
}

func dayKey(date model.Date, gen int64) string {
	return keyPrefix + date.String() + ":" + strconv.FormatInt(gen, 10)
}

func genKey(date model.Date) string {
	return genPrefix + date.String()
}
