package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/foretell/marketex/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
// Writes always go through WithTx against the primary; every commit
// invalidates the cached rows it touched so a reader never observes
// state older than the last committed transaction (spec §5's "cache
// state must be derived from committed store state and invalidated on
// write").
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore wraps primary with a Redis read-through cache using
// the given per-key TTL.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{Store: primary, rdb: rdb, ttl: ttl}
}

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	if data, err := s.rdb.Get(ctx, marketKey(id)).Bytes(); err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}
	m, err := s.Store.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	if data, err := s.rdb.Get(ctx, userKey(id)).Bytes(); err == nil {
		var u model.User
		if json.Unmarshal(data, &u) == nil {
			return &u, nil
		}
	}
	u, err := s.Store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(u); err == nil {
		s.rdb.Set(ctx, userKey(id), data, s.ttl)
	}
	return u, nil
}

// WithTx delegates to the primary store, then evicts every key a
// trade or resolution could have touched. A precise per-row
// invalidation would need the mutated IDs threaded back out of fn;
// instead every commit drops the whole cache, trading a few extra
// primary-store reads for certainty that nothing stale survives a
// write (the cache is a latency optimization, never a correctness
// dependency).
func (s *CachedStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	err := s.Store.WithTx(ctx, fn)
	if err == nil {
		s.rdb.FlushDB(ctx)
	}
	return err
}

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id string) string { return fmt.Sprintf("market:%s", id) }
func userKey(id string) string   { return fmt.Sprintf("user:%s", id) }
