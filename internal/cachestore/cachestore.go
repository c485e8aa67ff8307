// Package cachestore provides the DB-backed Cache Store (C2): a
// key/value cache with per-entry TTLs and prefix-scoped invalidation,
// built on top of internal/store's cache_entry table rather than an
// in-memory map, per the platform's design note that the cache must
// survive process restarts.
package cachestore

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"novastream/internal/store"
)

const stripes = 64

// Cache is the C2 Cache Store.
type Cache struct {
	st     *store.Store
	locks  [stripes]sync.Mutex
	nowFn  func() time.Time
}

// New wraps st. nowFn defaults to time.Now and exists so tests can
// control expiry deterministically.
func New(st *store.Store) *Cache {
	return &Cache{st: st, nowFn: time.Now}
}

func (c *Cache) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &c.locks[h.Sum32()%stripes]
}

// Get unmarshals the cached value for key into dest. It reports whether
// the key was present and unexpired.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.st.GetCacheEntry(ctx, key, c.nowFn())
	if err != nil {
		if err == store.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	if dest == nil {
		return true, nil
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores value under key with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.st.SetCacheEntry(ctx, key, string(raw), c.nowFn().Add(ttl))
}

// Delete removes a single key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.st.DeleteCacheEntry(ctx, key)
}

// ClearPrefix removes every key with the given prefix (e.g. when a
// provider's settings change and its cached pages must be dropped).
func (c *Cache) ClearPrefix(ctx context.Context, prefix string) (int64, error) {
	return c.st.ClearCachePrefix(ctx, prefix)
}

// PurgeExpired deletes all expired rows; intended for a periodic
// housekeeping job rather than the request path.
func (c *Cache) PurgeExpired(ctx context.Context) (int64, error) {
	return c.st.PurgeExpiredCacheEntries(ctx, c.nowFn())
}

// GetOrSet looks up key; on a miss it calls fill under a per-key stripe
// lock (so concurrent misses for the same key only fill once), caches
// the result, and returns it. dest receives the final value either way.
func (c *Cache) GetOrSet(ctx context.Context, key string, dest any, ttl time.Duration, fill func(ctx context.Context) (any, error)) error {
	if ok, err := c.Get(ctx, key, dest); err != nil {
		return err
	} else if ok {
		return nil
	}

	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	// Re-check: another goroutine may have filled it while we waited.
	if ok, err := c.Get(ctx, key, dest); err != nil {
		return err
	} else if ok {
		return nil
	}

	value, err := fill(ctx)
	if err != nil {
		return err
	}
	if err := c.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
