// Package ratelimit implements the Rate Limiter (C3): a global bucket, a
// per-provider bucket keyed by each adapter's declared quota, and a
// "fallback" bucket split into match/search sub-counters. Each bucket is
// a counter reset every P seconds, not a classical leaky bucket (spec
// §4.1, Glossary "Token bucket (window)") — deliberately NOT built on
// golang.org/x/time/rate, whose continuous token refill would diverge
// from "reset to zero every P seconds" under bursty traffic.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"novastream/internal/store"
)

// FallbackKind selects the match or search sub-counter of the fallback
// bucket.
type FallbackKind string

const (
	FallbackMatch  FallbackKind = "match"
	FallbackSearch FallbackKind = "search"
)

const (
	globalBucketKey   = "global"
	fallbackKeyPrefix = "fallback"
)

// LimitExceeded is returned by Check/CheckFallback when a bucket is
// exhausted.
type LimitExceeded struct {
	Bucket           string
	RetryAfterSeconds float64
}

func (e *LimitExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q, retry after %.1fs", e.Bucket, e.RetryAfterSeconds)
}

type bucket struct {
	count     int
	lastReset time.Time
	limit     int
	period    time.Duration
}

// ProviderQuota is the adapter-declared rate_limit_quota (count per
// period); Limit <= 0 means unlimited.
type ProviderQuota struct {
	Limit  int
	Period time.Duration
}

// Limiter is the C3 Rate Limiter.
type Limiter struct {
	st *store.Store

	mu       sync.Mutex
	buckets  map[string]*bucket
	nowFn    func() time.Time

	globalLimit  int
	globalPeriod time.Duration

	fallbackLimit  int
	fallbackPeriod time.Duration

	providerQuotas map[string]ProviderQuota

	verificationFailed bool
}

// Config is the startup configuration for the limiter, §4.1's G/P and
// per-fallback F/P.
type Config struct {
	GlobalLimit    int
	GlobalPeriod   time.Duration
	FallbackLimit  int
	FallbackPeriod time.Duration
	ProviderQuotas map[string]ProviderQuota
}

// New constructs a Limiter backed by st for durable counters across
// restarts.
func New(st *store.Store, cfg Config) *Limiter {
	return &Limiter{
		st:             st,
		buckets:        make(map[string]*bucket),
		nowFn:          time.Now,
		globalLimit:    cfg.GlobalLimit,
		globalPeriod:   cfg.GlobalPeriod,
		fallbackLimit:  cfg.FallbackLimit,
		fallbackPeriod: cfg.FallbackPeriod,
		providerQuotas: cfg.ProviderQuotas,
	}
}

// SetVerificationFailed puts the limiter into verification_failed mode:
// every non-trivial check is rejected, but status() still reports
// counters.
func (l *Limiter) SetVerificationFailed(failed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verificationFailed = failed
}

func (l *Limiter) loadBucket(ctx context.Context, key string, limit int, period time.Duration) (*bucket, error) {
	if b, ok := l.buckets[key]; ok {
		return b, nil
	}
	b := &bucket{limit: limit, period: period, lastReset: l.nowFn()}
	if st, err := l.st.GetRateLimitState(ctx, key); err == nil {
		b.count = st.RequestCount
		b.lastReset = st.LastResetTime
	} else if err != store.ErrNotFound {
		return nil, err
	}
	l.buckets[key] = b
	return b, nil
}

func (l *Limiter) persist(ctx context.Context, key string, b *bucket) {
	_ = l.st.UpsertRateLimitState(ctx, store.RateLimitState{
		BucketKey:     key,
		RequestCount:  b.count,
		LastResetTime: b.lastReset,
	})
}

// maybeReset zeroes the bucket if the period has elapsed, per §4.1:
// "if now - last_reset >= period, reset count=0 and last_reset=now
// before evaluating."
func (b *bucket) maybeReset(now time.Time) {
	if b.period > 0 && now.Sub(b.lastReset) >= b.period {
		b.count = 0
		b.lastReset = now
	}
}

func (b *bucket) retryAfter(now time.Time) float64 {
	remaining := b.period - now.Sub(b.lastReset)
	if remaining < 0 {
		remaining = 0
	}
	return remaining.Seconds()
}

// Check enforces the global bucket first, then the provider bucket, per
// §4.1's Ordering rule ("a global hit masks provider decisions"). On
// success it increments both counters.
func (l *Limiter) Check(ctx context.Context, provider string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.verificationFailed {
		return &LimitExceeded{Bucket: "verification_failed", RetryAfterSeconds: 0}
	}

	now := l.nowFn()

	global, err := l.loadBucket(ctx, globalBucketKey, l.globalLimit, l.globalPeriod)
	if err != nil {
		return err
	}
	global.maybeReset(now)
	if l.globalLimit > 0 && global.count >= l.globalLimit {
		return &LimitExceeded{Bucket: globalBucketKey, RetryAfterSeconds: global.retryAfter(now)}
	}

	q := l.providerQuotas[provider]
	var prov *bucket
	if q.Limit > 0 {
		prov, err = l.loadBucket(ctx, "provider:"+provider, q.Limit, q.Period)
		if err != nil {
			return err
		}
		prov.maybeReset(now)
		if prov.count >= q.Limit {
			return &LimitExceeded{Bucket: "provider:" + provider, RetryAfterSeconds: prov.retryAfter(now)}
		}
	}

	global.count++
	l.persist(ctx, globalBucketKey, global)
	if prov != nil {
		prov.count++
		l.persist(ctx, "provider:"+provider, prov)
	}
	return nil
}

// CheckFallback enforces the shared fallback bucket's match/search
// sub-counter.
func (l *Limiter) CheckFallback(ctx context.Context, kind FallbackKind, provider string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.verificationFailed {
		return &LimitExceeded{Bucket: "verification_failed", RetryAfterSeconds: 0}
	}

	now := l.nowFn()
	key := fmt.Sprintf("%s:%s", fallbackKeyPrefix, kind)
	b, err := l.loadBucket(ctx, key, l.fallbackLimit, l.fallbackPeriod)
	if err != nil {
		return err
	}
	b.maybeReset(now)
	if l.fallbackLimit > 0 && b.count >= l.fallbackLimit {
		return &LimitExceeded{Bucket: key, RetryAfterSeconds: b.retryAfter(now)}
	}
	b.count++
	l.persist(ctx, key, b)
	return nil
}

// Increment adds one to a provider's counter after a successful adapter
// call made outside Check. Every call adds one; repeated calls for the
// same request are not recognised, so a caller that wants a retried
// request counted once calls it once.
func (l *Limiter) Increment(ctx context.Context, provider string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	q := l.providerQuotas[provider]
	if q.Limit <= 0 {
		return nil
	}
	now := l.nowFn()
	b, err := l.loadBucket(ctx, "provider:"+provider, q.Limit, q.Period)
	if err != nil {
		return err
	}
	b.maybeReset(now)
	b.count++
	l.persist(ctx, "provider:"+provider, b)
	return nil
}

// BucketStatus is one row of Status()'s snapshot.
type BucketStatus struct {
	Bucket    string
	Count     int
	Limit     int
	LastReset time.Time
}

// Status snapshots every known bucket for the observability surface.
func (l *Limiter) Status() []BucketStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]BucketStatus, 0, len(l.buckets))
	for key, b := range l.buckets {
		out = append(out, BucketStatus{Bucket: key, Count: b.count, Limit: b.limit, LastReset: b.lastReset})
	}
	return out
}
