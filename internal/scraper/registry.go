package scraper

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/avast/retry-go/v4"
	"github.com/sony/gobreaker/v2"
	"github.com/sourcegraph/conc/pool"

	"novastream/internal/ratelimit"
	"novastream/internal/verify"
	"novastream/models"
)

// searchFanOutMaxGoroutines bounds SearchAll's concurrent adapter calls
// so a provider list in the dozens doesn't open dozens of sockets at
// once.
const searchFanOutMaxGoroutines = 8

// AdapterMeta is the registry's view of one verified, enabled adapter.
type AdapterMeta struct {
	Adapter  Adapter
	Verified bool
	Enabled  bool
}

// Registry is the C4 Scraper Adapter Registry.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]*AdapterMeta
	breakers map[string]*gobreaker.CircuitBreaker[any]
	limiter  *ratelimit.Limiter
}

// NewRegistry builds a Registry from the compile-time Registered slice.
// pubKey is used to verify each adapter's detached signature when
// verificationEnabled is true; otherwise all adapters are treated as
// verified.
func NewRegistry(limiter *ratelimit.Limiter, verificationEnabled bool, signatures map[string][]byte, pubKeyPEM []byte) (*Registry, error) {
	r := &Registry{
		adapters: make(map[string]*AdapterMeta),
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
		limiter:  limiter,
	}

	var pubKey *rsa.PublicKey
	if verificationEnabled {
		pk, err := verify.ParsePublicKey(pubKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("scraper: parse registry public key: %w", err)
		}
		pubKey = pk
	}

	for _, factory := range Registered {
		a := factory()
		name := a.ProviderName()
		verified := true
		if verificationEnabled {
			sig, ok := signatures[name]
			if !ok {
				log.Printf("[scraper] adapter %q has no signature, marking unverified", name)
				verified = false
			} else if err := verify.Verify(pubKey, []byte(name), sig); err != nil {
				log.Printf("[scraper] adapter %q failed signature verification: %v", name, err)
				verified = false
			}
		}
		r.adapters[name] = &AdapterMeta{Adapter: a, Verified: verified, Enabled: verified}
		r.breakers[name] = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{Name: name})
	}
	return r, nil
}

// Get returns the named adapter if registered and enabled.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.adapters[name]
	if !ok || !m.Enabled {
		return nil, false
	}
	return m.Adapter, true
}

// SetEnabled toggles an adapter, used when per-source settings change.
func (r *Registry) SetEnabled(name string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.adapters[name]; ok {
		m.Enabled = enabled && m.Verified
	}
}

// Names returns every registered, enabled provider name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for name, m := range r.adapters {
		if m.Enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ResolveByDomain finds the enabled adapter whose HandledDomains contains
// host (or a suffix match, so "www.example.com" matches a declared
// "example.com"), used by the compat API's /extcomment domain map
// (spec §4.6).
func (r *Registry) ResolveByDomain(host string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.adapters {
		if !m.Enabled {
			continue
		}
		for _, d := range m.Adapter.HandledDomains() {
			if host == d || strings.HasSuffix(host, "."+d) {
				return m.Adapter, true
			}
		}
	}
	return nil, false
}

func (r *Registry) callWithGuards(ctx context.Context, provider string, fn func(ctx context.Context) (any, error)) (any, error) {
	if err := r.limiter.Check(ctx, provider); err != nil {
		return nil, err
	}
	r.mu.RLock()
	breaker := r.breakers[provider]
	r.mu.RUnlock()

	return breaker.Execute(func() (any, error) {
		return retry.DoWithData(func() (any, error) {
			return fn(ctx)
		}, retry.Context(ctx), retry.Attempts(3))
	})
}

// CallGuarded wraps fn with the same circuit breaker and retry policy as
// SearchAll/SearchSequentially, for callers (the fallback engine's
// GetEpisodes/GetComments dispatch) that gate their own rate limit
// check against a different bucket (ratelimit.CheckFallback) and so
// don't want the provider's general Check applied a second time.
func (r *Registry) CallGuarded(ctx context.Context, provider string, fn func(ctx context.Context) (any, error)) (any, error) {
	r.mu.RLock()
	breaker, ok := r.breakers[provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("scraper: adapter %q not registered", provider)
	}
	return breaker.Execute(func() (any, error) {
		return retry.DoWithData(func() (any, error) {
			return fn(ctx)
		}, retry.Context(ctx), retry.Attempts(3))
	})
}

// SearchResult pairs a provider's search hits with any error it raised,
// for callers that want partial results from a fan-out.
type SearchResult struct {
	Provider string
	Results  []models.ProviderSearchInfo
	Err      error
}

// SearchAll fans out keyword to every enabled adapter concurrently,
// bounded by searchFanOutMaxGoroutines, using conc/pool's result
// collector so the per-provider goroutine management (and its result
// slice) doesn't need to be hand-rolled.
func (r *Registry) SearchAll(ctx context.Context, keyword string, episodeInfo *models.EpisodeInfo) []SearchResult {
	names := r.Names()
	p := pool.NewWithResults[SearchResult]().WithMaxGoroutines(searchFanOutMaxGoroutines)
	for _, name := range names {
		name := name
		p.Go(func() SearchResult {
			adapter, ok := r.Get(name)
			if !ok {
				return SearchResult{Provider: name, Err: fmt.Errorf("scraper: adapter %q not enabled", name)}
			}
			raw, err := r.callWithGuards(ctx, name, func(ctx context.Context) (any, error) {
				return adapter.Search(ctx, keyword, episodeInfo)
			})
			if err != nil {
				return SearchResult{Provider: name, Err: err}
			}
			return SearchResult{Provider: name, Results: raw.([]models.ProviderSearchInfo)}
		})
	}
	return p.Wait()
}

// SearchSequentially tries adapters in order, stopping at the first
// that returns at least one result. Used when a caller wants the
// cheapest first-match rather than exhaustive fan-out.
func (r *Registry) SearchSequentially(ctx context.Context, keyword string, episodeInfo *models.EpisodeInfo, order []string) SearchResult {
	for _, name := range order {
		adapter, ok := r.Get(name)
		if !ok {
			continue
		}
		raw, err := r.callWithGuards(ctx, name, func(ctx context.Context) (any, error) {
			return adapter.Search(ctx, keyword, episodeInfo)
		})
		if err != nil {
			continue
		}
		list := raw.([]models.ProviderSearchInfo)
		if len(list) > 0 {
			return SearchResult{Provider: name, Results: list}
		}
	}
	return SearchResult{}
}
