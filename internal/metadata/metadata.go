// Package metadata is the Metadata Source Registry (C5)
// sibling: it supplements a provider search hit with extra identifiers
// (TMDB id, episode-group id) rather than serving episodes/comments
// itself.
package metadata

import (
	"context"
	"sort"
	"sync"

	"novastream/models"
)

// Source is implemented independently per metadata provider (e.g.
// TMDB, TVDB), analogous to scraper.Adapter but narrower.
type Source interface {
	Name() string
	// Supplement enriches info in place with whatever extra identifiers
	// this source can resolve for the given title/year, returning the
	// enriched copy.
	Supplement(ctx context.Context, info models.ProviderSearchInfo) (models.ProviderSearchInfo, error)
}

// SourceFactory constructs a Source, mirroring scraper.AdapterFactory.
type SourceFactory func() Source

// Registered is the compile-time registry of metadata sources.
var Registered []SourceFactory

// Registry is the C5 Metadata Source Registry.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry builds a Registry from the compile-time Registered slice.
func NewRegistry() *Registry {
	r := &Registry{sources: make(map[string]Source)}
	for _, factory := range Registered {
		s := factory()
		r.sources[s.Name()] = s
	}
	return r
}

// Names returns every registered source name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sources))
	for name := range r.sources {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SupplementSearchResult runs every registered metadata source over
// info in turn, each one enriching whatever the last left unresolved.
func (r *Registry) SupplementSearchResult(ctx context.Context, info models.ProviderSearchInfo) models.ProviderSearchInfo {
	r.mu.RLock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	out := info
	for _, name := range names {
		r.mu.RLock()
		src := r.sources[name]
		r.mu.RUnlock()
		enriched, err := src.Supplement(ctx, out)
		if err != nil {
			continue
		}
		out = enriched
	}
	return out
}
