// Package scraper is the Scraper Adapter Registry (C4)
// Concrete provider adapters are implemented independently; this
// package defines the Adapter contract, a signature-gated registry, and
// the search_all/search_sequentially fan-out.
package scraper

import (
	"context"

	"novastream/models"
)

// Adapter is implemented independently per provider.
type Adapter interface {
	ProviderName() string
	HandledDomains() []string
	RateLimitQuota() (limit int, ok bool)
	ConfigurableFields() map[string]string
	TestURL() string
	Referer() string
	IsLoggable() bool

	Search(ctx context.Context, keyword string, episodeInfo *models.EpisodeInfo) ([]models.ProviderSearchInfo, error)
	GetEpisodes(ctx context.Context, mediaID string, dbMediaType string) ([]models.ProviderEpisodeInfo, error)
	GetComments(ctx context.Context, episodeID string, progress func(percent int, description string)) ([]models.RawComment, error)
	FormatEpisodeIDForComments(providerEpisodeID string) string
	GetIDFromURL(url string) (string, error)
	ExecuteAction(ctx context.Context, actionName string, payload map[string]any) (any, error)
}

// AdapterFactory constructs an Adapter instance, used by the registry's
// compile-time discovery list (Design Notes §9's "small init()-style
// list").
type AdapterFactory func() Adapter

// Registered is the compile-time adapter registry. Concrete provider
// adapters are out of scope for this module; production deployments
// populate this via their own init() in a provider package.
var Registered []AdapterFactory
