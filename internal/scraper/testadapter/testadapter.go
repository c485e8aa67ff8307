// Package testadapter provides a fake Adapter implementation used only
// by the scraper package's own test suite, since concrete provider
// adapters are out of scope (spec §4.4: "implemented independently per
// provider; not specified here").
package testadapter

import (
	"context"
	"fmt"

	"novastream/models"
)

// Adapter is a minimal in-memory fake satisfying scraper.Adapter.
type Adapter struct {
	Provider string
	Results  []models.ProviderSearchInfo
	Episodes []models.ProviderEpisodeInfo
	Comments []models.RawComment
	Err      error
}

func (a *Adapter) ProviderName() string           { return a.Provider }
func (a *Adapter) HandledDomains() []string        { return []string{a.Provider + ".example"} }
func (a *Adapter) RateLimitQuota() (int, bool)      { return 0, false }
func (a *Adapter) ConfigurableFields() map[string]string { return nil }
func (a *Adapter) TestURL() string                  { return "" }
func (a *Adapter) Referer() string                  { return "" }
func (a *Adapter) IsLoggable() bool                 { return true }

func (a *Adapter) Search(ctx context.Context, keyword string, episodeInfo *models.EpisodeInfo) ([]models.ProviderSearchInfo, error) {
	if a.Err != nil {
		return nil, a.Err
	}
	return a.Results, nil
}

func (a *Adapter) GetEpisodes(ctx context.Context, mediaID string, dbMediaType string) ([]models.ProviderEpisodeInfo, error) {
	if a.Err != nil {
		return nil, a.Err
	}
	return a.Episodes, nil
}

func (a *Adapter) GetComments(ctx context.Context, episodeID string, progress func(int, string)) ([]models.RawComment, error) {
	if a.Err != nil {
		return nil, a.Err
	}
	return a.Comments, nil
}

func (a *Adapter) FormatEpisodeIDForComments(providerEpisodeID string) string {
	return fmt.Sprintf("%s:%s", a.Provider, providerEpisodeID)
}

func (a *Adapter) GetIDFromURL(url string) (string, error) { return url, nil }

func (a *Adapter) ExecuteAction(ctx context.Context, actionName string, payload map[string]any) (any, error) {
	return nil, fmt.Errorf("testadapter: action %q not supported", actionName)
}
