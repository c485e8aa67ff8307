package scraper_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"novastream/internal/ratelimit"
	"novastream/internal/scraper"
	"novastream/internal/scraper/testadapter"
	"novastream/internal/store"
	"novastream/models"
)

func newTestRegistry(t *testing.T) *scraper.Registry {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	limiter := ratelimit.New(st, ratelimit.Config{GlobalLimit: 1000, GlobalPeriod: time.Minute})

	scraper.Registered = []scraper.AdapterFactory{
		func() scraper.Adapter {
			return &testadapter.Adapter{Provider: "bilibili", Results: []models.ProviderSearchInfo{{Provider: "bilibili", MediaID: "1", Title: "Example"}}}
		},
		func() scraper.Adapter {
			return &testadapter.Adapter{Provider: "gamer", Results: []models.ProviderSearchInfo{{Provider: "gamer", MediaID: "2", Title: "Example"}}}
		},
	}

	reg, err := scraper.NewRegistry(limiter, false, nil, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func TestSearchAll_FansOutToEveryAdapter(t *testing.T) {
	reg := newTestRegistry(t)
	results := reg.SearchAll(context.Background(), "Example", nil)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("provider %s: %v", r.Provider, r.Err)
		}
		if len(r.Results) != 1 {
			t.Fatalf("provider %s: got %d hits, want 1", r.Provider, len(r.Results))
		}
	}
}

func TestSearchSequentially_StopsAtFirstHit(t *testing.T) {
	reg := newTestRegistry(t)
	got := reg.SearchSequentially(context.Background(), "Example", nil, []string{"bilibili", "gamer"})
	if got.Provider != "bilibili" {
		t.Fatalf("provider = %q, want bilibili", got.Provider)
	}
}
