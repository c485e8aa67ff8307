package fallback_test

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"novastream/internal/cachestore"
	"novastream/internal/fallback"
	"novastream/internal/metadata"
	"novastream/internal/ratelimit"
	"novastream/internal/scraper"
	"novastream/internal/store"
	"novastream/internal/taskmanager"
	"novastream/models"
)

func newTestEngine(t *testing.T) (*fallback.Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cache := cachestore.New(st)
	limiter := ratelimit.New(st, ratelimit.Config{GlobalLimit: 1000, GlobalPeriod: time.Minute})
	scrapers, err := scraper.NewRegistry(limiter, false, nil, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	metadataReg := metadata.NewRegistry()

	ctx := context.Background()
	tasks, err := taskmanager.NewManager(ctx, st, 1, 1)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(tasks.Wait)

	ids := fallback.NewIDAllocator(st, cache)
	engine := fallback.NewEngine(st, cache, ids, scrapers, metadataReg, tasks, limiter, fallback.Config{}, nil)
	return engine, st
}

func TestBangumiDetail_LibraryIDUsesStoredEpisodeIDsVerbatim(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine(t)

	anime, err := st.CreateAnimeIfNotExists(ctx, models.Anime{Title: "Example Show", Season: 1, Type: models.AnimeTypeTVSeries})
	if err != nil {
		t.Fatalf("CreateAnimeIfNotExists: %v", err)
	}
	source, err := st.CreateSourceIfNotExists(ctx, models.AnimeSource{AnimeID: anime.ID, ProviderName: "bilibili", MediaID: "1", SourceOrder: 1, IsFavorited: true})
	if err != nil {
		t.Fatalf("CreateSourceIfNotExists: %v", err)
	}
	const fixtureEpisodeID int64 = 25000001010001
	if _, err := st.CreateEpisodeWithID(ctx, models.Episode{ID: fixtureEpisodeID, SourceID: source.ID, EpisodeIndex: 1, Title: "Episode 1"}); err != nil {
		t.Fatalf("CreateEpisodeWithID: %v", err)
	}

	detail, err := engine.BangumiDetail(ctx, strconv.FormatInt(anime.ID, 10))
	if err != nil {
		t.Fatalf("BangumiDetail: %v", err)
	}
	if detail.AnimeID != anime.ID {
		t.Fatalf("got anime id %d, want %d", detail.AnimeID, anime.ID)
	}
	if len(detail.Episodes) != 1 {
		t.Fatalf("expected 1 episode, got %d", len(detail.Episodes))
	}
	want := strconv.FormatInt(fixtureEpisodeID, 10)
	if detail.Episodes[0].EpisodeID != want {
		t.Fatalf("episode id was recomputed: got %q, want %q", detail.Episodes[0].EpisodeID, want)
	}
}

func TestBangumiDetail_UnknownLibraryIDReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	if _, err := engine.BangumiDetail(ctx, "123456"); err == nil {
		t.Fatal("expected an error for an unknown library id")
	}
}

func TestBangumiDetail_NonNumericIDIsInvalid(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	if _, err := engine.BangumiDetail(ctx, "not-a-number"); err == nil {
		t.Fatal("expected an error for a non-numeric bangumi id")
	}
}

func TestExternalComments_UnresolvedDomainReturnsError(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	if _, err := engine.ExternalComments(ctx, "https://unknown.example.com/video/123", 0); err == nil {
		t.Fatal("expected an error for a url with no matching adapter")
	}
}
