package fallback_test

import (
	"context"
	"path/filepath"
	"testing"

	"novastream/internal/cachestore"
	"novastream/internal/fallback"
	"novastream/internal/store"
	"novastream/models"
)

func newTestAllocator(t *testing.T) *fallback.IDAllocator {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return fallback.NewIDAllocator(st, cachestore.New(st))
}

func TestMintVirtualAnimeID_ResolvesBackToBinding(t *testing.T) {
	ctx := context.Background()
	a := newTestAllocator(t)

	binding := fallback.SearchHitBinding{Provider: "bilibili", MediaID: "abc123", Title: "Example"}
	id, err := a.MintVirtualAnimeID(ctx, binding)
	if err != nil {
		t.Fatalf("MintVirtualAnimeID: %v", err)
	}
	if id < 900000 {
		t.Fatalf("virtual id %d below floor", id)
	}

	got, ok, err := a.ResolveVirtualAnimeID(ctx, id)
	if err != nil || !ok {
		t.Fatalf("ResolveVirtualAnimeID: ok=%v err=%v", ok, err)
	}
	if got != binding {
		t.Fatalf("got %+v, want %+v", got, binding)
	}
}

func TestMaterializeAnime_ReusesExistingRowByTitleSeason(t *testing.T) {
	ctx := context.Background()
	a := newTestAllocator(t)

	anime := models.Anime{Title: "Example Show", Season: 1, Type: models.AnimeTypeTVSeries}
	source := models.AnimeSource{ProviderName: "bilibili", MediaID: "1"}

	first, firstSource, err := a.MaterializeAnime(ctx, anime, source)
	if err != nil {
		t.Fatalf("MaterializeAnime: %v", err)
	}
	if first.ID == 0 {
		t.Fatal("expected a non-zero real anime id")
	}

	second, secondSource, err := a.MaterializeAnime(ctx, anime, models.AnimeSource{ProviderName: "gamer", MediaID: "2"})
	if err != nil {
		t.Fatalf("MaterializeAnime (second): %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected reused anime id %d, got %d", first.ID, second.ID)
	}
	if firstSource.SourceOrder == secondSource.SourceOrder {
		t.Fatalf("expected distinct source orders, both got %d", firstSource.SourceOrder)
	}
}
