package fallback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"novastream/internal/cachestore"
	"novastream/internal/store"
	"novastream/models"
)

// virtualAnimeIDFloor is the smallest id minted for a search-fallback
// hit that hasn't been materialized into the library yet.
// It never collides with real library ids, which start at 1 and grow by
// MAX(id)+1.
const virtualAnimeIDFloor = 900000

// virtualAnimeIDCeil is one past the largest 6-digit virtual anime id
// (spec §4.5.1: "6 digits, starting at 900000"), distinct from
// placeholderBangumiID's 9-digit reserved sentinel.
const virtualAnimeIDCeil = 1000000

// placeholderBangumiID is returned in place of a real bangumiId while a
// search-fallback session is still running (scenario S5).
const placeholderBangumiID = 999999999

const (
	cacheKeySearchPrefix  = "fallback_search_"
	cacheKeyAnimePrefix   = "fallback_anime_"
	cacheKeyEpisodePrefix = "fallback_episode_"

	searchBindingTTL  = 3 * time.Hour
	animeBindingTTL   = 3 * time.Hour
	wholeShowCacheTTL = 10800 * time.Second
)

// IDAllocator mints virtual and real ids for the fallback engine and
// persists the bindings needed to resolve a virtual id back to its
// provider/media pair on a later request within the same session.
type IDAllocator struct {
	st    *store.Store
	cache *cachestore.Cache
	mu    sync.Mutex
	next  int
}

// NewIDAllocator builds an IDAllocator, seeding its virtual-id counter
// at the configured floor, so the first virtual id is the floor itself.
// Each process restart starts the
// virtual counter back at the floor: virtual ids are session-scoped
// (they live only as long as their cache binding's TTL), so reuse across
// restarts is harmless.
func NewIDAllocator(st *store.Store, cache *cachestore.Cache) *IDAllocator {
	return &IDAllocator{st: st, cache: cache, next: virtualAnimeIDFloor}
}

// SearchHitBinding is what a virtual anime id resolves to before it's
// materialized into a real anime/source pair.
type SearchHitBinding struct {
	Provider string `json:"provider"`
	MediaID  string `json:"mediaId"`
	Title    string `json:"title"`
}

// MintVirtualAnimeID allocates a fresh virtual id for a not-yet-imported
// search hit and binds it to (provider, media_id) under the
// fallback_search_ prefix so a later /match or /bangumi call against the
// same virtual id can resolve back to the provider hit.
func (a *IDAllocator) MintVirtualAnimeID(ctx context.Context, binding SearchHitBinding) (int64, error) {
	a.mu.Lock()
	id := a.next
	a.next++
	a.mu.Unlock()

	key := fmt.Sprintf("%s%d", cacheKeySearchPrefix, id)
	if err := a.cache.Set(ctx, key, binding, searchBindingTTL); err != nil {
		return 0, fmt.Errorf("fallback: bind virtual anime id %d: %w", id, err)
	}
	return int64(id), nil
}

// ResolveVirtualAnimeID looks up the provider hit a virtual anime id was
// minted for. ok is false once the binding has expired or never existed.
func (a *IDAllocator) ResolveVirtualAnimeID(ctx context.Context, virtualID int64) (SearchHitBinding, bool, error) {
	var binding SearchHitBinding
	key := fmt.Sprintf("%s%d", cacheKeySearchPrefix, virtualID)
	ok, err := a.cache.Get(ctx, key, &binding)
	if err != nil {
		return SearchHitBinding{}, false, err
	}
	return binding, ok, nil
}

// AllocateRealAnimeID returns the next library anime id by reusing the
// MAX(id)+1 gap, sequence-sync note: deleted rows leave
// gaps, and the fallback engine must not collide with a ROWID SQLite
// would otherwise hand back to a concurrent insert.
func (a *IDAllocator) AllocateRealAnimeID(ctx context.Context) (int64, error) {
	max, err := a.st.MaxAnimeID(ctx)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// MaterializeAnime creates (or reuses) the real Anime + AnimeSource rows
// for a fallback hit that the caller has decided to commit to the
// library, create_if_not_exists semantics, and primes
// the fallback_anime_ cache binding used by subsequent comment fetches.
func (a *IDAllocator) MaterializeAnime(ctx context.Context, anime models.Anime, source models.AnimeSource) (*models.Anime, *models.AnimeSource, error) {
	if existing, err := a.st.FindAnimeByTitleSeason(ctx, anime.Title, anime.Season); err == nil {
		anime = *existing
	} else if err != store.ErrNotFound {
		return nil, nil, err
	} else {
		id, err := a.AllocateRealAnimeID(ctx)
		if err != nil {
			return nil, nil, err
		}
		anime.ID = id
		created, err := a.st.CreateAnimeIfNotExists(ctx, anime)
		if err != nil {
			return nil, nil, err
		}
		anime = *created
	}

	source.AnimeID = anime.ID
	if source.SourceOrder == 0 {
		maxOrder, err := a.st.MaxSourceOrder(ctx, anime.ID)
		if err != nil {
			return nil, nil, err
		}
		source.SourceOrder = maxOrder + 1
	}
	createdSource, err := a.st.CreateSourceIfNotExists(ctx, source)
	if err != nil {
		return nil, nil, err
	}

	key := fmt.Sprintf("%sprovider_%s_%s", cacheKeyAnimePrefix, createdSource.ProviderName, createdSource.MediaID)
	_ = a.cache.Set(ctx, key, anime.ID, animeBindingTTL)

	reverseKey := fmt.Sprintf("%s%d_%d", cacheKeyAnimePrefix, anime.ID, createdSource.SourceOrder)
	_ = a.cache.Set(ctx, reverseKey, SearchHitBinding{Provider: createdSource.ProviderName, MediaID: createdSource.MediaID, Title: anime.Title}, animeBindingTTL)

	return &anime, createdSource, nil
}

// ResolveAnimeSourceBinding is the inverse of MaterializeAnime's
// reverse-key write: given the (anime_id, source_order) pair decoded
// from a fallback-minted episode id, it recovers which provider/media
// that source came from, used by comment fetch and next-episode
// pre-download to reconstruct the adapter call without re-running
// match fallback.
func (a *IDAllocator) ResolveAnimeSourceBinding(ctx context.Context, animeID int64, sourceOrder int) (SearchHitBinding, bool, error) {
	var binding SearchHitBinding
	key := fmt.Sprintf("%s%d_%d", cacheKeyAnimePrefix, animeID, sourceOrder)
	ok, err := a.cache.Get(ctx, key, &binding)
	if err != nil {
		return SearchHitBinding{}, false, err
	}
	return binding, ok, nil
}
