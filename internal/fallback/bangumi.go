package fallback

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"novastream/internal/store"
	"novastream/models"
)

// ErrBangumiNotFound is returned when a /bangumi id resolves to neither a
// live virtual-id binding nor a library row.
var ErrBangumiNotFound = errors.New("fallback: bangumi id not found")

// BangumiEpisode is one entry of BangumiDetail's Episodes list.
type BangumiEpisode struct {
	EpisodeID    string `json:"episodeId"`
	EpisodeTitle string `json:"episodeTitle"`
}

// BangumiDetail is the response shape of /bangumi/{bangumiId}, spec §4.6.
type BangumiDetail struct {
	AnimeID         int64            `json:"animeId"`
	BangumiID       string           `json:"bangumiId"`
	AnimeTitle      string           `json:"animeTitle"`
	Type            models.AnimeType `json:"type,omitempty"`
	TypeDescription string           `json:"typeDescription"`
	ImageURL        string           `json:"imageUrl,omitempty"`
	Episodes        []BangumiEpisode `json:"episodes"`
}

// BangumiDetail resolves a bangumiId - an optional "A" prefix followed by
// either a virtual id in [900000, 1000000) minted by a still-live
// search-fallback session, or a raw library anime id - to its details and
// episode list (spec §4.6, §4.5.1). Resolving a virtual id materializes
// the anime/source so the returned episode ids are stable across
// subsequent /comment lookups, exactly as MatchFilename does.
func (e *Engine) BangumiDetail(ctx context.Context, bangumiIDRaw string) (BangumiDetail, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(bangumiIDRaw, "A"), "a")
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return BangumiDetail{}, fmt.Errorf("fallback: bangumi id %q is not numeric: %w", bangumiIDRaw, ErrInvalidEpisodeID)
	}

	if id >= virtualAnimeIDFloor && id < virtualAnimeIDCeil {
		return e.bangumiDetailFromVirtualID(ctx, id)
	}
	return e.bangumiDetailFromLibrary(ctx, id)
}

func (e *Engine) bangumiDetailFromVirtualID(ctx context.Context, virtualID int64) (BangumiDetail, error) {
	binding, ok, err := e.ids.ResolveVirtualAnimeID(ctx, virtualID)
	if err != nil {
		return BangumiDetail{}, err
	}
	if !ok {
		return BangumiDetail{}, ErrBangumiNotFound
	}

	episodes, err := e.fetchEpisodes(ctx, models.ProviderSearchInfo{Provider: binding.Provider, MediaID: binding.MediaID, Title: binding.Title})
	if err != nil {
		return BangumiDetail{}, fmt.Errorf("fallback: fetch episode list for bangumi %d: %w", virtualID, err)
	}

	anime := models.Anime{Title: binding.Title, Season: 1, Type: models.AnimeTypeTVSeries}
	source := models.AnimeSource{ProviderName: binding.Provider, MediaID: binding.MediaID}
	realAnime, realSource, err := e.ids.MaterializeAnime(ctx, anime, source)
	if err != nil {
		return BangumiDetail{}, fmt.Errorf("fallback: materialize anime for bangumi %d: %w", virtualID, err)
	}

	out := BangumiDetail{
		AnimeID:         realAnime.ID,
		BangumiID:       strconv.FormatInt(realAnime.ID, 10),
		AnimeTitle:      realAnime.Title,
		Type:            realAnime.Type,
		TypeDescription: typeLabel(realAnime.Type),
		ImageURL:        realAnime.ImageURL,
		Episodes:        make([]BangumiEpisode, 0, len(episodes)),
	}
	for _, ep := range episodes {
		episodeID, err := EncodeEpisodeID(int(realAnime.ID), realSource.SourceOrder, ep.EpisodeIndex)
		if err != nil {
			continue
		}
		out.Episodes = append(out.Episodes, BangumiEpisode{EpisodeID: episodeID, EpisodeTitle: ep.Title})
	}
	return out, nil
}

func (e *Engine) bangumiDetailFromLibrary(ctx context.Context, animeID int64) (BangumiDetail, error) {
	anime, err := e.st.GetAnime(ctx, animeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return BangumiDetail{}, ErrBangumiNotFound
		}
		return BangumiDetail{}, err
	}

	sources, err := e.st.ListSourcesForAnime(ctx, animeID)
	if err != nil {
		return BangumiDetail{}, err
	}

	out := BangumiDetail{
		AnimeID:         anime.ID,
		BangumiID:       strconv.FormatInt(anime.ID, 10),
		AnimeTitle:      anime.Title,
		Type:            anime.Type,
		TypeDescription: typeLabel(anime.Type),
		ImageURL:        anime.ImageURL,
		Episodes:        []BangumiEpisode{},
	}
	if len(sources) == 0 {
		return out, nil
	}

	primary := sources[0]
	episodes, err := e.st.ListEpisodesForSource(ctx, primary.ID)
	if err != nil {
		return BangumiDetail{}, err
	}
	for _, ep := range episodes {
		// ep.ID is already the canonical episode id assigned at creation
		// time (a 14-digit fallback-minted id or a library-imported one);
		// it is never recomputed here.
		out.Episodes = append(out.Episodes, BangumiEpisode{EpisodeID: strconv.FormatInt(ep.ID, 10), EpisodeTitle: ep.Title})
	}
	return out, nil
}
