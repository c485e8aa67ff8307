package models

import "time"

// AnimeType enumerates the kinds of title the library can hold.
type AnimeType string

const (
	AnimeTypeTVSeries AnimeType = "tv_series"
	AnimeTypeMovie    AnimeType = "movie"
	AnimeTypeOVA      AnimeType = "ova"
	AnimeTypeOther    AnimeType = "other"
)

// Anime is a library title. It may have been created by a user import or
// minted on demand by the fallback engine (see internal/fallback).
type Anime struct {
	ID        int64     `json:"animeId"`
	Title     string    `json:"animeTitle"`
	Season    int       `json:"season"`
	Type      AnimeType `json:"type"`
	Year      int       `json:"year,omitempty"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	TMDBID    int64     `json:"tmdbId,omitempty"`
	TMDBGroup string    `json:"tmdbEpisodeGroupId,omitempty"`
	CreatedAt time.Time `json:"-"`
}

// AnimeSource is one provider's copy of an Anime's episode list.
type AnimeSource struct {
	ID                         int64      `json:"sourceId"`
	AnimeID                    int64      `json:"animeId"`
	ProviderName               string     `json:"providerName"`
	MediaID                    string     `json:"mediaId"`
	SourceOrder                int        `json:"sourceOrder"`
	IsFavorited                bool       `json:"isFavorited"`
	IncrementalRefreshEnabled  bool       `json:"incrementalRefreshEnabled"`
	LastRefreshLatestEpisodeAt *time.Time `json:"lastRefreshLatestEpisodeAt,omitempty"`
	IncrementalRefreshFailures int        `json:"incrementalRefreshFailures"`
}

// Episode belongs to a single AnimeSource. episode_index is unique per
// source but may repeat across sources of the same Anime.
type Episode struct {
	ID               int64  `json:"episodeId"`
	SourceID         int64  `json:"sourceId"`
	EpisodeIndex     int    `json:"episodeNumber"`
	Title            string `json:"episodeTitle"`
	SourceURL        string `json:"sourceUrl,omitempty"`
	ProviderEpisodeID string `json:"-"`
	CommentCount     int    `json:"-"`
}

// Comment is a single danmaku line belonging to an Episode.
type Comment struct {
	TimeSec     float64 `json:"-"`
	Mode        int     `json:"-"`
	Color       int     `json:"-"`
	Text        string  `json:"-"`
	ProviderTag string  `json:"-"`
}

// TmdbEpisodeMapping reorders an aired (season, episode) into a curated
// TMDB episode-group (season, episode) and back.
type TmdbEpisodeMapping struct {
	TmdbTvID     int64
	GroupID      string
	GroupSeason  int
	GroupEpisode int
	TmdbSeason   int
	TmdbEpisode  int
}
