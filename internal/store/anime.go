package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"novastream/models"
)

var ErrNotFound = errors.New("store: not found")

// MaxAnimeID returns the highest allocated Anime.id, or 0 if the library
// is empty. Its one caller, IDAllocator.AllocateRealAnimeID, uses this to
// allocate the next real_anime_id (spec §4.5.1). anime.id is a plain
// INTEGER PRIMARY KEY with no AUTOINCREMENT, so there is no sequence row
// to sync.
func (s *Store) MaxAnimeID(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	err := s.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM anime`).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max.Int64, nil
}

// FindAnimeByTitleSeason looks up an existing Anime row for reuse (spec
// §4.5.3 "Reuse existing Anime row if (title, season=1) matches").
func (s *Store) FindAnimeByTitleSeason(ctx context.Context, title string, season int) (*models.Anime, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, title, season, type, COALESCE(year,0), COALESCE(image_url,''), COALESCE(tmdb_id,0), COALESCE(tmdb_episode_group_id,''), created_at
		 FROM anime WHERE title = ? AND season = ? LIMIT 1`, title, season)
	return scanAnime(row)
}

func (s *Store) GetAnime(ctx context.Context, id int64) (*models.Anime, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, title, season, type, COALESCE(year,0), COALESCE(image_url,''), COALESCE(tmdb_id,0), COALESCE(tmdb_episode_group_id,''), created_at
		 FROM anime WHERE id = ?`, id)
	return scanAnime(row)
}

func scanAnime(row *sql.Row) (*models.Anime, error) {
	var a models.Anime
	var typ string
	if err := row.Scan(&a.ID, &a.Title, &a.Season, &typ, &a.Year, &a.ImageURL, &a.TMDBID, &a.TMDBGroup, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Type = models.AnimeType(typ)
	return &a, nil
}

// CreateAnimeIfNotExists inserts an Anime row at the given id (the fallback engine
// mints ids itself; see spec §4.5.1 / §9 on gap-id reuse) if it doesn't
// already exist, and returns the resulting row.
func (s *Store) CreateAnimeIfNotExists(ctx context.Context, a models.Anime) (*models.Anime, error) {
	existing, err := s.GetAnime(ctx, a.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO anime (id, title, season, type, year, image_url, tmdb_id, tmdb_episode_group_id, created_at)
		 VALUES (?, ?, ?, ?, NULLIF(?,0), NULLIF(?,''), NULLIF(?,0), NULLIF(?,''), ?)`,
		a.ID, a.Title, a.Season, string(a.Type), a.Year, a.ImageURL, a.TMDBID, a.TMDBGroup, a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert anime: %w", err)
	}
	return s.GetAnime(ctx, a.ID)
}

// FindSourceByProviderMedia looks up the AnimeSource row for (anime,
// provider, media_id), enforcing the uniqueness invariant in spec §3.
func (s *Store) FindSourceByProviderMedia(ctx context.Context, animeID int64, provider, mediaID string) (*models.AnimeSource, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, anime_id, provider_name, media_id, source_order, is_favorited, incremental_refresh_enabled, last_refresh_latest_episode_at, incremental_refresh_failures
		 FROM anime_source WHERE anime_id = ? AND provider_name = ? AND media_id = ?`, animeID, provider, mediaID)
	return scanSource(row)
}

func (s *Store) GetSource(ctx context.Context, id int64) (*models.AnimeSource, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, anime_id, provider_name, media_id, source_order, is_favorited, incremental_refresh_enabled, last_refresh_latest_episode_at, incremental_refresh_failures
		 FROM anime_source WHERE id = ?`, id)
	return scanSource(row)
}

// GetSourceByOrder looks up the source for (anime_id, source_order), the
// pair encoded into synthetic episode ids.
func (s *Store) GetSourceByOrder(ctx context.Context, animeID int64, sourceOrder int) (*models.AnimeSource, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, anime_id, provider_name, media_id, source_order, is_favorited, incremental_refresh_enabled, last_refresh_latest_episode_at, incremental_refresh_failures
		 FROM anime_source WHERE anime_id = ? AND source_order = ?`, animeID, sourceOrder)
	return scanSource(row)
}

func scanSource(row *sql.Row) (*models.AnimeSource, error) {
	var src models.AnimeSource
	var lastRefresh sql.NullTime
	if err := row.Scan(&src.ID, &src.AnimeID, &src.ProviderName, &src.MediaID, &src.SourceOrder,
		&src.IsFavorited, &src.IncrementalRefreshEnabled, &lastRefresh, &src.IncrementalRefreshFailures); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	src.LastRefreshLatestEpisodeAt = scanNullTime(lastRefresh)
	return &src, nil
}

// MaxSourceOrder returns the highest source_order already used by anime,
// or 0 if it has none.
func (s *Store) MaxSourceOrder(ctx context.Context, animeID int64) (int, error) {
	var max sql.NullInt64
	err := s.DB.QueryRowContext(ctx, `SELECT MAX(source_order) FROM anime_source WHERE anime_id = ?`, animeID).Scan(&max)
	if err != nil {
		return 0, err
	}
	return int(max.Int64), nil
}

// CreateSourceIfNotExists inserts an AnimeSource row, reusing an existing
// (provider, media_id) match for the anime if present.
func (s *Store) CreateSourceIfNotExists(ctx context.Context, src models.AnimeSource) (*models.AnimeSource, error) {
	existing, err := s.FindSourceByProviderMedia(ctx, src.AnimeID, src.ProviderName, src.MediaID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO anime_source (anime_id, provider_name, media_id, source_order, is_favorited, incremental_refresh_enabled)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		src.AnimeID, src.ProviderName, src.MediaID, src.SourceOrder, src.IsFavorited, src.IncrementalRefreshEnabled)
	if err != nil {
		return nil, fmt.Errorf("insert anime_source: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetSource(ctx, id)
}

// GetEpisodeByIndex looks up the Episode for (source, episode_index).
func (s *Store) GetEpisodeByIndex(ctx context.Context, sourceID int64, index int) (*models.Episode, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, source_id, episode_index, title, COALESCE(source_url,''), COALESCE(provider_episode_id,''), comment_count
		 FROM episode WHERE source_id = ? AND episode_index = ?`, sourceID, index)
	return scanEpisode(row)
}

func (s *Store) GetEpisode(ctx context.Context, id int64) (*models.Episode, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, source_id, episode_index, title, COALESCE(source_url,''), COALESCE(provider_episode_id,''), comment_count
		 FROM episode WHERE id = ?`, id)
	return scanEpisode(row)
}

func scanEpisode(row *sql.Row) (*models.Episode, error) {
	var e models.Episode
	if err := row.Scan(&e.ID, &e.SourceID, &e.EpisodeIndex, &e.Title, &e.SourceURL, &e.ProviderEpisodeID, &e.CommentCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// CreateEpisodeWithID inserts an Episode at a caller-chosen id: the
// fallback engine's synthetic 14-digit episode id doubles
// as the real primary key once materialized, so the id space never
// collides between fallback-minted and library-imported episodes.
func (s *Store) CreateEpisodeWithID(ctx context.Context, e models.Episode) (*models.Episode, error) {
	existing, err := s.GetEpisode(ctx, e.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO episode (id, source_id, episode_index, title, source_url, provider_episode_id, comment_count)
		 VALUES (?, ?, ?, ?, NULLIF(?,''), NULLIF(?,''), ?)`,
		e.ID, e.SourceID, e.EpisodeIndex, e.Title, e.SourceURL, e.ProviderEpisodeID, e.CommentCount)
	if err != nil {
		return nil, fmt.Errorf("insert episode: %w", err)
	}
	return s.GetEpisode(ctx, e.ID)
}

// EpisodeIndexesForAnime returns the distinct episode indexes across
// every source of an anime, used to compute the library-internal episode
// range shown in search results.
func (s *Store) EpisodeIndexesForAnime(ctx context.Context, animeID int64) ([]int, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT DISTINCT e.episode_index FROM episode e
		 JOIN anime_source src ON src.id = e.source_id
		 WHERE src.anime_id = ? ORDER BY e.episode_index`, animeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

// HasComments reports whether an episode already has stored comments.
func (s *Store) HasComments(ctx context.Context, episodeID int64) (bool, error) {
	var count int
	err := s.DB.QueryRowContext(ctx, `SELECT comment_count FROM episode WHERE id = ?`, episodeID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ReplaceComments deletes and re-inserts all comments for an episode in a
// single transaction, updating the cached comment_count.
func (s *Store) ReplaceComments(ctx context.Context, episodeID int64, comments []models.Comment) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM comment WHERE episode_id = ?`, episodeID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO comment (episode_id, time_sec, mode, color, text, provider_tag) VALUES (?, ?, ?, ?, ?, NULLIF(?,''))`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range comments {
		if _, err := stmt.ExecContext(ctx, episodeID, c.TimeSec, c.Mode, c.Color, c.Text, c.ProviderTag); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE episode SET comment_count = ? WHERE id = ?`, len(comments), episodeID); err != nil {
		return err
	}
	return tx.Commit()
}

// ListComments returns the stored comments for an episode ordered by time.
func (s *Store) ListComments(ctx context.Context, episodeID int64) ([]models.Comment, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT time_sec, mode, color, text, COALESCE(provider_tag,'') FROM comment WHERE episode_id = ? ORDER BY time_sec`, episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Comment
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.TimeSec, &c.Mode, &c.Color, &c.Text, &c.ProviderTag); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TmdbEpisodeMapping looks up the group->aired reorder for §4.5.3 step 3.
func (s *Store) TmdbEpisodeMapping(ctx context.Context, tvID int64, groupID string, season, episode int) (*models.TmdbEpisodeMapping, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT tmdb_tv_id, group_id, group_season, group_episode, tmdb_season, tmdb_episode
		 FROM tmdb_episode_mapping WHERE tmdb_tv_id = ? AND group_id = ? AND group_season = ? AND group_episode = ?`,
		tvID, groupID, season, episode)
	var m models.TmdbEpisodeMapping
	if err := row.Scan(&m.TmdbTvID, &m.GroupID, &m.GroupSeason, &m.GroupEpisode, &m.TmdbSeason, &m.TmdbEpisode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// UpsertTmdbEpisodeMapping stores a single group->aired reorder row.
func (s *Store) UpsertTmdbEpisodeMapping(ctx context.Context, m models.TmdbEpisodeMapping) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO tmdb_episode_mapping (tmdb_tv_id, group_id, group_season, group_episode, tmdb_season, tmdb_episode)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tmdb_tv_id, group_id, group_season, group_episode)
		 DO UPDATE SET tmdb_season = excluded.tmdb_season, tmdb_episode = excluded.tmdb_episode`,
		m.TmdbTvID, m.GroupID, m.GroupSeason, m.GroupEpisode, m.TmdbSeason, m.TmdbEpisode)
	return err
}

// SearchAnimeByKeyword returns every Anime whose title contains keyword
// (case-insensitive), used by the library-first branch of the compat
// API's /search/anime (spec §4.6) before it considers a fallback.
func (s *Store) SearchAnimeByKeyword(ctx context.Context, keyword string) ([]models.Anime, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, title, season, type, COALESCE(year,0), COALESCE(image_url,''), COALESCE(tmdb_id,0), COALESCE(tmdb_episode_group_id,''), created_at
		FROM anime WHERE title LIKE '%' || ? || '%' ORDER BY id`, keyword)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Anime
	for rows.Next() {
		var a models.Anime
		var typ string
		if err := rows.Scan(&a.ID, &a.Title, &a.Season, &typ, &a.Year, &a.ImageURL, &a.TMDBID, &a.TMDBGroup, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Type = models.AnimeType(typ)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListSourcesForAnime returns every AnimeSource belonging to animeID,
// ordered the same way FindCandidatesByTitle prefers them (favorited
// first, then source order), for the compat API's /bangumi detail view.
func (s *Store) ListSourcesForAnime(ctx context.Context, animeID int64) ([]models.AnimeSource, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, anime_id, provider_name, media_id, source_order, is_favorited, incremental_refresh_enabled, last_refresh_latest_episode_at, incremental_refresh_failures
		FROM anime_source WHERE anime_id = ? ORDER BY is_favorited DESC, source_order ASC`, animeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AnimeSource
	for rows.Next() {
		var src models.AnimeSource
		var lastRefresh sql.NullTime
		if err := rows.Scan(&src.ID, &src.AnimeID, &src.ProviderName, &src.MediaID, &src.SourceOrder,
			&src.IsFavorited, &src.IncrementalRefreshEnabled, &lastRefresh, &src.IncrementalRefreshFailures); err != nil {
			return nil, err
		}
		src.LastRefreshLatestEpisodeAt = scanNullTime(lastRefresh)
		out = append(out, src)
	}
	return out, rows.Err()
}

// ListEpisodesForSource returns every Episode row materialized so far for
// a source, ordered by episode_index. It does not reach out to the
// provider: a fallback-resolved source may have fewer rows here than
// episodes upstream until each one is requested once (spec §4.5.4's
// "materializes on demand").
func (s *Store) ListEpisodesForSource(ctx context.Context, sourceID int64) ([]models.Episode, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, source_id, episode_index, title, COALESCE(source_url,''), COALESCE(provider_episode_id,''), comment_count
		FROM episode WHERE source_id = ? ORDER BY episode_index`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Episode
	for rows.Next() {
		var e models.Episode
		if err := rows.Scan(&e.ID, &e.SourceID, &e.EpisodeIndex, &e.Title, &e.SourceURL, &e.ProviderEpisodeID, &e.CommentCount); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AnimeCandidate is a lightweight library hit used by the filename matcher.
type AnimeCandidate struct {
	Anime  models.Anime
	Source models.AnimeSource
}

// FindCandidatesByTitle returns every (anime, source) pair whose anime
// title matches exactly (case-sensitive, the teacher's title store is
// assumed pre-normalized on import), used by the direct-match step of
// spec §4.5.3.
func (s *Store) FindCandidatesByTitle(ctx context.Context, title string) ([]AnimeCandidate, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT a.id, a.title, a.season, a.type, COALESCE(a.year,0), COALESCE(a.image_url,''), COALESCE(a.tmdb_id,0), COALESCE(a.tmdb_episode_group_id,''), a.created_at,
		       src.id, src.anime_id, src.provider_name, src.media_id, src.source_order, src.is_favorited, src.incremental_refresh_enabled, src.last_refresh_latest_episode_at, src.incremental_refresh_failures
		FROM anime a JOIN anime_source src ON src.anime_id = a.id
		WHERE a.title = ?
		ORDER BY src.is_favorited DESC, src.source_order ASC`, title)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AnimeCandidate
	for rows.Next() {
		var c AnimeCandidate
		var typ string
		var lastRefresh sql.NullTime
		if err := rows.Scan(&c.Anime.ID, &c.Anime.Title, &c.Anime.Season, &typ, &c.Anime.Year, &c.Anime.ImageURL, &c.Anime.TMDBID, &c.Anime.TMDBGroup, &c.Anime.CreatedAt,
			&c.Source.ID, &c.Source.AnimeID, &c.Source.ProviderName, &c.Source.MediaID, &c.Source.SourceOrder, &c.Source.IsFavorited, &c.Source.IncrementalRefreshEnabled, &lastRefresh, &c.Source.IncrementalRefreshFailures); err != nil {
			return nil, err
		}
		c.Anime.Type = models.AnimeType(typ)
		c.Source.LastRefreshLatestEpisodeAt = scanNullTime(lastRefresh)
		out = append(out, c)
	}
	return out, rows.Err()
}
