package fallback

import (
	"context"
	"fmt"
	"strconv"

	"novastream/internal/ratelimit"
	"novastream/models"
)

// CommentsForEpisode implements spec §4.5.4: return stored comments if
// present, otherwise resolve the episode's provider binding (from the
// library row if one exists, otherwise from the fallback reverse
// binding) and fetch them on demand.
func (e *Engine) CommentsForEpisode(ctx context.Context, episodeIDRaw string, opts CommentOptions) (CommentsResult, error) {
	episodeID, err := strconv.ParseInt(episodeIDRaw, 10, 64)
	if err != nil {
		return CommentsResult{}, ErrInvalidEpisodeID
	}

	if ep, err := e.st.GetEpisode(ctx, episodeID); err == nil {
		if ep.CommentCount > 0 {
			comments, err := e.st.ListComments(ctx, episodeID)
			if err != nil {
				return CommentsResult{}, err
			}
			return e.finishComments(ctx, episodeID, comments, opts)
		}

		source, err := e.st.GetSource(ctx, ep.SourceID)
		if err != nil {
			return CommentsResult{}, err
		}
		comments, err := e.fetchCommentsForEpisode(ctx, source.ProviderName, ep.ProviderEpisodeID)
		if err != nil {
			return CommentsResult{}, err
		}
		if err := e.st.ReplaceComments(ctx, episodeID, comments); err != nil {
			return CommentsResult{}, err
		}
		if e.cfg.PreDownloadNextEpisodeEnabled {
			if decoded, derr := DecodeEpisodeID(episodeIDRaw); derr == nil {
				binding := SearchHitBinding{Provider: source.ProviderName, MediaID: source.MediaID, Title: ep.Title}
				go e.preDownloadNext(context.WithoutCancel(ctx), decoded, binding)
			}
		}
		return e.finishComments(ctx, episodeID, comments, opts)
	}

	decoded, derr := DecodeEpisodeID(episodeIDRaw)
	if derr != nil {
		return CommentsResult{}, ErrEpisodeNotFound
	}
	binding, ok, err := e.ids.ResolveAnimeSourceBinding(ctx, int64(decoded.AnimeID), decoded.SourceOrder)
	if err != nil {
		return CommentsResult{}, err
	}
	if !ok {
		return CommentsResult{}, ErrEpisodeNotFound
	}

	comments, err := e.resolveAndFetchComments(ctx, episodeIDRaw, decoded, binding)
	if err != nil {
		return CommentsResult{}, err
	}

	if e.cfg.PreDownloadNextEpisodeEnabled {
		go e.preDownloadNext(context.WithoutCancel(ctx), decoded, binding)
	}

	return e.finishComments(ctx, episodeID, comments, opts)
}

// resolveAndFetchComments fetches the provider's episode list for
// binding, locates the episode at decoded.EpisodeNumber, persists it
// as a library episode row under the anime source already stored at
// (decoded.AnimeID, decoded.SourceOrder), and fetches + stores its
// comments. It does not create the anime or source rows: when no
// source exists at that position it returns an error.
func (e *Engine) resolveAndFetchComments(ctx context.Context, episodeIDRaw string, decoded DecodedEpisodeID, binding SearchHitBinding) ([]models.Comment, error) {
	episodes, err := e.fetchEpisodes(ctx, models.ProviderSearchInfo{Provider: binding.Provider, MediaID: binding.MediaID, Title: binding.Title})
	if err != nil {
		return nil, fmt.Errorf("fallback: fetch episode list for comments: %w", err)
	}

	var match *models.ProviderEpisodeInfo
	for i := range episodes {
		if episodes[i].EpisodeIndex == decoded.EpisodeNumber {
			match = &episodes[i]
			break
		}
	}
	if match == nil {
		return nil, ErrEpisodeNotFound
	}

	episodeID, err := strconv.ParseInt(episodeIDRaw, 10, 64)
	if err != nil {
		return nil, ErrInvalidEpisodeID
	}

	source, err := e.st.GetSourceByOrder(ctx, int64(decoded.AnimeID), decoded.SourceOrder)
	if err != nil {
		return nil, fmt.Errorf("fallback: resolve source for binding: %w", err)
	}

	if _, err := e.st.CreateEpisodeWithID(ctx, models.Episode{
		ID: episodeID, SourceID: source.ID, EpisodeIndex: decoded.EpisodeNumber,
		Title: match.Title, SourceURL: match.URL, ProviderEpisodeID: match.EpisodeID,
	}); err != nil {
		return nil, fmt.Errorf("fallback: create episode row for comments: %w", err)
	}

	comments, err := e.fetchCommentsForEpisode(ctx, binding.Provider, match.EpisodeID)
	if err != nil {
		return nil, err
	}
	if err := e.st.ReplaceComments(ctx, episodeID, comments); err != nil {
		return nil, err
	}
	return comments, nil
}

func (e *Engine) fetchCommentsForEpisode(ctx context.Context, provider, providerEpisodeID string) ([]models.Comment, error) {
	adapter, ok := e.scrapers.Get(provider)
	if !ok {
		return nil, fmt.Errorf("fallback: adapter %q not available", provider)
	}
	if err := e.limiter.CheckFallback(ctx, ratelimit.FallbackMatch, provider); err != nil {
		return nil, err
	}
	formatted := adapter.FormatEpisodeIDForComments(providerEpisodeID)
	raw, err := e.scrapers.CallGuarded(ctx, provider, func(ctx context.Context) (any, error) {
		return adapter.GetComments(ctx, formatted, func(percent int, description string) {})
	})
	if err != nil {
		return nil, err
	}
	rawComments := raw.([]models.RawComment)
	out := make([]models.Comment, len(rawComments))
	for i, rc := range rawComments {
		out[i] = models.Comment{TimeSec: rc.TimeSec, Mode: rc.Mode, Color: rc.Color, Text: rc.Text, ProviderTag: provider}
	}
	return out, nil
}

// finishComments applies the from/downsample/chConvert pipeline shared
// by every code path in CommentsForEpisode. opts.WithRelated is not
// applied: comments from related sources are never merged in.
func (e *Engine) finishComments(ctx context.Context, episodeID int64, comments []models.Comment, opts CommentOptions) (CommentsResult, error) {
	if opts.FromSec > 0 {
		filtered := comments[:0:0]
		for _, c := range comments {
			if c.TimeSec >= opts.FromSec {
				filtered = append(filtered, c)
			}
		}
		comments = filtered
	}

	limit := e.cfg.DanmakuOutputLimitPerSource
	if limit > 0 && len(comments) > limit {
		var sampled []models.Comment
		cacheKey := fmt.Sprintf("sampled_%d_%d", episodeID, limit)
		if ok, err := e.cache.Get(ctx, cacheKey, &sampled); err == nil && ok {
			comments = sampled
		} else {
			comments = sampleEvenly(comments, limit)
			_ = e.cache.Set(ctx, cacheKey, comments, sampledCacheTTL)
		}
	}

	wire := make([]WireComment, len(comments))
	for i, c := range comments {
		text := ConvertChinese(c.Text, opts.ChConvert)
		p := fmt.Sprintf("%.2f,%d,%d,%s", c.TimeSec, c.Mode, c.Color, c.ProviderTag)
		wire[i] = WireComment{CID: int64(i) + 1, P: p, M: text}
	}

	return CommentsResult{Count: len(wire), Comments: wire}, nil
}

// sampleEvenly selects cap items from comments at a fixed stride,
// preserving chronological order, so the same input always downsamples
// to the same output regardless of when it's called.
func sampleEvenly(comments []models.Comment, limit int) []models.Comment {
	if limit <= 0 || len(comments) <= limit {
		return comments
	}
	out := make([]models.Comment, 0, limit)
	stride := float64(len(comments)) / float64(limit)
	for i := 0; i < limit; i++ {
		idx := int(float64(i) * stride)
		if idx >= len(comments) {
			idx = len(comments) - 1
		}
		out = append(out, comments[idx])
	}
	return out
}

// ConvertChinese applies dandanplay's chConvert convention: 0 leaves
// text untouched, 1 converts to simplified, 2 to traditional. No
// library in the retrieved corpus performs Chinese script conversion,
// so this is a deliberate no-op rather than a missed dependency (see
// DESIGN.md).
func ConvertChinese(text string, chConvert int) string {
	return text
}
