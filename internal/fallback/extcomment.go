package fallback

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"novastream/internal/ratelimit"
	"novastream/models"
)

const extCommentCacheTTL = 5 * time.Hour

// ErrExtCommentUnresolved is returned when no registered adapter declares
// a handled domain matching the request URL's host.
var ErrExtCommentUnresolved = fmt.Errorf("fallback: no adapter handles this url's domain")

// ExternalComments implements spec §4.6's `/extcomment`: resolve rawURL's
// host to an adapter via its declared domain list, fetch (or serve from
// a 5h cache) its comments, and apply chConvert as CommentsForEpisode
// does. The output is not downsampled to danmakuOutputLimitPerSource.
func (e *Engine) ExternalComments(ctx context.Context, rawURL string, chConvert int) (CommentsResult, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return CommentsResult{}, ErrInvalidEpisodeID
	}

	adapter, ok := e.scrapers.ResolveByDomain(parsed.Hostname())
	if !ok {
		return CommentsResult{}, ErrExtCommentUnresolved
	}

	cacheKey := fmt.Sprintf("extcomment_%s", hashKey(rawURL))
	var comments []models.Comment
	if ok, cerr := e.cache.Get(ctx, cacheKey, &comments); cerr != nil {
		return CommentsResult{}, cerr
	} else if !ok {
		providerEpisodeID, err := adapter.GetIDFromURL(rawURL)
		if err != nil {
			return CommentsResult{}, fmt.Errorf("fallback: resolve id from url: %w", err)
		}
		if err := e.limiter.CheckFallback(ctx, ratelimit.FallbackSearch, adapter.ProviderName()); err != nil {
			return CommentsResult{}, err
		}
		formatted := adapter.FormatEpisodeIDForComments(providerEpisodeID)
		raw, err := e.scrapers.CallGuarded(ctx, adapter.ProviderName(), func(ctx context.Context) (any, error) {
			return adapter.GetComments(ctx, formatted, func(percent int, description string) {})
		})
		if err != nil {
			return CommentsResult{}, err
		}
		rawComments := raw.([]models.RawComment)
		comments = make([]models.Comment, len(rawComments))
		for i, rc := range rawComments {
			comments[i] = models.Comment{TimeSec: rc.TimeSec, Mode: rc.Mode, Color: rc.Color, Text: rc.Text, ProviderTag: adapter.ProviderName()}
		}
		if err := e.cache.Set(ctx, cacheKey, comments, extCommentCacheTTL); err != nil {
			return CommentsResult{}, err
		}
	}

	wire := make([]WireComment, len(comments))
	for i, c := range comments {
		text := ConvertChinese(c.Text, chConvert)
		p := fmt.Sprintf("%.2f,%d,%d,%s", c.TimeSec, c.Mode, c.Color, c.ProviderTag)
		wire[i] = WireComment{CID: int64(i) + 1, P: p, M: text}
	}
	return CommentsResult{Count: len(wire), Comments: wire}, nil
}
