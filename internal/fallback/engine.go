// Package fallback implements the Match/Search Fallback Engine (C8),
// spec.md §4.5: the on-demand path a compat API request falls back to
// when the library alone cannot answer it. It owns virtual/real id
// minting, the title-recognition pre/post processor chain, provider
// fan-out dispatch through the scraper registry, AI-assisted candidate
// selection, and comment sampling.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"sync"
	"time"

	"novastream/internal/cachestore"
	"novastream/internal/metadata"
	"novastream/internal/ratelimit"
	"novastream/internal/scraper"
	"novastream/internal/store"
	"novastream/internal/taskmanager"
	"novastream/models"
	"novastream/utils/similarity"
)

const (
	cacheKeySearchSessionPrefix = "fallback_search_session_"
	matchResultTTL              = 10 * time.Minute
	matchCooldownTTL            = 5 * time.Minute
	commentsCacheTTL            = 6 * time.Hour
	sampledCacheTTL             = 24 * time.Hour
	searchProgressSeconds       = 20.0
)

// Config is the engine's feature-flag surface, spec §6's "Env/config
// relevant to the core" list, excluding the parts already owned by
// config.Settings' typed fields (kept here as plain values so the
// engine has no import-time dependency on the config package).
type Config struct {
	SearchFallbackEnabled         bool
	MatchFallbackEnabled          bool
	MatchFallbackTokens           map[string]bool
	MatchFallbackBlacklist        *regexp.Regexp
	PreDownloadNextEpisodeEnabled bool
	ExternalApiFallbackEnabled    bool
	AIMatchEnabled                bool
	AIFallbackEnabled             bool
	DanmakuOutputLimitPerSource   int
	AliasSimilarityThreshold      float64
	FavoritedSimilarityThreshold  float64
}

// Engine is the C8 Match/Search Fallback Engine.
type Engine struct {
	st          *store.Store
	cache       *cachestore.Cache
	ids         *IDAllocator
	scrapers    *scraper.Registry
	metadataReg *metadata.Registry
	tasks       *taskmanager.Manager
	limiter     *ratelimit.Limiter
	cfg         Config
	selector    Selector
	aiDecisions *aiDecisionRing
	nowFn       func() time.Time
}

// NewEngine wires the fallback engine to its collaborators.
func NewEngine(st *store.Store, cache *cachestore.Cache, ids *IDAllocator, scrapers *scraper.Registry, metadataReg *metadata.Registry, tasks *taskmanager.Manager, limiter *ratelimit.Limiter, cfg Config, selector Selector) *Engine {
	if cfg.AliasSimilarityThreshold == 0 {
		cfg.AliasSimilarityThreshold = 70
	}
	if cfg.FavoritedSimilarityThreshold == 0 {
		cfg.FavoritedSimilarityThreshold = 80
	}
	return &Engine{
		st: st, cache: cache, ids: ids, scrapers: scrapers, metadataReg: metadataReg,
		tasks: tasks, limiter: limiter, cfg: cfg, selector: selector,
		aiDecisions: newAIDecisionRing(), nowFn: time.Now,
	}
}

// AIDecisions returns a snapshot of the most recent AI matcher
// decisions, supplementing original_source's ai_matcher_manager.py
// diagnostic surface.
func (e *Engine) AIDecisions() []AIMatchDecision {
	return e.aiDecisions.Recent()
}

func (e *Engine) tokenAuthorized(token string) bool {
	if len(e.cfg.MatchFallbackTokens) == 0 {
		return false
	}
	return e.cfg.MatchFallbackTokens[token]
}

func fallbackSearchSessionKey(token, keyword string) string {
	return fmt.Sprintf("%s%s", cacheKeySearchSessionPrefix, hashKey(token+"|"+keyword))
}

// hashKey is a non-cryptographic digest used only to keep cache keys
// short and collision-resistant enough for single-process/testing use;
// it is never used for anything security-sensitive.
func hashKey(s string) string {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return strconv.FormatUint(uint64(h), 16)
}

func dedupeSearchHits(hits []models.ProviderSearchInfo) []models.ProviderSearchInfo {
	seen := make(map[string]bool, len(hits))
	out := make([]models.ProviderSearchInfo, 0, len(hits))
	for _, h := range hits {
		key := h.Provider + ":" + h.MediaID
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, h)
	}
	return out
}

// filterByAliasSimilarity keeps only hits whose title is at least
// threshold-percent similar to title, spec §4.5.3 step 5's "70% alias
// similarity threshold".
func filterByAliasSimilarity(title string, hits []models.ProviderSearchInfo, thresholdPercent float64) []models.ProviderSearchInfo {
	out := make([]models.ProviderSearchInfo, 0, len(hits))
	for _, h := range hits {
		if similarity.Similarity(title, h.Title)*100 >= thresholdPercent {
			out = append(out, h)
		}
	}
	return out
}

func removeIndex(candidates []ScoredCandidate, idx int) []ScoredCandidate {
	out := make([]ScoredCandidate, 0, len(candidates)-1)
	for i, c := range candidates {
		if i != idx {
			out = append(out, c)
		}
	}
	return out
}

// favoritedMediaIDs returns the set of "provider:mediaId" keys already
// marked favorited in the library under title, used to bias candidate
// selection toward a source the user has already chosen once.
func (e *Engine) favoritedMediaIDs(ctx context.Context, title string) map[string]bool {
	out := make(map[string]bool)
	candidates, err := e.st.FindCandidatesByTitle(ctx, title)
	if err != nil {
		return out
	}
	for _, c := range candidates {
		if c.Source.IsFavorited {
			out[c.Source.ProviderName+":"+c.Source.MediaID] = true
		}
	}
	return out
}

func (e *Engine) fetchEpisodes(ctx context.Context, hit models.ProviderSearchInfo) ([]models.ProviderEpisodeInfo, error) {
	adapter, ok := e.scrapers.Get(hit.Provider)
	if !ok {
		return nil, fmt.Errorf("fallback: adapter %q not available", hit.Provider)
	}
	if err := e.limiter.CheckFallback(ctx, ratelimit.FallbackMatch, hit.Provider); err != nil {
		return nil, err
	}
	raw, err := e.scrapers.CallGuarded(ctx, hit.Provider, func(ctx context.Context) (any, error) {
		return adapter.GetEpisodes(ctx, hit.MediaID, "")
	})
	if err != nil {
		return nil, err
	}
	return raw.([]models.ProviderEpisodeInfo), nil
}

// SearchAnime implements spec §4.5.2: library-miss free-text search
// fallback with a single-flight session keyed by (token, keyword).
func (e *Engine) SearchAnime(ctx context.Context, token, keyword string) ([]SearchAnimeItem, error) {
	if !e.cfg.SearchFallbackEnabled || !e.tokenAuthorized(token) {
		return nil, nil
	}

	sessionKey := fallbackSearchSessionKey(token, keyword)
	var cached []SearchAnimeItem
	if ok, cerr := e.cache.Get(ctx, sessionKey, &cached); cerr == nil && ok {
		return cached, nil
	}
	bgCtx := context.WithoutCancel(ctx)
	taskID, _, err := e.tasks.SubmitTask(bgCtx, func(ctx context.Context, progress taskmanager.ProgressFunc) error {
		return e.runSearchFallback(ctx, sessionKey, keyword, progress)
	}, fmt.Sprintf("Search fallback: %s", keyword), taskmanager.SubmitOptions{
		UniqueKey: sessionKey, QueueType: models.QueueFallback, TaskType: "searchFallback", RunImmediately: true,
	})
	if err != nil {
		return nil, err
	}

	task, err := e.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	switch task.Status {
	case models.TaskCompleted:
		var results []SearchAnimeItem
		if ok, cerr := e.cache.Get(ctx, sessionKey, &results); cerr != nil {
			return nil, cerr
		} else if ok {
			return results, nil
		}
		return nil, nil
	case models.TaskFailed:
		return nil, nil
	default:
		elapsed := e.nowFn().Sub(task.CreatedAt).Seconds()
		pct := int(elapsed / searchProgressSeconds * 100)
		if pct > 95 {
			pct = 95
		}
		if pct < 0 {
			pct = 0
		}
		return []SearchAnimeItem{{
			AnimeID:         placeholderBangumiID,
			BangumiID:       strconv.Itoa(placeholderBangumiID),
			AnimeTitle:      keyword,
			TypeDescription: fmt.Sprintf("搜索中 %d%%", pct),
		}}, nil
	}
}

func (e *Engine) runSearchFallback(ctx context.Context, sessionKey, keyword string, progress taskmanager.ProgressFunc) error {
	progress(0, "searching")

	q := ParseSearchKeyword(keyword)
	q = ApplyProcessors(q, DefaultPreprocessors)

	var hits []models.ProviderSearchInfo
	for _, alias := range RomanizedAliases(q.Title) {
		for _, res := range e.scrapers.SearchAll(ctx, alias, &models.EpisodeInfo{Season: q.Season, Episode: q.Episode}) {
			if res.Err == nil {
				hits = append(hits, res.Results...)
			}
		}
	}
	hits = dedupeSearchHits(hits)

	if len(hits) == 0 && e.metadataReg != nil {
		seed := e.metadataReg.SupplementSearchResult(ctx, models.ProviderSearchInfo{Title: q.Title, Year: 0})
		if seed.Provider != "" {
			hits = append(hits, seed)
		}
	}

	progress(40, "ranking")

	relabeled := make([]models.ProviderSearchInfo, len(hits))
	for i, h := range hits {
		tq := ApplyProcessors(TitleQuery{Title: h.Title}, DefaultPostprocessors)
		if tq.IsMovie {
			h.Type = models.AnimeTypeMovie
		}
		relabeled[i] = h
	}
	hits = relabeled

	if q.Season > 0 {
		filtered := hits[:0:0]
		for _, h := range hits {
			if h.Type == models.AnimeTypeTVSeries && h.Season == q.Season {
				filtered = append(filtered, h)
			}
		}
		hits = filtered
	}

	items := make([]SearchAnimeItem, 0, len(hits))
	for _, h := range hits {
		virtualID, err := e.ids.MintVirtualAnimeID(ctx, SearchHitBinding{Provider: h.Provider, MediaID: h.MediaID, Title: h.Title})
		if err != nil {
			log.Printf("[fallback] mint virtual id for %q: %v", h.Title, err)
			continue
		}

		typeDescription := typeLabel(h.Type)
		if existing, err := e.st.FindAnimeByTitleSeason(ctx, h.Title, h.Season); err == nil {
			if indexes, err := e.st.EpisodeIndexesForAnime(ctx, existing.ID); err == nil {
				if ranges := FormatEpisodeRanges(indexes); ranges != "" {
					typeDescription = fmt.Sprintf("%s（库内：%s）", typeDescription, ranges)
				}
			}
		}

		items = append(items, SearchAnimeItem{
			AnimeID:         virtualID,
			BangumiID:       strconv.FormatInt(virtualID, 10),
			AnimeTitle:      h.Title,
			Type:            h.Type,
			TypeDescription: typeDescription,
			ImageURL:        h.ImageURL,
			Year:            h.Year,
			EpisodeCount:    h.EpisodeCount,
		})
	}

	if err := e.cache.Set(ctx, sessionKey, items, searchBindingTTL); err != nil {
		return fmt.Errorf("fallback: cache search results: %w", err)
	}
	progress(100, fmt.Sprintf("found %d results", len(items)))
	return taskmanager.TaskSuccess{Message: fmt.Sprintf("found %d results", len(items))}
}

func typeLabel(t models.AnimeType) string {
	switch t {
	case models.AnimeTypeMovie:
		return "电影"
	case models.AnimeTypeOVA:
		return "OVA"
	case models.AnimeTypeOther:
		return "其他"
	default:
		return "TV动画"
	}
}

// MatchFilename implements spec §4.5.3.
func (e *Engine) MatchFilename(ctx context.Context, token, fileName string) (MatchResult, error) {
	parsed := ParseFilename(fileName)

	candidates, err := e.st.FindCandidatesByTitle(ctx, parsed.Title)
	if err != nil {
		return MatchResult{}, err
	}

	var hits []MatchCandidate
	animeIDs := map[int64]bool{}
	for _, c := range candidates {
		index := parsed.Episode
		if parsed.IsMovie {
			index = 1
		}
		ep, err := e.st.GetEpisodeByIndex(ctx, c.Source.ID, index)
		if err != nil {
			continue
		}
		hits = append(hits, MatchCandidate{EpisodeID: ep.ID, AnimeID: c.Anime.ID, AnimeTitle: c.Anime.Title, EpisodeTitle: ep.Title, Type: c.Anime.Type})
		animeIDs[c.Anime.ID] = true
	}
	if len(hits) > 0 {
		if len(animeIDs) == 1 {
			return MatchResult{IsMatched: true, Matches: hits[:1]}, nil
		}
		return MatchResult{IsMatched: false, Matches: hits}, nil
	}

	if !parsed.IsMovie {
		for _, c := range candidates {
			if c.Anime.TMDBID == 0 || c.Anime.TMDBGroup == "" {
				continue
			}
			mapping, err := e.st.TmdbEpisodeMapping(ctx, c.Anime.TMDBID, c.Anime.TMDBGroup, parsed.Season, parsed.Episode)
			if err != nil {
				continue
			}
			ep, err := e.st.GetEpisodeByIndex(ctx, c.Source.ID, mapping.TmdbEpisode)
			if err != nil {
				continue
			}
			return MatchResult{IsMatched: true, Matches: []MatchCandidate{{
				EpisodeID: ep.ID, AnimeID: c.Anime.ID, AnimeTitle: c.Anime.Title, EpisodeTitle: ep.Title, Type: c.Anime.Type,
			}}}, nil
		}
	}

	if !e.cfg.MatchFallbackEnabled || !e.tokenAuthorized(token) {
		return MatchResult{IsMatched: false}, nil
	}
	if e.cfg.MatchFallbackBlacklist != nil && e.cfg.MatchFallbackBlacklist.MatchString(fileName) {
		return MatchResult{IsMatched: false}, nil
	}

	cooldownKey := fmt.Sprintf("match_fallback_cooldown_%s_%d_%d", parsed.Title, parsed.Season, parsed.Episode)
	var marker bool
	if ok, _ := e.cache.Get(ctx, cooldownKey, &marker); ok {
		return MatchResult{IsMatched: false}, nil
	}
	_ = e.cache.Set(ctx, cooldownKey, true, matchCooldownTTL)

	query := MatchQuery{Title: parsed.Title, Season: parsed.Season, Episode: parsed.Episode}
	if parsed.IsMovie {
		query.Type = models.AnimeTypeMovie
	} else {
		query.Type = models.AnimeTypeTVSeries
	}

	uniqueKey := fmt.Sprintf("matchFallback:%s:%d:%d", parsed.Title, parsed.Season, parsed.Episode)
	resultKey := fmt.Sprintf("match_fallback_result_%s", uniqueKey)

	bgCtx := context.WithoutCancel(ctx)
	taskID, done, err := e.tasks.SubmitTask(bgCtx, func(ctx context.Context, progress taskmanager.ProgressFunc) error {
		return e.runMatchFallback(ctx, resultKey, query, progress)
	}, fmt.Sprintf("Match fallback: %s S%02dE%02d", parsed.Title, parsed.Season, parsed.Episode), taskmanager.SubmitOptions{
		UniqueKey: uniqueKey, QueueType: models.QueueFallback, TaskType: "matchFallback", RunImmediately: true,
	})
	if err != nil {
		return MatchResult{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	select {
	case <-done:
	case <-waitCtx.Done():
		return MatchResult{IsMatched: false}, nil
	}

	task, err := e.tasks.GetTask(ctx, taskID)
	if err != nil {
		return MatchResult{}, err
	}
	if task.Status == models.TaskCompleted {
		var cand MatchCandidate
		if ok, cerr := e.cache.Get(ctx, resultKey, &cand); cerr == nil && ok {
			return MatchResult{IsMatched: true, Matches: []MatchCandidate{cand}}, nil
		}
	}
	return MatchResult{IsMatched: false}, nil
}

func (e *Engine) runMatchFallback(ctx context.Context, resultKey string, query MatchQuery, progress taskmanager.ProgressFunc) error {
	progress(0, "searching")

	q := TitleQuery{Title: query.Title, Season: query.Season, Episode: query.Episode, IsMovie: query.Type == models.AnimeTypeMovie}
	q = ApplyProcessors(q, DefaultPreprocessors)

	var hits []models.ProviderSearchInfo
	for _, alias := range RomanizedAliases(q.Title) {
		for _, res := range e.scrapers.SearchAll(ctx, alias, &models.EpisodeInfo{Season: q.Season, Episode: q.Episode}) {
			if res.Err == nil {
				hits = append(hits, res.Results...)
			}
		}
	}
	hits = dedupeSearchHits(hits)
	hits = filterByAliasSimilarity(q.Title, hits, e.cfg.AliasSimilarityThreshold)
	if len(hits) == 0 {
		return taskmanager.TaskSuccess{Message: "no candidates found"}
	}

	progress(40, "scoring")
	favorited := e.favoritedMediaIDs(ctx, q.Title)
	scored := ScoreCandidates(query, hits, favorited)

	aiEnabled := e.cfg.AIMatchEnabled && e.cfg.AIFallbackEnabled
	idx := SelectCandidate(ctx, e.selector, aiEnabled, query, scored, e.cfg.FavoritedSimilarityThreshold)
	if idx < 0 {
		return taskmanager.TaskSuccess{Message: "no candidate selected"}
	}
	if aiEnabled && e.selector != nil {
		e.aiDecisions.record(AIMatchDecision{Query: query, Chosen: scored[idx].Hit.Title, At: e.nowFn().Unix()})
	}

	progress(60, "validating")
	ordered := append([]ScoredCandidate{scored[idx]}, removeIndex(scored, idx)...)
	for _, c := range ordered {
		episodes, err := e.fetchEpisodes(ctx, c.Hit)
		if err != nil {
			continue // candidate rejection, never a task failure (spec §7 propagation policy)
		}

		var match *models.ProviderEpisodeInfo
		if query.Type == models.AnimeTypeMovie {
			if len(episodes) > 0 {
				match = &episodes[0]
			}
		} else {
			for i := range episodes {
				if episodes[i].EpisodeIndex == query.Episode {
					match = &episodes[i]
					break
				}
			}
		}
		if match == nil {
			continue
		}

		progress(80, "materializing")
		season := query.Season
		if season == 0 {
			season = 1
		}
		anime := models.Anime{Title: q.Title, Season: season, Type: c.Hit.Type, Year: c.Hit.Year, ImageURL: c.Hit.ImageURL}
		source := models.AnimeSource{ProviderName: c.Hit.Provider, MediaID: c.Hit.MediaID}
		realAnime, realSource, err := e.ids.MaterializeAnime(ctx, anime, source)
		if err != nil {
			return fmt.Errorf("fallback: materialize anime: %w", err)
		}

		episodeNumber := match.EpisodeIndex
		if query.Type != models.AnimeTypeMovie {
			episodeNumber = query.Episode
		}
		episodeIDStr, err := EncodeEpisodeID(int(realAnime.ID), realSource.SourceOrder, episodeNumber)
		if err != nil {
			return fmt.Errorf("fallback: encode episode id: %w", err)
		}
		episodeID, _ := strconv.ParseInt(episodeIDStr, 10, 64)

		if _, err := e.st.CreateEpisodeWithID(ctx, models.Episode{
			ID: episodeID, SourceID: realSource.ID, EpisodeIndex: episodeNumber,
			Title: match.Title, SourceURL: match.URL, ProviderEpisodeID: match.EpisodeID,
		}); err != nil {
			return fmt.Errorf("fallback: create episode: %w", err)
		}

		result := MatchCandidate{
			EpisodeID: episodeID, AnimeID: realAnime.ID, AnimeTitle: realAnime.Title,
			EpisodeTitle: match.Title, Type: realAnime.Type,
		}
		if err := e.cache.Set(ctx, resultKey, result, matchResultTTL); err != nil {
			return fmt.Errorf("fallback: cache match result: %w", err)
		}
		progress(100, "matched")
		return nil
	}

	return taskmanager.TaskSuccess{Message: "no candidate validated against provider episode list"}
}

// MatchBatch runs MatchFilename concurrently over requests (spec §4.6
// `/match/batch`'s "requests[≤32]"), each on its own goroutine since
// every call already has its own 30-second budget and worker-pool
// submission.
func (e *Engine) MatchBatch(ctx context.Context, token string, requests []MatchRequest) []MatchResult {
	if len(requests) > 32 {
		requests = requests[:32]
	}
	results := make([]MatchResult, len(requests))
	var wg sync.WaitGroup
	for i, r := range requests {
		wg.Add(1)
		go func(i int, r MatchRequest) {
			defer wg.Done()
			res, err := e.MatchFilename(ctx, token, r.FileName)
			if err != nil {
				log.Printf("[fallback] match batch item %d failed: %v", i, err)
				results[i] = MatchResult{IsMatched: false}
				return
			}
			results[i] = res
		}(i, r)
	}
	wg.Wait()
	return results
}

func (e *Engine) preDownloadNext(ctx context.Context, decoded DecodedEpisodeID, binding SearchHitBinding) {
	if !e.cfg.PreDownloadNextEpisodeEnabled || !(e.cfg.MatchFallbackEnabled || e.cfg.SearchFallbackEnabled) {
		e.logSkip(SkipConfigured, decoded)
		return
	}

	nextIndex := decoded.EpisodeNumber + 1
	nextEpisodeIDStr, err := EncodeEpisodeID(decoded.AnimeID, decoded.SourceOrder, nextIndex)
	if err != nil {
		return
	}
	nextEpisodeID, _ := strconv.ParseInt(nextEpisodeIDStr, 10, 64)
	if ep, err := e.st.GetEpisode(ctx, nextEpisodeID); err == nil && ep.CommentCount > 0 {
		e.logSkip(SkipAlreadyPresent, decoded)
		return
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("[fallback] pre-download lookup failed: %v", err)
		return
	}

	next := DecodedEpisodeID{AnimeID: decoded.AnimeID, SourceOrder: decoded.SourceOrder, EpisodeNumber: nextIndex}
	uniqueKey := fmt.Sprintf("predownload_%s_%s_%d", binding.Provider, binding.MediaID, nextIndex)
	bgCtx := context.WithoutCancel(ctx)
	_, _, err = e.tasks.SubmitTask(bgCtx, func(ctx context.Context, progress taskmanager.ProgressFunc) error {
		progress(0, "pre-downloading next episode")
		if _, ferr := e.resolveAndFetchComments(ctx, nextEpisodeIDStr, next, binding); ferr != nil {
			if errors.Is(ferr, ErrEpisodeNotFound) {
				e.logSkip(SkipNoNextEpisode, decoded)
				return taskmanager.TaskSuccess{Message: "no next episode available upstream"}
			}
			return fmt.Errorf("predownload: %w", ferr)
		}
		progress(100, "done")
		return nil
	}, fmt.Sprintf("Pre-download: %s episode %d", binding.Title, nextIndex), taskmanager.SubmitOptions{
		UniqueKey: uniqueKey, QueueType: models.QueueDownload, TaskType: "predownload",
	})
	if err != nil && !errors.Is(err, store.ErrConflict) {
		log.Printf("[fallback] pre-download submit failed: %v", err)
	}
}

func (e *Engine) logSkip(reason SkipReason, decoded DecodedEpisodeID) {
	log.Printf("[fallback] pre-download skipped anime=%d source=%d episode=%d reason=%s",
		decoded.AnimeID, decoded.SourceOrder, decoded.EpisodeNumber, reason)
}
