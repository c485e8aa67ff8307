package compatapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"novastream/internal/fallback"
	"novastream/internal/store"
	"novastream/models"
)

// engineAPI is the subset of *fallback.Engine this handler set calls,
// following the teacher's handlers/metadata.go pattern of depending on a
// narrow local interface rather than the concrete type.
type engineAPI interface {
	SearchAnime(ctx context.Context, token, keyword string) ([]fallback.SearchAnimeItem, error)
	MatchFilename(ctx context.Context, token, fileName string) (fallback.MatchResult, error)
	MatchBatch(ctx context.Context, token string, requests []fallback.MatchRequest) []fallback.MatchResult
	CommentsForEpisode(ctx context.Context, episodeIDRaw string, opts fallback.CommentOptions) (fallback.CommentsResult, error)
	BangumiDetail(ctx context.Context, bangumiIDRaw string) (fallback.BangumiDetail, error)
	ExternalComments(ctx context.Context, rawURL string, chConvert int) (fallback.CommentsResult, error)
}

var _ engineAPI = (*fallback.Engine)(nil)

// Handler serves every endpoint of spec §4.6's compat API.
type Handler struct {
	Engine engineAPI
	Store  *store.Store
}

// NewHandler constructs a Handler bound to its collaborators.
func NewHandler(engine engineAPI, st *store.Store) *Handler {
	return &Handler{Engine: engine, Store: st}
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

// SearchEpisodes handles GET /search/episodes?anime=X&episode=Y: a
// library-only lookup (spec §6), never triggers fallback.
func (h *Handler) SearchEpisodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	animeTitle := strings.TrimSpace(r.URL.Query().Get("anime"))
	episodeFilter := strings.TrimSpace(r.URL.Query().Get("episode"))
	if animeTitle == "" {
		writeError(w, http.StatusBadRequest, "anime is required")
		return
	}

	candidates, err := h.Store.FindCandidatesByTitle(ctx, animeTitle)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	episodeNum, episodeNumOK := -1, false
	if episodeFilter != "" {
		if n, err := strconv.Atoi(episodeFilter); err == nil {
			episodeNum, episodeNumOK = n, true
		}
	}

	seen := map[int64]bool{}
	out := make([]searchEpisodesAnime, 0, len(candidates))
	for _, c := range candidates {
		if seen[c.Anime.ID] {
			continue
		}
		seen[c.Anime.ID] = true

		episodes, err := h.Store.ListEpisodesForSource(ctx, c.Source.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		eps := make([]searchEpisodesEpisode, 0, len(episodes))
		for _, ep := range episodes {
			if episodeNumOK && ep.EpisodeIndex != episodeNum {
				continue
			}
			if !episodeNumOK && episodeFilter != "" && !strings.Contains(ep.Title, episodeFilter) {
				continue
			}
			eps = append(eps, searchEpisodesEpisode{EpisodeID: strconv.FormatInt(ep.ID, 10), EpisodeTitle: ep.Title})
		}
		if episodeFilter != "" && len(eps) == 0 {
			continue
		}
		out = append(out, searchEpisodesAnime{
			AnimeID: c.Anime.ID, AnimeTitle: c.Anime.Title, Type: c.Anime.Type,
			TypeDescription: typeLabel(c.Anime.Type), Episodes: eps,
		})
	}

	writeJSON(w, searchEpisodesResponse{envelope: envelope{Success: true}, Animes: out})
}

// SearchAnime handles GET /search/anime?keyword=X: a library search that
// falls through to §4.5.2 on a miss (spec §6).
func (h *Handler) SearchAnime(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	keyword := strings.TrimSpace(r.URL.Query().Get("keyword"))
	if keyword == "" {
		writeError(w, http.StatusBadRequest, "keyword is required")
		return
	}

	animes, err := h.Store.SearchAnimeByKeyword(ctx, keyword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if len(animes) > 0 {
		out := make([]searchAnimeItem, 0, len(animes))
		for _, a := range animes {
			favorited := false
			if sources, err := h.Store.ListSourcesForAnime(ctx, a.ID); err == nil {
				for _, src := range sources {
					if src.IsFavorited {
						favorited = true
						break
					}
				}
			}
			out = append(out, searchAnimeItem{
				AnimeID: a.ID, BangumiID: strconv.FormatInt(a.ID, 10), AnimeTitle: a.Title,
				Type: a.Type, TypeDescription: typeLabel(a.Type), ImageURL: a.ImageURL, IsFavorited: favorited,
			})
		}
		writeJSON(w, searchAnimeResponse{envelope: envelope{Success: true}, Animes: out})
		return
	}

	items, err := h.Engine.SearchAnime(ctx, tokenFromContext(ctx), keyword)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]searchAnimeItem, len(items))
	for i, it := range items {
		out[i] = searchAnimeItem{
			AnimeID: it.AnimeID, BangumiID: it.BangumiID, AnimeTitle: it.AnimeTitle,
			Type: it.Type, TypeDescription: it.TypeDescription, ImageURL: it.ImageURL, IsFavorited: it.IsFavorited,
		}
	}
	writeJSON(w, searchAnimeResponse{envelope: envelope{Success: true}, Animes: out})
}

// Bangumi handles GET /bangumi/{bangumiId}.
func (h *Handler) Bangumi(w http.ResponseWriter, r *http.Request) {
	bangumiID := mux.Vars(r)["bangumiId"]
	detail, err := h.Engine.BangumiDetail(r.Context(), bangumiID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, bangumiResponse{envelope: envelope{Success: true}, Bangumi: detail})
}

// Match handles POST /match.
func (h *Handler) Match(w http.ResponseWriter, r *http.Request) {
	var body matchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.FileName == "" {
		writeError(w, http.StatusBadRequest, "fileName is required")
		return
	}

	result, err := h.Engine.MatchFilename(r.Context(), tokenFromContext(r.Context()), body.FileName)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, matchResultToResponse(result))
}

// MatchBatch handles POST /match/batch.
func (h *Handler) MatchBatch(w http.ResponseWriter, r *http.Request) {
	var body matchBatchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	requests := make([]fallback.MatchRequest, len(body.Requests))
	for i, item := range body.Requests {
		requests[i] = fallback.MatchRequest{FileName: item.FileName, MatchMode: item.MatchMode}
	}
	results := h.Engine.MatchBatch(r.Context(), tokenFromContext(r.Context()), requests)

	out := make([]matchResponse, len(results))
	for i, res := range results {
		out[i] = matchResultToResponse(res)
	}
	writeJSON(w, matchBatchResponse{envelope: envelope{Success: true}, Results: out})
}

func matchResultToResponse(result fallback.MatchResult) matchResponse {
	matches := make([]matchCandidateDTO, len(result.Matches))
	for i, m := range result.Matches {
		matches[i] = matchCandidateDTO{EpisodeID: m.EpisodeID, AnimeID: m.AnimeID, AnimeTitle: m.AnimeTitle, EpisodeTitle: m.EpisodeTitle, Type: m.Type}
	}
	return matchResponse{envelope: envelope{Success: true}, IsMatched: result.IsMatched, Matches: matches}
}

// Comment handles GET /comment/{episodeId}?chConvert=0|1|2&from=sec&withRelated=bool.
func (h *Handler) Comment(w http.ResponseWriter, r *http.Request) {
	episodeID := mux.Vars(r)["episodeId"]
	opts := fallback.CommentOptions{
		ChConvert:   queryInt(r, "chConvert", 0),
		FromSec:     queryFloat(r, "from", 0),
		WithRelated: queryBool(r, "withRelated", false),
	}

	result, err := h.Engine.CommentsForEpisode(r.Context(), episodeID, opts)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, commentsResultToResponse(result))
}

// ExtComment handles GET /extcomment?url=...&chConvert=....
func (h *Handler) ExtComment(w http.ResponseWriter, r *http.Request) {
	rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	chConvert := queryInt(r, "chConvert", 0)

	result, err := h.Engine.ExternalComments(r.Context(), rawURL, chConvert)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, commentsResultToResponse(result))
}

func commentsResultToResponse(result fallback.CommentsResult) commentResponse {
	comments := make([]commentDTO, len(result.Comments))
	for i, c := range result.Comments {
		comments[i] = commentDTO{CID: c.CID, P: c.P, M: c.M}
	}
	return commentResponse{envelope: envelope{Success: true}, Count: result.Count, Comments: comments}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryFloat(r *http.Request, key string, def float64) float64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func queryBool(r *http.Request, key string, def bool) bool {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
