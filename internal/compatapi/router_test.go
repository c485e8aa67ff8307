package compatapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"novastream/config"
	"novastream/internal/compatapi"
	"novastream/internal/fallback"
	"novastream/internal/store"
)

type fakeEngine struct {
	searchAnimeResult []fallback.SearchAnimeItem
	matchResult       fallback.MatchResult
	err               error
}

func (f *fakeEngine) SearchAnime(ctx context.Context, token, keyword string) ([]fallback.SearchAnimeItem, error) {
	return f.searchAnimeResult, f.err
}

func (f *fakeEngine) MatchFilename(ctx context.Context, token, fileName string) (fallback.MatchResult, error) {
	return f.matchResult, f.err
}

func (f *fakeEngine) MatchBatch(ctx context.Context, token string, requests []fallback.MatchRequest) []fallback.MatchResult {
	out := make([]fallback.MatchResult, len(requests))
	for i := range requests {
		out[i] = f.matchResult
	}
	return out
}

func (f *fakeEngine) CommentsForEpisode(ctx context.Context, episodeIDRaw string, opts fallback.CommentOptions) (fallback.CommentsResult, error) {
	return fallback.CommentsResult{}, f.err
}

func (f *fakeEngine) BangumiDetail(ctx context.Context, bangumiIDRaw string) (fallback.BangumiDetail, error) {
	return fallback.BangumiDetail{}, f.err
}

func (f *fakeEngine) ExternalComments(ctx context.Context, rawURL string, chConvert int) (fallback.CommentsResult, error) {
	return fallback.CommentsResult{}, f.err
}

func newTestRouter(t *testing.T, engine *fakeEngine) (http.Handler, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfgManager := config.NewManager(filepath.Join(t.TempDir(), "settings.json"))
	_, err = cfgManager.Load()
	require.NoError(t, err)

	handler := compatapi.NewHandler(engine, st)
	router := compatapi.NewRouter(handler, st, cfgManager)
	return router, st
}

func TestSearchAnime_UnknownTokenDenied(t *testing.T) {
	router, _ := newTestRouter(t, &fakeEngine{})

	req := httptest.NewRequest(http.MethodGet, "/badtoken/api/v2/search/anime?keyword=foo", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// spec's unified envelope always responds HTTP 200; success=false and
	// errorCode carry the denial.
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, false, body["success"])
	require.Equal(t, float64(1003), body["errorCode"])
}

func TestSearchAnime_LibraryMissFallsThroughToEngine(t *testing.T) {
	router, st := newTestRouter(t, &fakeEngine{})
	ctx := context.Background()
	require.NoError(t, st.CreateAPIToken(ctx, store.ApiToken{Token: "tok1", Name: "t", IsEnabled: true}))

	req := httptest.NewRequest(http.MethodGet, "/tok1/api/v2/search/anime?keyword=nonexistent", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Success bool `json:"success"`
		Animes  []any `json:"animes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.Empty(t, body.Animes)
}

func TestMatch_BareAliasMountsSameAsAPIV2(t *testing.T) {
	router, st := newTestRouter(t, &fakeEngine{
		matchResult: fallback.MatchResult{IsMatched: true, Matches: []fallback.MatchCandidate{
			{EpisodeID: 1, AnimeID: 2, AnimeTitle: "Show", EpisodeTitle: "Ep 1"},
		}},
	})
	ctx := context.Background()
	require.NoError(t, st.CreateAPIToken(ctx, store.ApiToken{Token: "tok2", Name: "t", IsEnabled: true}))

	reqBody, _ := json.Marshal(map[string]string{"fileName": "Show - 01.mkv"})
	req := httptest.NewRequest(http.MethodPost, "/tok2/match", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Success   bool `json:"success"`
		IsMatched bool `json:"isMatched"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.True(t, body.IsMatched)
}

func TestOptions_ShortCircuitsAuth(t *testing.T) {
	router, _ := newTestRouter(t, &fakeEngine{})

	req := httptest.NewRequest(http.MethodOptions, "/any-token/api/v2/search/anime", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
