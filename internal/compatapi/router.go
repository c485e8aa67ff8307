package compatapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"novastream/config"
	"novastream/internal/store"
)

// corsMiddleware handles CORS for every compat API route, mirroring the
// teacher's api/routes.go corsMiddleware.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// NewRouter builds the full compat API surface and mounts it twice per
// spec §4.6: "/{token}/api/v2/..." and its bare alias "/{token}/...".
func NewRouter(h *Handler, st *store.Store, cfgManager *config.Manager) *mux.Router {
	root := mux.NewRouter()
	auth := authMiddleware(st, cfgManager)

	register := func(sub *mux.Router) {
		sub.Use(corsMiddleware)
		sub.Use(auth)

		sub.HandleFunc("/search/episodes", h.SearchEpisodes).Methods(http.MethodGet)
		sub.HandleFunc("/search/episodes", handleOptions).Methods(http.MethodOptions)
		sub.HandleFunc("/search/anime", h.SearchAnime).Methods(http.MethodGet)
		sub.HandleFunc("/search/anime", handleOptions).Methods(http.MethodOptions)
		sub.HandleFunc("/bangumi/{bangumiId}", h.Bangumi).Methods(http.MethodGet)
		sub.HandleFunc("/bangumi/{bangumiId}", handleOptions).Methods(http.MethodOptions)
		sub.HandleFunc("/match", h.Match).Methods(http.MethodPost)
		sub.HandleFunc("/match", handleOptions).Methods(http.MethodOptions)
		sub.HandleFunc("/match/batch", h.MatchBatch).Methods(http.MethodPost)
		sub.HandleFunc("/match/batch", handleOptions).Methods(http.MethodOptions)
		sub.HandleFunc("/comment/{episodeId}", h.Comment).Methods(http.MethodGet)
		sub.HandleFunc("/comment/{episodeId}", handleOptions).Methods(http.MethodOptions)
		sub.HandleFunc("/extcomment", h.ExtComment).Methods(http.MethodGet)
		sub.HandleFunc("/extcomment", handleOptions).Methods(http.MethodOptions)
	}

	register(root.PathPrefix("/{token}/api/v2").Subrouter())
	register(root.PathPrefix("/{token}").Subrouter())

	return root
}
