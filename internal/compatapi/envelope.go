// Package compatapi is the Compat API Surface (C9): the
// dandanplay-compatible JSON surface described in spec.md §4.6/§6,
// mounted under an opaque per-token path twice
// ("/{token}/api/v2/..." and "/{token}/..."). It is a thin HTTP layer
// over internal/fallback's Engine and internal/store's library
// queries — no business logic lives here beyond request parsing,
// authorization, and response shaping.
package compatapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"novastream/internal/fallback"
	"novastream/internal/ratelimit"
)

// Error codes from spec §4.6/§7's unified envelope.
const (
	errCodeInputInvalid = 1001
	errCodeAuthDenied   = 1003
	errCodeInternal     = 500
)

// envelope is the unified response shape: HTTP 200 always, success
// distinguishes the outcome, matching spec.md's "HTTP 200 with
// {success:false, errorCode, errorMessage}" contract.
type envelope struct {
	Success      bool `json:"success"`
	ErrorCode    int  `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError always responds HTTP 200 per the unified envelope; the
// httpStatus parameter only selects which errorCode bucket it maps to
// (400->1001, 404/403->1003, 500->500), it is never written as the
// actual status line.
func writeError(w http.ResponseWriter, httpStatus int, message string) {
	code := errCodeInternal
	switch {
	case httpStatus == http.StatusBadRequest:
		code = errCodeInputInvalid
	case httpStatus == http.StatusNotFound || httpStatus == http.StatusForbidden:
		code = errCodeAuthDenied
	}
	writeJSON(w, envelope{Success: false, ErrorCode: code, ErrorMessage: message})
}

// writeEngineError maps a fallback/ratelimit error to the envelope,
// distinguishing rate-limit exhaustion (surfaced as input invalid, since
// the unified envelope has no dedicated throttling bucket) from a
// genuine not-found.
func writeEngineError(w http.ResponseWriter, err error) {
	var limitErr *ratelimit.LimitExceeded
	switch {
	case errors.As(err, &limitErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, fallback.ErrEpisodeNotFound), errors.Is(err, fallback.ErrBangumiNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, fallback.ErrInvalidEpisodeID):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
