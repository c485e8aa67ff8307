package fallback

import (
	"context"
	"sync"

	"novastream/models"
	"novastream/utils/similarity"
)

// MatchQuery is the normalized record handed to a Selector, spec §4.5.3
// step 5: "a query record {title, season, episode, year, type}".
type MatchQuery struct {
	Title   string
	Season  int
	Episode int
	Year    int
	Type    models.AnimeType
}

// ScoredCandidate pairs a provider search hit with the score computed by
// ScoreCandidates, and whether the anime it resolves to is a favorited
// library source.
type ScoredCandidate struct {
	Hit         models.ProviderSearchInfo
	Score       float64
	IsFavorited bool
}

// Selector is the injectable AI matcher, Design Notes §9: "an
// injectable interface Selector.SelectBestMatch(query, candidates,
// favorited) -> index?". The engine degrades gracefully when absent or
// disabled.
type Selector interface {
	SelectBestMatch(ctx context.Context, query MatchQuery, candidates []ScoredCandidate) (int, bool)
}

// ScoreCandidates scores each hit against query per spec §4.5.3 step 5:
// "type match = +1000, title similarity 0-100, source-priority order as
// tie-breaker". Results keep the caller's input order, which also
// serves as the source-priority order (Registry.SearchAll dispatches
// adapters in alphabetical provider-name order; no display_order is
// applied).
func ScoreCandidates(query MatchQuery, hits []models.ProviderSearchInfo, favoritedMediaIDs map[string]bool) []ScoredCandidate {
	out := make([]ScoredCandidate, len(hits))
	for i, h := range hits {
		score := similarity.Similarity(query.Title, h.Title) * 100
		if query.Type != "" && h.Type == query.Type {
			score += 1000
		}
		out[i] = ScoredCandidate{
			Hit:         h,
			Score:       score,
			IsFavorited: favoritedMediaIDs[h.Provider+":"+h.MediaID],
		}
	}
	return out
}

// SelectCandidate implements spec §4.5.3 step 5's decision tree: an
// enabled Selector wins outright; otherwise a favorited candidate with
// title similarity >= 80% is preferred; otherwise the top-scored
// candidate is taken. externalApiFallbackEnabled is not consulted. It
// returns the chosen index, or -1 if candidates is empty.
func SelectCandidate(ctx context.Context, sel Selector, aiEnabled bool, query MatchQuery, candidates []ScoredCandidate, favoritedSimilarityThreshold float64) int {
	if len(candidates) == 0 {
		return -1
	}
	if aiEnabled && sel != nil {
		if idx, ok := sel.SelectBestMatch(ctx, query, candidates); ok && idx >= 0 && idx < len(candidates) {
			return idx
		}
	}

	best := 0
	for i, c := range candidates {
		if c.Score > candidates[best].Score {
			best = i
		}
	}

	for i, c := range candidates {
		if !c.IsFavorited {
			continue
		}
		titleScore := similarity.Similarity(query.Title, c.Hit.Title) * 100
		if titleScore >= favoritedSimilarityThreshold {
			return i
		}
	}

	return best
}

// AIMatchDecision is one recorded AI-matcher outcome, supplementing
// original_source's ai_matcher_manager.py diagnostic ring buffer.
type AIMatchDecision struct {
	Query  MatchQuery
	Chosen string
	At     int64 // unix seconds, stamped by the caller (engine code must not call time.Now() itself in test-sensitive paths)
}

const aiDecisionRingSize = 50

// aiDecisionRing keeps the last N AI matcher decisions for diagnostics,
// read-only to external callers via Recent().
type aiDecisionRing struct {
	mu   sync.Mutex
	buf  []AIMatchDecision
	next int
}

func newAIDecisionRing() *aiDecisionRing {
	return &aiDecisionRing{buf: make([]AIMatchDecision, 0, aiDecisionRingSize)}
}

func (r *aiDecisionRing) record(d AIMatchDecision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) < aiDecisionRingSize {
		r.buf = append(r.buf, d)
		return
	}
	r.buf[r.next] = d
	r.next = (r.next + 1) % aiDecisionRingSize
}

// Recent returns a snapshot of the recorded decisions, oldest first.
func (r *aiDecisionRing) Recent() []AIMatchDecision {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AIMatchDecision, len(r.buf))
	copy(out, r.buf)
	return out
}
