package fallback

import (
	"regexp"
	"strings"

	"github.com/mozillazg/go-unidecode"
)

// TitleQuery is the pure value threaded through the title-recognition
// pre/post processor chain (Design Notes §9: "composable functions over
// (title, season?, episode?); they are pure and must be unit-testable
// without I/O").
type TitleQuery struct {
	Title   string
	Season  int
	Episode int
	IsMovie bool
}

// TitleProcessor transforms a TitleQuery before it is handed to
// search_all/unified_search, e.g. stripping release-group tags or
// shifting an absolute episode number onto a season.
type TitleProcessor func(TitleQuery) TitleQuery

var movieKeywords = []string{"剧场版", "movie", "the movie", "劇場版"}

// RelabelMovieKeywords re-labels a TV result whose title contains a
// movie keyword as a movie, per spec §4.5.2 step 3 ("Re-label TV
// results whose titles contain movie keywords").
func RelabelMovieKeywords(q TitleQuery) TitleQuery {
	lower := strings.ToLower(q.Title)
	for _, kw := range movieKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			q.IsMovie = true
			return q
		}
	}
	return q
}

var bracketTagPattern = regexp.MustCompile(`[\[【][^\]】]*[\]】]`)

// StripReleaseTags removes bracketed release-group/resolution tags that
// often precede or follow the real title in player-submitted keywords.
func StripReleaseTags(q TitleQuery) TitleQuery {
	q.Title = strings.TrimSpace(bracketTagPattern.ReplaceAllString(q.Title, ""))
	return q
}

// DefaultPreprocessors is the chain applied to a raw search/match query
// before dispatch, in order.
var DefaultPreprocessors = []TitleProcessor{
	StripReleaseTags,
}

// DefaultPostprocessors is the chain applied to a provider hit before it
// is surfaced as a search result, in order.
var DefaultPostprocessors = []TitleProcessor{
	RelabelMovieKeywords,
}

// ApplyProcessors runs chain over q in order, allowing each step to see
// the previous step's output.
func ApplyProcessors(q TitleQuery, chain []TitleProcessor) TitleQuery {
	for _, p := range chain {
		q = p(q)
	}
	return q
}

// RomanizedAliases returns title plus a unidecode-transliterated
// variant (when it differs), used to expand a CJK title into an ASCII
// alias an adapter's search index may match instead, per spec §4.5.3's
// "alias expansion".
func RomanizedAliases(title string) []string {
	aliases := []string{title}
	romanized := strings.TrimSpace(unidecode.Unidecode(title))
	if romanized != "" && romanized != title {
		aliases = append(aliases, romanized)
	}
	return aliases
}
