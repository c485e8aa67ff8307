package fallback

import (
	"path"
	"regexp"
	"strconv"
	"strings"
)

// ParsedFilename is the result of parsing a player-submitted filename
// into (title, season, episode). Patterns are tried in order: SxxExx,
// "Title - NN", then bare movie title.
type ParsedFilename struct {
	Title   string
	Season  int
	Episode int
	IsMovie bool
	// ReconstructedTitle is what Title would look like if fed back
	// through Parse, used by the idempotence property.
	ReconstructedTitle string
}

var (
	sxxexxPattern       = regexp.MustCompile(`(?i)^(.*?)[\s._-]+s(\d{1,2})\s*e(\d{1,3})\b.*$`)
	titleDashNumPattern = regexp.MustCompile(`(?i)^(.*?)[\s._-]+-[\s._]*(\d{1,4})\b.*$`)
	releaseExtensions   = map[string]struct{}{
		".mkv": {}, ".mp4": {}, ".avi": {}, ".m4v": {}, ".mov": {}, ".ts": {}, ".m2ts": {},
	}
)

// ParseFilename parses raw (a bare filename or a full path) into its
// title/season/episode components.
func ParseFilename(raw string) ParsedFilename {
	name := stripExtension(path.Base(strings.ReplaceAll(raw, "\\", "/")))

	if m := sxxexxPattern.FindStringSubmatch(name); len(m) == 4 {
		season, _ := strconv.Atoi(m[2])
		episode, _ := strconv.Atoi(m[3])
		title := cleanTitle(m[1])
		return ParsedFilename{
			Title:              title,
			Season:             season,
			Episode:            episode,
			ReconstructedTitle: title,
		}
	}

	if m := titleDashNumPattern.FindStringSubmatch(name); len(m) == 3 {
		episode, _ := strconv.Atoi(m[2])
		title := cleanTitle(m[1])
		return ParsedFilename{
			Title:              title,
			Season:             1,
			Episode:            episode,
			ReconstructedTitle: title,
		}
	}

	// Bare movie title: no episode marker found.
	title := cleanTitle(name)
	return ParsedFilename{
		Title:              title,
		IsMovie:            true,
		ReconstructedTitle: title,
	}
}

// ParseSearchKeyword parses a free-text search query into a TitleQuery,
// reusing ParseFilename's SxxExx pattern since players often submit
// "Title SxxExx" as a search keyword too (spec §4.5.2 step 3).
func ParseSearchKeyword(raw string) TitleQuery {
	name := strings.TrimSpace(raw)
	if m := sxxexxPattern.FindStringSubmatch(name); len(m) == 4 {
		season, _ := strconv.Atoi(m[2])
		episode, _ := strconv.Atoi(m[3])
		return TitleQuery{Title: cleanTitle(m[1]), Season: season, Episode: episode}
	}
	return TitleQuery{Title: cleanTitle(name)}
}

func stripExtension(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if _, ok := releaseExtensions[ext]; ok {
		return strings.TrimSuffix(name, name[len(name)-len(ext):])
	}
	return name
}

var cleanupPattern = regexp.MustCompile(`[\._]+`)

func cleanTitle(raw string) string {
	s := cleanupPattern.ReplaceAllString(raw, " ")
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "-_. ")
	return s
}
