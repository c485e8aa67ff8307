package compatapi

import "novastream/models"

// searchEpisodesResponse is the wire shape of GET /search/episodes.
type searchEpisodesResponse struct {
	envelope
	Animes []searchEpisodesAnime `json:"animes"`
}

type searchEpisodesAnime struct {
	AnimeID         int64                   `json:"animeId"`
	AnimeTitle      string                  `json:"animeTitle"`
	Type            models.AnimeType        `json:"type,omitempty"`
	TypeDescription string                  `json:"typeDescription"`
	Episodes        []searchEpisodesEpisode `json:"episodes"`
}

type searchEpisodesEpisode struct {
	EpisodeID    string `json:"episodeId"`
	EpisodeTitle string `json:"episodeTitle"`
}

// searchAnimeResponse is the wire shape of GET /search/anime.
type searchAnimeResponse struct {
	envelope
	Animes []searchAnimeItem `json:"animes"`
}

type searchAnimeItem struct {
	AnimeID         int64            `json:"animeId"`
	BangumiID       string           `json:"bangumiId"`
	AnimeTitle      string           `json:"animeTitle"`
	Type            models.AnimeType `json:"type,omitempty"`
	TypeDescription string           `json:"typeDescription"`
	ImageURL        string           `json:"imageUrl,omitempty"`
	IsFavorited     bool             `json:"isFavorited"`
}

// bangumiResponse is the wire shape of GET /bangumi/{bangumiId}.
type bangumiResponse struct {
	envelope
	Bangumi any `json:"bangumi"`
}

// matchRequestBody is the POST /match and per-item /match/batch body.
type matchRequestBody struct {
	FileName  string `json:"fileName"`
	MatchMode string `json:"matchMode,omitempty"`
}

type matchBatchRequestBody struct {
	Requests []matchRequestBody `json:"requests"`
}

// matchResponse is the wire shape of POST /match.
type matchResponse struct {
	envelope
	IsMatched bool                `json:"isMatched"`
	Matches   []matchCandidateDTO `json:"matches,omitempty"`
}

type matchCandidateDTO struct {
	EpisodeID    int64            `json:"episodeId"`
	AnimeID      int64            `json:"animeId"`
	AnimeTitle   string           `json:"animeTitle"`
	EpisodeTitle string           `json:"episodeTitle"`
	Type         models.AnimeType `json:"type,omitempty"`
}

// matchBatchResponse is the wire shape of POST /match/batch.
type matchBatchResponse struct {
	envelope
	Results []matchResponse `json:"results"`
}

// commentResponse is the wire shape of GET /comment/{episodeId} and
// GET /extcomment.
type commentResponse struct {
	envelope
	Count    int          `json:"count"`
	Comments []commentDTO `json:"comments"`
}

type commentDTO struct {
	CID int64  `json:"cid,omitempty"`
	P   string `json:"p"`
	M   string `json:"m"`
}
