package fallback

import (
	"fmt"
	"strconv"
)

// episodeIDPrefix is the fixed "25" prefix put on every fallback-minted
// episode id, distinguishing it from library-native ids.
const episodeIDPrefix = "25"

// EncodeEpisodeID builds the 14-digit episode id
// 25||anime_id(6)||source_order(2)||episode_number(4). For example,
// anime_id=166, source_order=1, episode=2 -> 25000166010002.
func EncodeEpisodeID(animeID, sourceOrder, episodeNumber int) (string, error) {
	if animeID < 0 || animeID > 999999 {
		return "", fmt.Errorf("fallback: anime id %d out of range for 6 digits", animeID)
	}
	if sourceOrder < 0 || sourceOrder > 99 {
		return "", fmt.Errorf("fallback: source order %d out of range for 2 digits", sourceOrder)
	}
	if episodeNumber < 0 || episodeNumber > 9999 {
		return "", fmt.Errorf("fallback: episode number %d out of range for 4 digits", episodeNumber)
	}
	return fmt.Sprintf("%s%06d%02d%04d", episodeIDPrefix, animeID, sourceOrder, episodeNumber), nil
}

// DecodedEpisodeID is the result of splitting an EncodeEpisodeID value
// back into its components.
type DecodedEpisodeID struct {
	AnimeID       int
	SourceOrder   int
	EpisodeNumber int
}

// DecodeEpisodeID is the inverse of EncodeEpisodeID. Testable property
// 1 requires decode(encode(x)) == x for every x the engine mints.
func DecodeEpisodeID(episodeID string) (DecodedEpisodeID, error) {
	if len(episodeID) != 14 {
		return DecodedEpisodeID{}, fmt.Errorf("fallback: episode id %q must be 14 digits, got %d", episodeID, len(episodeID))
	}
	if episodeID[:2] != episodeIDPrefix {
		return DecodedEpisodeID{}, fmt.Errorf("fallback: episode id %q missing %q prefix", episodeID, episodeIDPrefix)
	}
	animeID, err := strconv.Atoi(episodeID[2:8])
	if err != nil {
		return DecodedEpisodeID{}, fmt.Errorf("fallback: episode id %q has non-numeric anime id segment", episodeID)
	}
	sourceOrder, err := strconv.Atoi(episodeID[8:10])
	if err != nil {
		return DecodedEpisodeID{}, fmt.Errorf("fallback: episode id %q has non-numeric source order segment", episodeID)
	}
	episodeNumber, err := strconv.Atoi(episodeID[10:14])
	if err != nil {
		return DecodedEpisodeID{}, fmt.Errorf("fallback: episode id %q has non-numeric episode number segment", episodeID)
	}
	return DecodedEpisodeID{AnimeID: animeID, SourceOrder: sourceOrder, EpisodeNumber: episodeNumber}, nil
}
