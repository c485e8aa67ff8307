package fallback_test

import (
	"testing"

	"novastream/internal/fallback"
)

func TestEncodeEpisodeID_ScenarioS6(t *testing.T) {
	got, err := fallback.EncodeEpisodeID(166, 1, 2)
	if err != nil {
		t.Fatalf("EncodeEpisodeID: %v", err)
	}
	if got != "25000166010002" {
		t.Fatalf("got %q, want 25000166010002", got)
	}
}

func TestDecodeEpisodeID_RoundTrip(t *testing.T) {
	cases := []fallback.DecodedEpisodeID{
		{AnimeID: 166, SourceOrder: 1, EpisodeNumber: 2},
		{AnimeID: 900123, SourceOrder: 0, EpisodeNumber: 9999},
		{AnimeID: 0, SourceOrder: 99, EpisodeNumber: 0},
	}
	for _, c := range cases {
		id, err := fallback.EncodeEpisodeID(c.AnimeID, c.SourceOrder, c.EpisodeNumber)
		if err != nil {
			t.Fatalf("EncodeEpisodeID(%+v): %v", c, err)
		}
		got, err := fallback.DecodeEpisodeID(id)
		if err != nil {
			t.Fatalf("DecodeEpisodeID(%q): %v", id, err)
		}
		if got != c {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, c)
		}
	}
}

func TestDecodeEpisodeID_RejectsWrongLength(t *testing.T) {
	if _, err := fallback.DecodeEpisodeID("123"); err == nil {
		t.Fatal("expected error for short id")
	}
}

func TestDecodeEpisodeID_RejectsWrongPrefix(t *testing.T) {
	if _, err := fallback.DecodeEpisodeID("99000166010002"); err == nil {
		t.Fatal("expected error for wrong prefix")
	}
}
