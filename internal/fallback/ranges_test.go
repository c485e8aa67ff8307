package fallback_test

import (
	"testing"

	"novastream/internal/fallback"
)

func TestFormatEpisodeRanges(t *testing.T) {
	cases := []struct {
		in   []int
		want string
	}{
		{nil, ""},
		{[]int{}, ""},
		{[]int{5}, "5"},
		{[]int{1, 2, 3, 5, 6, 7, 10}, "1-3,5-7,10"},
		{[]int{10, 7, 6, 5, 3, 2, 1}, "1-3,5-7,10"},
		{[]int{1, 1, 2, 2, 3}, "1-3"},
	}
	for _, c := range cases {
		got := fallback.FormatEpisodeRanges(c.in)
		if got != c.want {
			t.Fatalf("FormatEpisodeRanges(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}
