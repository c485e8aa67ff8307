package fallback

import (
	"fmt"
	"sort"
	"strings"
)

// FormatEpisodeRanges compresses a set of episode numbers into the
// comma-separated range notation used when annotating library-internal
// coverage: [1,2,3,5,6,7,10] -> "1-3,5-7,10";
// a singleton run renders as "N", not "N-N"; an empty input is "".
func FormatEpisodeRanges(episodes []int) string {
	if len(episodes) == 0 {
		return ""
	}
	sorted := append([]int(nil), episodes...)
	sort.Ints(sorted)

	var parts []string
	start := sorted[0]
	prev := sorted[0]
	flush := func(end int) {
		if start == end {
			parts = append(parts, fmt.Sprintf("%d", start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, end))
		}
	}
	for _, n := range sorted[1:] {
		if n == prev {
			continue // dedup
		}
		if n == prev+1 {
			prev = n
			continue
		}
		flush(prev)
		start = n
		prev = n
	}
	flush(prev)
	return strings.Join(parts, ",")
}
