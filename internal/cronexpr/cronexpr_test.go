package cronexpr_test

import (
	"testing"
	"time"

	"novastream/internal/cronexpr"
)

func mustParse(t *testing.T, expr string) *cronexpr.Expression {
	t.Helper()
	e, err := cronexpr.Parse(expr)
	if err != nil {
		t.Fatalf("Parse(%q): %v", expr, err)
	}
	return e
}

func TestNext_EveryFourHours(t *testing.T) {
	e := mustParse(t, "0 */4 * * *")
	from := time.Date(2026, 1, 1, 1, 30, 0, 0, time.UTC)
	got := e.Next(from)
	want := time.Date(2026, 1, 1, 4, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Next() = %v, want %v", got, want)
	}
}

func TestMinInterval_EveryFourHoursIsFourHours(t *testing.T) {
	e := mustParse(t, "0 */4 * * *")
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := e.MinInterval(from, 6)
	if got != 4*time.Hour {
		t.Fatalf("MinInterval() = %v, want 4h", got)
	}
}

func TestMinInterval_RejectsSubThreeHourSchedule(t *testing.T) {
	e := mustParse(t, "*/30 * * * *")
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := e.MinInterval(from, 4)
	if got >= 3*time.Hour {
		t.Fatalf("MinInterval() = %v, expected < 3h", got)
	}
}

func TestMinInterval_IrregularListReportsTrueMinimum(t *testing.T) {
	// Fires at 00:00, 00:05 and 12:00 -- the naive "step" reading of this
	// expression would miss the 5-minute gap entirely.
	e := mustParse(t, "0,5 0,12 * * *")
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := e.MinInterval(from, 4)
	if got != 5*time.Minute {
		t.Fatalf("MinInterval() = %v, want 5m", got)
	}
}

func TestParse_RejectsWrongFieldCount(t *testing.T) {
	if _, err := cronexpr.Parse("* * *"); err == nil {
		t.Fatal("expected error for malformed expression")
	}
}

func TestParse_RejectsOutOfRangeValue(t *testing.T) {
	if _, err := cronexpr.Parse("0 25 * * *"); err == nil {
		t.Fatal("expected error for hour=25")
	}
}
