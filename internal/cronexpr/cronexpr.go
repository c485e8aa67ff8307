// Package cronexpr parses and evaluates standard 5-field cron
// expressions (minute hour day-of-month month day-of-week). It exists
// because the Scheduler (C7) needs to compute true next-fire times and
// the real minimum inter-fire gap for a schedule — not just pattern-match
// "*/X" — to enforce incrementalRefresh's >= 3h rule. No
// library in the retrieved examples parses cron expressions, so this is
// a small stdlib-only evaluator; see DESIGN.md.
package cronexpr

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// field bit-set ranges, inclusive.
var fieldRanges = [5][2]int{
	{0, 59}, // minute
	{0, 23}, // hour
	{1, 31}, // day of month
	{1, 12}, // month
	{0, 6},  // day of week (0=Sunday)
}

// Expression is a parsed 5-field cron schedule.
type Expression struct {
	minute, hour, dom, month, dow [64]bool
	raw                           string
}

// Parse parses a standard 5-field cron expression.
func Parse(expr string) (*Expression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cronexpr: expected 5 fields, got %d in %q", len(fields), expr)
	}
	e := &Expression{raw: expr}
	sets := [5]*[64]bool{&e.minute, &e.hour, &e.dom, &e.month, &e.dow}
	for i, f := range fields {
		if err := parseField(f, fieldRanges[i][0], fieldRanges[i][1], sets[i]); err != nil {
			return nil, fmt.Errorf("cronexpr: field %d (%q): %w", i, f, err)
		}
	}
	return e, nil
}

func parseField(field string, lo, hi int, out *[64]bool) error {
	for _, part := range strings.Split(field, ",") {
		if err := parsePart(part, lo, hi, out); err != nil {
			return err
		}
	}
	return nil
}

func parsePart(part string, lo, hi int, out *[64]bool) error {
	step := 1
	rangePart := part
	if idx := strings.Index(part, "/"); idx >= 0 {
		rangePart = part[:idx]
		s, err := strconv.Atoi(part[idx+1:])
		if err != nil || s <= 0 {
			return fmt.Errorf("invalid step %q", part[idx+1:])
		}
		step = s
	}

	start, end := lo, hi
	switch {
	case rangePart == "*":
		// full range
	case strings.Contains(rangePart, "-"):
		bounds := strings.SplitN(rangePart, "-", 2)
		a, err1 := strconv.Atoi(bounds[0])
		b, err2 := strconv.Atoi(bounds[1])
		if err1 != nil || err2 != nil {
			return fmt.Errorf("invalid range %q", rangePart)
		}
		start, end = a, b
	default:
		v, err := strconv.Atoi(rangePart)
		if err != nil {
			return fmt.Errorf("invalid value %q", rangePart)
		}
		start, end = v, v
	}

	if start < lo || end > hi || start > end {
		return fmt.Errorf("value out of range [%d,%d]: %q", lo, hi, part)
	}
	for v := start; v <= end; v += step {
		out[v] = true
	}
	return nil
}

func (e *Expression) matches(t time.Time) bool {
	return e.minute[t.Minute()] && e.hour[t.Hour()] && e.dom[t.Day()] &&
		e.month[int(t.Month())] && e.dow[int(t.Weekday())]
}

// Next returns the first fire time strictly after after, truncated to
// the minute.
func (e *Expression) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)
	// Bounded scan: at most ~2 years of minutes guards against
	// pathological day-of-month/month combinations (e.g. Feb 30) that
	// would otherwise never match.
	for i := 0; i < 2*366*24*60; i++ {
		if e.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

// MinInterval returns the smallest gap between any two consecutive
// fires within the next lookahead window, simulating real fires rather
// than inspecting the syntax (so "0 */4 * * *" and "0 0,4,8,... * * *"
// both report 4h correctly, and irregular schedules report their true
// minimum rather than a naive guess).
func (e *Expression) MinInterval(from time.Time, lookahead int) time.Duration {
	if lookahead < 2 {
		lookahead = 2
	}
	prev := e.Next(from)
	if prev.IsZero() {
		return 0
	}
	min := time.Duration(0)
	cur := prev
	for i := 1; i < lookahead; i++ {
		next := e.Next(cur)
		if next.IsZero() {
			break
		}
		gap := next.Sub(cur)
		if min == 0 || gap < min {
			min = gap
		}
		cur = next
	}
	return min
}

// String returns the original expression text.
func (e *Expression) String() string { return e.raw }
