package intent

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday,
	"monday": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday,
}

var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

const (
	weekdayAlt = `sunday|monday|tuesday|wednesday|thursday|friday|saturday|tues|tue|thurs|thu|fri`
	monthAlt   = `january|february|march|april|may|june|july|august|september|october|november|december|sept|jan|feb|mar|apr|jun|jul|aug|sep|oct|nov|dec`
)

// tonightStartHour is when "tonight" begins if the reference is earlier.
const tonightStartHour = 17

type dateRule struct {
	re      *regexp.Regexp
	resolve func(m []string, now time.Time) (start, end time.Time, ok bool)
}

// dateRules are tried in order; the first match wins.
var dateRules = []dateRule{
	{regexp.MustCompile(`\bnext\s+weekend\b`), func(_ []string, now time.Time) (time.Time, time.Time, bool) {
		sat := weekendStart(now).AddDate(0, 0, 7)
		return sat, endOfDay(sat.AddDate(0, 0, 1)), true
	}},
	{regexp.MustCompile(`\b(?:this\s+)?weekend\b`), func(_ []string, now time.Time) (time.Time, time.Time, bool) {
		sat := weekendStart(now)
		return sat, endOfDay(sat.AddDate(0, 0, 1)), true
	}},
	{regexp.MustCompile(`\btonight\b`), func(_ []string, now time.Time) (time.Time, time.Time, bool) {
		day := startOfDay(now)
		start := day.Add(tonightStartHour * time.Hour)
		if now.After(start) {
			start = now
		}
		return start, endOfDay(day), true
	}},
	{regexp.MustCompile(`\btoday\b`), func(_ []string, now time.Time) (time.Time, time.Time, bool) {
		return now, endOfDay(now), true
	}},
	{regexp.MustCompile(`\btomorrow\b`), func(_ []string, now time.Time) (time.Time, time.Time, bool) {
		day := startOfDay(now).AddDate(0, 0, 1)
		return day, endOfDay(day), true
	}},
	{regexp.MustCompile(`\bnext\s+week\b`), func(_ []string, now time.Time) (time.Time, time.Time, bool) {
		monday := startOfDay(now).AddDate(0, 0, daysUntil(now.Weekday(), time.Monday, true))
		return monday, endOfDay(monday.AddDate(0, 0, 6)), true
	}},
	{regexp.MustCompile(`\bthis\s+week\b`), func(_ []string, now time.Time) (time.Time, time.Time, bool) {
		sunday := startOfDay(now).AddDate(0, 0, daysUntil(now.Weekday(), time.Sunday, false))
		return now, endOfDay(sunday), true
	}},
	{regexp.MustCompile(`\bthis\s+month\b`), func(_ []string, now time.Time) (time.Time, time.Time, bool) {
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return now, first.AddDate(0, 1, 0).Add(-time.Nanosecond), true
	}},
	{regexp.MustCompile(`\b(next|this|on)?\s*(` + weekdayAlt + `)s?\b`), func(m []string, now time.Time) (time.Time, time.Time, bool) {
		wd := weekdays[m[2]]
		day := startOfDay(now).AddDate(0, 0, daysUntil(now.Weekday(), wd, m[1] == "next"))
		return day, endOfDay(day), true
	}},
	{regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`), func(m []string, now time.Time) (time.Time, time.Time, bool) {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		day, ok := calendarDay(y, time.Month(mo), d, now.Location())
		return day, endOfDay(day), ok
	}},
	{regexp.MustCompile(`\b(` + monthAlt + `)\.?\s+(\d{1,2})(?:st|nd|rd|th)?\b`), func(m []string, now time.Time) (time.Time, time.Time, bool) {
		d, _ := strconv.Atoi(m[2])
		return upcomingDay(months[m[1]], d, now)
	}},
	{regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?(` + monthAlt + `)\b`), func(m []string, now time.Time) (time.Time, time.Time, bool) {
		d, _ := strconv.Atoi(m[1])
		return upcomingDay(months[m[2]], d, now)
	}},
}

// resolveDates finds the first temporal phrase in s (already lowercased) and
// returns the absolute range it denotes, never starting before now, plus s
// with the phrase blanked out.
func resolveDates(s string, now time.Time) (start, end *time.Time, rest string) {
	for _, rule := range dateRules {
		loc := rule.re.FindStringSubmatchIndex(s)
		if loc == nil {
			continue
		}
		m := submatches(s, loc)
		from, to, ok := rule.resolve(m, now)
		if !ok {
			continue
		}
		// A range already under way starts now: the part before is over.
		if from.Before(now) && !to.Before(now) {
			from = now
		}
		return &from, &to, blank(s, loc[0], loc[1])
	}
	return nil, nil, s
}

func submatches(s string, loc []int) []string {
	m := make([]string, len(loc)/2)
	for i := range m {
		if loc[2*i] >= 0 {
			m[i] = strings.TrimSpace(s[loc[2*i]:loc[2*i+1]])
		}
	}
	return m
}

// weekendStart is 00:00 on the Saturday of the current weekend when now is
// Saturday or Sunday, otherwise of the upcoming weekend.
func weekendStart(now time.Time) time.Time {
	day := startOfDay(now)
	switch now.Weekday() {
	case time.Saturday:
		return day
	case time.Sunday:
		return day.AddDate(0, 0, -1)
	default:
		return day.AddDate(0, 0, int(time.Saturday-now.Weekday()))
	}
}

// daysUntil counts days from one weekday to the next occurrence of another.
// With strict set, today never matches.
func daysUntil(from, to time.Weekday, strict bool) int {
	n := (int(to) - int(from) + 7) % 7
	if n == 0 && strict {
		n = 7
	}
	return n
}

func upcomingDay(month time.Month, d int, now time.Time) (time.Time, time.Time, bool) {
	day, ok := calendarDay(now.Year(), month, d, now.Location())
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	if day.Before(startOfDay(now)) {
		day, ok = calendarDay(now.Year()+1, month, d, now.Location())
	}
	return day, endOfDay(day), ok
}

func calendarDay(y int, m time.Month, d int, loc *time.Location) (time.Time, bool) {
	if m < time.January || m > time.December || d < 1 {
		return time.Time{}, false
	}
	t := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return t, t.Day() == d && t.Month() == m
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// blank replaces s[i:j] with spaces so that byte offsets stay valid.
func blank(s string, i, j int) string {
	return s[:i] + strings.Repeat(" ", j-i) + s[j:]
}
