package medicine

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/medrem/medrem/internal/platform/apperr"
)

const dateLayout = "2006-01-02"

var doseTimePattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// ValidDoseTime reports whether s is a 24-hour HH:MM time.
func ValidDoseTime(s string) bool {
	return doseTimePattern.MatchString(s)
}

// normalizeTimes trims and validates times, dropping duplicates while keeping
// the first-seen order.
func normalizeTimes(times []string) ([]string, error) {
	seen := make(map[string]bool, len(times))
	out := make([]string, 0, len(times))
	for _, raw := range times {
		t := strings.TrimSpace(raw)
		if !ValidDoseTime(t) {
			return nil, apperr.Validation(fmt.Sprintf("invalid dose time %q, expected HH:MM", raw))
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, nil
}

func pendingEntries(times []string) []DoseEntry {
	entries := make([]DoseEntry, len(times))
	for i, t := range times {
		entries[i] = DoseEntry{TimeUTC: t, Status: DosePending}
	}
	return entries
}

// reconcileTimes rebuilds entries in the order of times. An existing entry
// for a time is kept unchanged, a new time becomes pending, and entries whose
// time is absent are dropped.
func reconcileTimes(existing []DoseEntry, times []string) []DoseEntry {
	byTime := make(map[string]DoseEntry, len(existing))
	for _, e := range existing {
		byTime[e.TimeUTC] = e
	}
	out := make([]DoseEntry, len(times))
	for i, t := range times {
		if e, ok := byTime[t]; ok {
			out[i] = e
			continue
		}
		out[i] = DoseEntry{TimeUTC: t, Status: DosePending}
	}
	return out
}

// parseDate accepts YYYY-MM-DD or RFC 3339. An RFC 3339 value keeps its
// offset so callers can read the calendar day it was written in.
func parseDate(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, apperr.Validation(fmt.Sprintf("%s must be YYYY-MM-DD or RFC 3339, got %q", field, s))
}

// endOfDay returns 23:59:59.999 UTC on the calendar day of t in t's own
// location.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), time.UTC)
}

func utcDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}
