package progress

import (
	"sort"
	"time"
)

// activeStreak returns the length of the consecutive-day streak ending at
// the most recent completion date. Dates are truncated to midnight UTC;
// several completions on the same day count once. A gap resets the count,
// so the value reflects current momentum, not the best run ever achieved.
func activeStreak(completions []time.Time) int {
	if len(completions) == 0 {
		return 0
	}
	days := make([]time.Time, len(completions))
	for i, c := range completions {
		days[i] = truncateDay(c)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	streak := 1
	cur := days[0]
	for _, d := range days[1:] {
		switch daysBetween(cur, d) {
		case 0:
			// same day, nothing to count
		case 1:
			streak++
			cur = d
		default:
			streak = 1
			cur = d
		}
	}
	return streak
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a) / (24 * time.Hour))
}
