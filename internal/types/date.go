package types

import "time"

// TruncateToDay normalizes a timestamp to midnight UTC. Billing periods are
// day-granular half-open intervals, so every date entering the tree goes
// through this first.
func TruncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of calendar days in the half-open interval
// [start, end). Returns 0 when end is not after start.
func DaysBetween(start, end time.Time) int {
	startDay := TruncateToDay(start)
	endDay := TruncateToDay(end)
	if !endDay.After(startDay) {
		return 0
	}
	return int(endDay.Sub(startDay).Hours() / 24)
}
