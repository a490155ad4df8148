package core

import "time"

// Billing windows are computed in a single configured zone; weeks are
// Monday-anchored, months are half-open [first, first-of-next).

// DateOf truncates t to midnight in its own location.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// WeekStart returns the Monday of d's calendar week, at midnight.
func WeekStart(d time.Time) time.Time {
	d = DateOf(d)
	offset := (int(d.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
	return d.AddDate(0, 0, -offset)
}

// WeekEnd returns the Sunday of d's calendar week, at midnight.
func WeekEnd(d time.Time) time.Time {
	return WeekStart(d).AddDate(0, 0, 6)
}

// WeekOf returns the [Monday, Sunday] window containing d.
func WeekOf(d time.Time) (start, end time.Time) {
	start = WeekStart(d)
	return start, start.AddDate(0, 0, 6)
}

// MonthRange returns the half-open [first-of-month, first-of-next-month)
// range; time.Date normalizes December+1 into January of the next year.
func MonthRange(year int, month time.Month, loc *time.Location) (start, end time.Time) {
	start = time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}
