package core

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestWeekOf(t *testing.T) {
	tests := []struct {
		name      string
		in        time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "monday maps to itself",
			in:        date(2024, time.July, 15),
			wantStart: date(2024, time.July, 15),
			wantEnd:   date(2024, time.July, 21),
		},
		{
			name:      "midweek",
			in:        date(2024, time.July, 17),
			wantStart: date(2024, time.July, 15),
			wantEnd:   date(2024, time.July, 21),
		},
		{
			name:      "sunday belongs to the preceding monday",
			in:        date(2024, time.July, 21),
			wantStart: date(2024, time.July, 15),
			wantEnd:   date(2024, time.July, 21),
		},
		{
			name:      "week spanning a month boundary",
			in:        date(2024, time.August, 1),
			wantStart: date(2024, time.July, 29),
			wantEnd:   date(2024, time.August, 4),
		},
		{
			name:      "week spanning a year boundary",
			in:        date(2025, time.January, 1),
			wantStart: date(2024, time.December, 30),
			wantEnd:   date(2025, time.January, 5),
		},
		{
			name:      "time of day is dropped",
			in:        time.Date(2024, time.July, 17, 23, 59, 59, 0, time.UTC),
			wantStart: date(2024, time.July, 15),
			wantEnd:   date(2024, time.July, 21),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := WeekOf(tt.in)
			if !start.Equal(tt.wantStart) {
				t.Errorf("WeekOf() start = %v, want %v", start, tt.wantStart)
			}
			if !end.Equal(tt.wantEnd) {
				t.Errorf("WeekOf() end = %v, want %v", end, tt.wantEnd)
			}
		})
	}
}

func TestMonthRange(t *testing.T) {
	tests := []struct {
		name      string
		year      int
		month     time.Month
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "regular month",
			year:      2024,
			month:     time.April,
			wantStart: date(2024, time.April, 1),
			wantEnd:   date(2024, time.May, 1),
		},
		{
			name:      "december rolls into january",
			year:      2024,
			month:     time.December,
			wantStart: date(2024, time.December, 1),
			wantEnd:   date(2025, time.January, 1),
		},
		{
			name:      "leap february",
			year:      2024,
			month:     time.February,
			wantStart: date(2024, time.February, 1),
			wantEnd:   date(2024, time.March, 1),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := MonthRange(tt.year, tt.month, time.UTC)
			if !start.Equal(tt.wantStart) {
				t.Errorf("MonthRange() start = %v, want %v", start, tt.wantStart)
			}
			if !end.Equal(tt.wantEnd) {
				t.Errorf("MonthRange() end = %v, want %v", end, tt.wantEnd)
			}
		})
	}
}
