package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used for entry dates.
const DateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange parses two YYYY-MM-DD dates into an inclusive range.
func NewDateRange(start, end string) (DateRange, error) {
	s, err := ParseDate(start)
	if err != nil {
		return DateRange{}, fmt.Errorf("start date: %w", err)
	}
	e, err := ParseDate(end)
	if err != nil {
		return DateRange{}, fmt.Errorf("end date: %w", err)
	}
	if e.Before(s) {
		return DateRange{}, fmt.Errorf("end date %s precedes start date %s", end, start)
	}
	return DateRange{Start: s, End: e}, nil
}

// Contains reports whether the calendar date of t lies within the range.
func (r DateRange) Contains(t time.Time) bool {
	d := DateOf(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

// String renders the range as "start..end".
func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD calendar date. A full timestamp is accepted
// and truncated to its calendar date as written.
func ParseDate(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if len(value) >= len(DateLayout) {
		value = value[:len(DateLayout)]
	}
	d, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}
	return d, nil
}

// DateOf drops the clock portion of t, keeping the date as written in t's
// location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
