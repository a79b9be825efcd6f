// Package period resolves settlement weeks.
//
// A settlement week is addressed by its ISO week-numbering (year, week) pair
// but spans Sunday 00:00:00 through Saturday 23:59:59.999999999 in the
// reference timezone: the Sunday immediately before the ISO Monday through
// the Saturday after it. Payroll, loan due dates and invoicing all use this
// convention.
package period

import (
	"fmt"
	"time"

	"github.com/smallbiznis/fieldops/internal/apperror"
)

var (
	ErrInvalidYear = apperror.Validation("invalid_year", "year is required")
	ErrInvalidWeek = apperror.Validation("invalid_week", "week is out of range for the year")
)

// Week is a resolved settlement week.
type Week struct {
	Year  int
	Week  int
	Start time.Time
	End   time.Time
}

// Resolve returns the Sunday-to-Saturday range of ISO week (year, week) in loc.
func Resolve(year, week int, loc *time.Location) (Week, error) {
	if loc == nil {
		loc = time.UTC
	}
	if year < 1 || year > 9999 {
		return Week{}, ErrInvalidYear
	}
	if week < 1 || week > WeeksInYear(year) {
		return Week{}, apperror.WithMessage(ErrInvalidWeek, fmt.Sprintf("week %d is out of range for %d", week, year))
	}

	monday := isoMonday(year, week, loc)
	start := monday.AddDate(0, 0, -1)
	end := EndOfDay(start.AddDate(0, 0, 6))
	return Week{Year: year, Week: week, Start: start, End: end}, nil
}

// WeekOf returns the settlement week containing t. Sundays belong to the
// ISO week that starts the following Monday.
func WeekOf(t time.Time, loc *time.Location) Week {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	if local.Weekday() == time.Sunday {
		local = local.AddDate(0, 0, 1)
	}
	year, week := local.ISOWeek()
	w, _ := Resolve(year, week, loc)
	return w
}

// WeeksInYear returns 52 or 53, the number of ISO weeks in year.
func WeeksInYear(year int) int {
	_, week := time.Date(year, time.December, 28, 12, 0, 0, 0, time.UTC).ISOWeek()
	return week
}

// Contains reports whether t falls inside the week, boundaries included.
func (w Week) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// UTC returns the week bounds converted to UTC for storage queries.
func (w Week) UTC() (time.Time, time.Time) {
	return w.Start.UTC(), w.End.UTC()
}

// Label renders the week as 2025-W02.
func (w Week) Label() string {
	return fmt.Sprintf("%04d-W%02d", w.Year, w.Week)
}

func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, t.Location())
}

func isoMonday(year, week int, loc *time.Location) time.Time {
	// January 4th is always in ISO week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, loc)
	weekday := int(jan4.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	firstMonday := jan4.AddDate(0, 0, 1-weekday)
	return firstMonday.AddDate(0, 0, (week-1)*7)
}
