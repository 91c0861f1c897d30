// Package recurrence computes reminder occurrences. Everything here is pure apart from
// the zone cache; callers pass the reference instant explicitly.
package recurrence

import (
	"fmt"
	"sync"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
)

// Upper bounds on how many candidate periods are tried. A candidate only fails to land
// after the reference when a DST gap pulls it backwards, so one extra period always suffices.
const (
	maxDayCandidates   = 3
	maxMonthCandidates = 3
	maxYearCandidates  = 3
)

var locations sync.Map // tz name -> *time.Location

func location(tz string) (*time.Location, error) {
	if loc, ok := locations.Load(tz); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTimezone, tz)
	}
	locations.Store(tz, loc)
	return loc, nil
}

// First returns the occurrence a newly created reminder is scheduled for.
// A one-shot reminder always gets its fixed instant, even when it is already in the past,
// so it fires on the next tick.
func First(s domain.Schedule, now time.Time) (time.Time, error) {
	if once, ok := s.(domain.Once); ok {
		return once.At.UTC(), nil
	}
	next, _, err := Next(s, now)
	return next, err
}

// Next returns the first occurrence strictly after ref. The boolean is false for
// schedules that do not repeat.
func Next(s domain.Schedule, ref time.Time) (time.Time, bool, error) {
	switch v := s.(type) {
	case domain.Once:
		return time.Time{}, false, nil
	case domain.Interval:
		// Stored rows are decoded without validation; an unbounded count would overflow the duration.
		if v.Minutes < 1 || v.Minutes > domain.MaxIntervalMinutes {
			return time.Time{}, false, fmt.Errorf("%w: interval of %d minutes", domain.ErrInvalidSchedule, v.Minutes)
		}
		return ref.Add(time.Duration(v.Minutes) * time.Minute).UTC(), true, nil
	case nil:
		return time.Time{}, false, fmt.Errorf("%w: nil", domain.ErrInvalidSchedule)
	}

	loc, err := location(s.Timezone())
	if err != nil {
		return time.Time{}, false, err
	}
	local := ref.In(loc)
	y, m, d := local.Date()

	var next time.Time
	switch v := s.(type) {
	case domain.Daily:
		next, err = firstAfter(ref, maxDayCandidates, func(i int) time.Time {
			return LocalToUTC(y, m, d+i, v.At, loc)
		})
	case domain.Weekly:
		ahead := (int(v.Weekday) - int(local.Weekday()) + 7) % 7
		next, err = firstAfter(ref, maxDayCandidates, func(i int) time.Time {
			return LocalToUTC(y, m, d+ahead+7*i, v.At, loc)
		})
	case domain.Monthly:
		next, err = firstAfter(ref, maxMonthCandidates, func(i int) time.Time {
			ty, tm := addMonths(y, m, i)
			return LocalToUTC(ty, tm, clampDay(ty, tm, v.Day), v.At, loc)
		})
	case domain.Yearly:
		next, err = firstAfter(ref, maxYearCandidates, func(i int) time.Time {
			return LocalToUTC(y+i, v.Month, clampDay(y+i, v.Month, v.Day), v.At, loc)
		})
	default:
		return time.Time{}, false, fmt.Errorf("%w: unsupported kind %q", domain.ErrInvalidSchedule, s.Kind())
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return next, true, nil
}

func firstAfter(ref time.Time, limit int, candidate func(i int) time.Time) (time.Time, error) {
	for i := 0; i < limit; i++ {
		if t := candidate(i); t.After(ref) {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no occurrence after %s within %d periods", ref.Format(time.RFC3339), limit)
}

func addMonths(y int, m time.Month, n int) (int, time.Month) {
	t := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	return t.Year(), t.Month()
}

// clampDay maps day 29-31 onto the last day of shorter months. The clamp applies to one
// occurrence only; the schedule keeps its original day for the following months.
func clampDay(y int, m time.Month, day int) int {
	return min(day, domain.DaysIn(y, m))
}

// LocalToUTC converts a wall-clock time in loc to a UTC instant.
//
// It takes the fields as a UTC guess, subtracts the zone offset observed at the guess,
// and re-checks the offset at the result. When the two offsets differ (the guess and the
// result sit on different sides of a DST switch) the result is shifted by the difference.
// Wall-clock times skipped or repeated by a DST switch are not disambiguated further.
func LocalToUTC(y int, m time.Month, d int, at domain.TimeOfDay, loc *time.Location) time.Time {
	guess := time.Date(y, m, d, at.Hour, at.Minute, 0, 0, time.UTC)

	_, offset := guess.In(loc).Zone()
	t := guess.Add(-time.Duration(offset) * time.Second)

	if _, actual := t.In(loc).Zone(); actual != offset {
		t = t.Add(time.Duration(offset-actual) * time.Second)
	}
	return t.UTC()
}
