package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrInvalidTimezone = errors.New("invalid timezone")
)

// MaxIntervalMinutes caps interval schedules at a leap year.
const MaxIntervalMinutes = 366 * 24 * 60

type ScheduleKind string

const (
	KindOnce     ScheduleKind = "once"
	KindInterval ScheduleKind = "interval"
	KindDaily    ScheduleKind = "daily"
	KindWeekly   ScheduleKind = "weekly"
	KindMonthly  ScheduleKind = "monthly"
	KindYearly   ScheduleKind = "yearly"
)

// Schedule is one of Once, Interval, Daily, Weekly, Monthly or Yearly.
// The set is closed: the unexported marker keeps other packages from adding kinds.
type Schedule interface {
	Kind() ScheduleKind
	Timezone() string
	Validate() error
	isSchedule()
}

// TimeOfDay is a wall-clock time in the schedule's own zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: time of day %q must be HH:MM", ErrInvalidSchedule, s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) validate() error {
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("%w: time of day %02d:%02d out of range", ErrInvalidSchedule, t.Hour, t.Minute)
	}
	return nil
}

type Once struct {
	TZ string
	At time.Time
}

type Interval struct {
	TZ      string
	Minutes int
}

type Daily struct {
	TZ string
	At TimeOfDay
}

type Weekly struct {
	TZ      string
	Weekday time.Weekday
	At      TimeOfDay
}

type Monthly struct {
	TZ  string
	Day int // 1-31, clamped to the month length per occurrence
	At  TimeOfDay
}

type Yearly struct {
	TZ    string
	Month time.Month
	Day   int
	At    TimeOfDay
}

func (Once) Kind() ScheduleKind     { return KindOnce }
func (Interval) Kind() ScheduleKind { return KindInterval }
func (Daily) Kind() ScheduleKind    { return KindDaily }
func (Weekly) Kind() ScheduleKind   { return KindWeekly }
func (Monthly) Kind() ScheduleKind  { return KindMonthly }
func (Yearly) Kind() ScheduleKind   { return KindYearly }

func (s Once) Timezone() string     { return s.TZ }
func (s Interval) Timezone() string { return s.TZ }
func (s Daily) Timezone() string    { return s.TZ }
func (s Weekly) Timezone() string   { return s.TZ }
func (s Monthly) Timezone() string  { return s.TZ }
func (s Yearly) Timezone() string   { return s.TZ }

func (Once) isSchedule()     {}
func (Interval) isSchedule() {}
func (Daily) isSchedule()    {}
func (Weekly) isSchedule()   {}
func (Monthly) isSchedule()  {}
func (Yearly) isSchedule()   {}

func (s Once) Validate() error {
	if err := validateZone(s.TZ); err != nil {
		return err
	}
	if s.At.IsZero() {
		return fmt.Errorf("%w: once requires an instant", ErrInvalidSchedule)
	}
	return nil
}

func (s Interval) Validate() error {
	if err := validateZone(s.TZ); err != nil {
		return err
	}
	if s.Minutes < 1 {
		return fmt.Errorf("%w: interval must be at least one minute", ErrInvalidSchedule)
	}
	if s.Minutes > MaxIntervalMinutes {
		return fmt.Errorf("%w: interval must be at most %d minutes", ErrInvalidSchedule, MaxIntervalMinutes)
	}
	return nil
}

func (s Daily) Validate() error {
	if err := validateZone(s.TZ); err != nil {
		return err
	}
	return s.At.validate()
}

func (s Weekly) Validate() error {
	if err := validateZone(s.TZ); err != nil {
		return err
	}
	if s.Weekday < time.Sunday || s.Weekday > time.Saturday {
		return fmt.Errorf("%w: weekday %d out of range", ErrInvalidSchedule, s.Weekday)
	}
	return s.At.validate()
}

func (s Monthly) Validate() error {
	if err := validateZone(s.TZ); err != nil {
		return err
	}
	if s.Day < 1 || s.Day > 31 {
		return fmt.Errorf("%w: day of month %d out of range", ErrInvalidSchedule, s.Day)
	}
	return s.At.validate()
}

func (s Yearly) Validate() error {
	if err := validateZone(s.TZ); err != nil {
		return err
	}
	if s.Month < time.January || s.Month > time.December {
		return fmt.Errorf("%w: month %d out of range", ErrInvalidSchedule, s.Month)
	}
	// 2024 is a leap year, so Feb 29 is accepted and clamped in other years.
	if s.Day < 1 || s.Day > DaysIn(2024, s.Month) {
		return fmt.Errorf("%w: day %d does not exist in %s", ErrInvalidSchedule, s.Day, s.Month)
	}
	return s.At.validate()
}

func validateZone(tz string) error {
	if tz == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTimezone)
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}
	return nil
}

// DaysIn returns the number of days in month m of year y.
func DaysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ScheduleSpec is the wire form of a Schedule, used both for the JSONB column and the HTTP API.
type ScheduleSpec struct {
	Kind     ScheduleKind `json:"kind"`
	Timezone string       `json:"tz"`
	At       *time.Time   `json:"at,omitempty"`
	Minutes  int          `json:"minutes,omitempty"`
	Time     string       `json:"time,omitempty"`
	Weekday  *int         `json:"weekday,omitempty"`
	Day      int          `json:"day,omitempty"`
	Month    int          `json:"month,omitempty"`
}

// Schedule converts the wire form into its typed variant and validates it.
func (s ScheduleSpec) Schedule() (Schedule, error) {
	out, err := s.decode()
	if err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// decode builds the variant without checking ranges or the zone, so a stored row
// with a zone the host no longer knows still loads and fails at delivery time instead.
func (s ScheduleSpec) decode() (Schedule, error) {
	var out Schedule

	switch s.Kind {
	case KindOnce:
		if s.At == nil {
			return nil, fmt.Errorf("%w: once requires at", ErrInvalidSchedule)
		}
		out = Once{TZ: s.Timezone, At: s.At.UTC()}
	case KindInterval:
		out = Interval{TZ: s.Timezone, Minutes: s.Minutes}
	case KindDaily, KindWeekly, KindMonthly, KindYearly:
		at, err := ParseTimeOfDay(s.Time)
		if err != nil {
			return nil, err
		}
		switch s.Kind {
		case KindDaily:
			out = Daily{TZ: s.Timezone, At: at}
		case KindWeekly:
			if s.Weekday == nil {
				return nil, fmt.Errorf("%w: weekly requires weekday", ErrInvalidSchedule)
			}
			out = Weekly{TZ: s.Timezone, Weekday: time.Weekday(*s.Weekday), At: at}
		case KindMonthly:
			out = Monthly{TZ: s.Timezone, Day: s.Day, At: at}
		default:
			out = Yearly{TZ: s.Timezone, Month: time.Month(s.Month), Day: s.Day, At: at}
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s.Kind)
	}
	return out, nil
}

func SpecOf(s Schedule) ScheduleSpec {
	spec := ScheduleSpec{Kind: s.Kind(), Timezone: s.Timezone()}
	switch v := s.(type) {
	case Once:
		at := v.At
		spec.At = &at
	case Interval:
		spec.Minutes = v.Minutes
	case Daily:
		spec.Time = v.At.String()
	case Weekly:
		wd := int(v.Weekday)
		spec.Weekday = &wd
		spec.Time = v.At.String()
	case Monthly:
		spec.Day = v.Day
		spec.Time = v.At.String()
	case Yearly:
		spec.Month = int(v.Month)
		spec.Day = v.Day
		spec.Time = v.At.String()
	}
	return spec
}

func MarshalSchedule(s Schedule) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil", ErrInvalidSchedule)
	}
	b, err := json.Marshal(SpecOf(s))
	if err != nil {
		return nil, fmt.Errorf("marshal schedule: %w", err)
	}
	return b, nil
}

func UnmarshalSchedule(b []byte) (Schedule, error) {
	var spec ScheduleSpec
	if err := json.Unmarshal(b, &spec); err != nil {
		return nil, fmt.Errorf("unmarshal schedule: %w", err)
	}
	return spec.decode()
}
