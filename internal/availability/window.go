package availability

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidWindow   = errors.New("invalid availability window")
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrInvalidTime     = errors.New("invalid time of day")
)

const minutesPerDay = 24 * 60

// DaysOfWeekInOrder lists weekdays the way the schedule form shows them.
var DaysOfWeekInOrder = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// ParseWeekday accepts "monday", "Mon" or "1" (Sunday = 0).
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 6 {
			return 0, fmt.Errorf("%w: weekday %d out of range", ErrInvalidWindow, n)
		}
		return time.Weekday(n), nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || (len(s) >= 3 && strings.HasPrefix(name, s)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown weekday %q", ErrInvalidWindow, s)
}

// TimeOfDay is a wall-clock time as minutes since midnight.
type TimeOfDay int

// ParseTimeOfDay parses "9:00", "09:00" or "09:00:00". "24:00" is allowed so a
// window can run to the end of the day.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	if len(parts) == 3 {
		// Postgres time columns come back with seconds; they must be zero.
		sec, err := strconv.ParseFloat(parts[2], 64)
		if err != nil || sec != 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
		}
	}
	if m < 0 || m > 59 || h < 0 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return TimeOfDay(h*60 + m), nil
}

// Of returns the wall-clock time of t in its own location.
func Of(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// On returns the instant of t on the given local date in loc.
func (t TimeOfDay) On(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, t.Hour(), t.Minute(), 0, 0, loc)
}

// Window is a recurring weekday range in the schedule's timezone.
type Window struct {
	DayOfWeek time.Weekday `json:"day_of_week"`
	StartTime TimeOfDay    `json:"start_time"`
	EndTime   TimeOfDay    `json:"end_time"`
}

// Validate rejects an unknown weekday, a time outside the day or start >= end.
func (w Window) Validate() error {
	if w.DayOfWeek < time.Sunday || w.DayOfWeek > time.Saturday {
		return fmt.Errorf("%w: weekday %d out of range", ErrInvalidWindow, w.DayOfWeek)
	}
	if w.StartTime < 0 || w.EndTime > minutesPerDay {
		return fmt.Errorf("%w: %s-%s outside the day", ErrInvalidWindow, w.StartTime, w.EndTime)
	}
	if w.StartTime >= w.EndTime {
		return fmt.Errorf("%w: %s start %s must be before end %s",
			ErrInvalidWindow, w.DayOfWeek, w.StartTime, w.EndTime)
	}
	return nil
}

// Contains reports start <= t < end.
func (w Window) Contains(t TimeOfDay) bool {
	return w.StartTime <= t && t < w.EndTime
}
