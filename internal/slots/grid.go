package slots

import (
	"fmt"
	"time"
)

const (
	DefaultHorizonMonths = 2
	DefaultPrimaryStep   = 30 * time.Minute
	DefaultEventStep     = 15 * time.Minute
)

// StepPolicy picks the grid step for an event.
type StepPolicy struct {
	Primary time.Duration
	Stored  time.Duration
}

func (p StepPolicy) StepFor(e Event) time.Duration {
	if e.Kind == KindPrimary {
		if p.Primary > 0 {
			return p.Primary
		}
		return DefaultPrimaryStep
	}
	if p.Stored > 0 {
		return p.Stored
	}
	return DefaultEventStep
}

// CeilToStep rounds t up to the next step boundary of its hour in loc.
// Seconds count toward rounding, so 10:15:01 becomes 10:30 for a 15 minute step.
func CeilToStep(t time.Time, step time.Duration, loc *time.Location) time.Time {
	local := t.In(loc)
	hour := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)
	elapsed := local.Sub(hour)
	n := elapsed / step
	if elapsed%step != 0 {
		n++
	}
	return hour.Add(n * step)
}

// Grid returns every instant at step from now (rounded up) through the end
// of the day horizonMonths later in loc. Instants are in UTC.
func Grid(now time.Time, step time.Duration, horizonMonths int, loc *time.Location) ([]time.Time, error) {
	if step <= 0 {
		return nil, fmt.Errorf("%w: step %s must be positive", ErrInvalidGrid, step)
	}
	if horizonMonths <= 0 {
		return nil, fmt.Errorf("%w: horizon of %d months", ErrInvalidGrid, horizonMonths)
	}
	if loc == nil {
		loc = time.UTC
	}

	start := CeilToStep(now, step, loc)
	y, m, d := start.In(loc).Date()
	// Clamp to the target month so Jan 31 + 1 month is Feb 28, not Mar 3.
	if last := daysIn(y, m+time.Month(horizonMonths), loc); d > last {
		d = last
	}
	end := time.Date(y, m+time.Month(horizonMonths), d+1, 0, 0, 0, 0, loc)

	out := make([]time.Time, 0, int(end.Sub(start)/step)+1)
	for t := start; t.Before(end); t = t.Add(step) {
		out = append(out, t.UTC())
	}
	return out, nil
}

func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()
}
