package slots

import (
	"sort"
	"time"

	"availability-service/internal/availability"
	"availability-service/internal/busy"
)

// ValidTimeSet is the ascending, de-duplicated set of bookable start instants.
type ValidTimeSet []time.Time

// Resolver intersects candidate instants with a host's windows and busy intervals.
// It holds no mutable state and can be shared between goroutines.
type Resolver struct {
	schedule availability.Schedule
	busy     *busy.Index
	now      time.Time
}

// NewResolver snapshots the schedule and busy intervals. now is the instant
// before which nothing may be returned.
func NewResolver(schedule availability.Schedule, busyIntervals []busy.Interval, now time.Time) *Resolver {
	return &Resolver{
		schedule: schedule,
		busy:     busy.NewIndex(busyIntervals),
		now:      now,
	}
}

// Resolve returns the candidates at which event can be booked.
func (r *Resolver) Resolve(candidates []time.Time, event Event) (ValidTimeSet, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	model, err := availability.NewModel(r.schedule)
	if err != nil {
		return nil, err
	}

	dur := event.Duration()
	out := make(ValidTimeSet, 0)
	for _, c := range candidates {
		end := c.Add(dur)
		if !model.Fits(c, end) {
			continue
		}
		if r.busy.Overlaps(c, end) {
			continue
		}
		// the grid already starts after now; a stale grid must still not leak past instants
		if c.Before(r.now) {
			continue
		}
		out = append(out, c.UTC())
	}
	return dedupe(out), nil
}

func dedupe(ts ValidTimeSet) ValidTimeSet {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	out := ts[:0]
	for i, t := range ts {
		if i > 0 && t.Equal(out[len(out)-1]) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Contains reports whether t is a member of the set.
func (v ValidTimeSet) Contains(t time.Time) bool {
	i := sort.Search(len(v), func(i int) bool { return !v[i].Before(t) })
	return i < len(v) && v[i].Equal(t)
}
