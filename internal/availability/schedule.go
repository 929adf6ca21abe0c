package availability

import (
	"fmt"
	"sort"
	"time"
)

const DefaultPrimaryEventDuration = 30

// Schedule is a host's recurring weekly availability.
type Schedule struct {
	HostID                  string   `json:"host_id"`
	Timezone                string   `json:"timezone"`
	Windows                 []Window `json:"availabilities"`
	PrimaryEventEnabled     bool     `json:"primary_event_enabled"`
	PrimaryEventDuration    int      `json:"primary_event_duration"`
	PrimaryEventDescription string   `json:"primary_event_description,omitempty"`
}

// Location resolves the schedule's IANA zone.
func (s Schedule) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return nil, fmt.Errorf("%w: timezone is empty", ErrInvalidSchedule)
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidSchedule, s.Timezone, err)
	}
	return loc, nil
}

// Validate checks the zone resolves and every window is well formed.
func (s Schedule) Validate() error {
	if _, err := s.Location(); err != nil {
		return err
	}
	for i, w := range s.Windows {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("%w: availability %d: %w", ErrInvalidSchedule, i, err)
		}
	}
	if s.PrimaryEventEnabled && s.PrimaryEventDuration <= 0 {
		return fmt.Errorf("%w: primary event duration must be positive", ErrInvalidSchedule)
	}
	return nil
}

// Model is a read-only weekday index over a schedule's windows.
type Model struct {
	loc   *time.Location
	byDay map[time.Weekday][]Window
	// spans holds the union of each day's windows; touching windows coalesce.
	spans map[time.Weekday][]Window
}

// NewModel validates s and groups its windows by weekday, sorted by start.
func NewModel(s Schedule) (*Model, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	loc, _ := s.Location()

	byDay := make(map[time.Weekday][]Window, 7)
	for _, w := range s.Windows {
		byDay[w.DayOfWeek] = append(byDay[w.DayOfWeek], w)
	}
	spans := make(map[time.Weekday][]Window, len(byDay))
	for d := range byDay {
		ws := byDay[d]
		sort.Slice(ws, func(i, j int) bool {
			if ws[i].StartTime != ws[j].StartTime {
				return ws[i].StartTime < ws[j].StartTime
			}
			return ws[i].EndTime < ws[j].EndTime
		})
		spans[d] = unionOf(ws)
	}
	return &Model{loc: loc, byDay: byDay, spans: spans}, nil
}

// unionOf merges windows sorted by start into disjoint spans.
func unionOf(ws []Window) []Window {
	out := make([]Window, 0, len(ws))
	for _, w := range ws {
		if n := len(out); n > 0 && w.StartTime <= out[n-1].EndTime {
			if w.EndTime > out[n-1].EndTime {
				out[n-1].EndTime = w.EndTime
			}
			continue
		}
		out = append(out, w)
	}
	return out
}

// Location returns the host zone the windows are written in.
func (m *Model) Location() *time.Location { return m.loc }

// Windows returns a copy of the windows configured for day.
func (m *Model) Windows(day time.Weekday) []Window {
	ws := m.byDay[day]
	out := make([]Window, len(ws))
	copy(out, ws)
	return out
}

// Covers reports whether wall-clock t on day is inside any window for that day.
func (m *Model) Covers(day time.Weekday, t TimeOfDay) bool {
	for _, w := range m.spans[day] {
		if w.StartTime > t {
			break
		}
		if w.Contains(t) {
			return true
		}
	}
	return false
}

// Fits reports whether [start, end) lies inside the union of the windows of
// the host-local day of start, within the span whose wall-clock range covers
// start. Span bounds are placed on that local date first, so DST days are
// measured in absolute time.
func (m *Model) Fits(start, end time.Time) bool {
	local := start.In(m.loc)
	ws := m.spans[local.Weekday()]
	if len(ws) == 0 {
		return false
	}
	y, mo, d := local.Date()
	tod := Of(local)
	for _, w := range ws {
		if w.StartTime > tod {
			break
		}
		if !w.Contains(tod) {
			continue
		}
		from := w.StartTime.On(y, mo, d, m.loc)
		to := w.EndTime.On(y, mo, d, m.loc)
		if !start.Before(from) && !end.After(to) {
			return true
		}
	}
	return false
}
