// Package selection drives the guest's week/day/time picker over a resolved
// set of bookable instants and hands the chosen slot to a booking collaborator.
package selection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"availability-service/internal/slots"
)

const DefaultPageSize = 6

type Phase string

const (
	PhaseBrowsing   Phase = "browsing"
	PhaseConfirming Phase = "confirming"
	// PhaseBooked is terminal; the session accepts no further transitions.
	PhaseBooked Phase = "booked"
)

type Direction int

const (
	Prev Direction = -1
	Next Direction = 1
)

var (
	ErrInvalidDirection = errors.New("direction must be prev or next")
	ErrNotConfirming    = errors.New("no time slot is awaiting confirmation")
	ErrSubmitInFlight   = errors.New("booking submission already in progress")
	ErrNoBooker         = errors.New("no booking collaborator configured")
)

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prev", "previous", "back":
		return Prev, nil
	case "next", "forward":
		return Next, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

type GuestDetails struct {
	Name  string
	Email string
	Notes string
}

// BookingRequest is what the machine passes to the booking collaborator.
type BookingRequest struct {
	EventID    string
	HostID     string
	StartTime  time.Time
	GuestName  string
	GuestEmail string
	GuestNotes string
	Timezone   string
}

type Booker interface {
	CreateBooking(ctx context.Context, req BookingRequest) error
}

// State is the per-session selection state. Dates are midnight in the guest's
// display zone; SelectedTime is the absolute instant from the valid set.
type State struct {
	AnchorWeek     time.Time  `json:"anchor_week"`
	SelectedDate   *time.Time `json:"selected_date,omitempty"`
	SelectedTime   *time.Time `json:"selected_time,omitempty"`
	TimeSlotPage   int        `json:"time_slot_page"`
	Phase          Phase      `json:"phase"`
	Submitting     bool       `json:"submitting"`
	Error          string     `json:"error,omitempty"`
	AutoSelectDone bool       `json:"-"`
}

type Options struct {
	// Location is the guest's display zone. Defaults to time.Local.
	Location *time.Location
	PageSize int
	Now      func() time.Time
	Booker   Booker
	EventID  string
	HostID   string
}

type dayKey struct {
	year  int
	month time.Month
	day   int
}

func keyOf(t time.Time) dayKey {
	y, m, d := t.Date()
	return dayKey{y, m, d}
}

// Machine is safe for concurrent use; transitions are serialized and a
// submission in flight blocks every other transition.
type Machine struct {
	mu       sync.Mutex
	valid    slots.ValidTimeSet
	byDay    map[dayKey][]time.Time
	loc      *time.Location
	pageSize int
	now      func() time.Time
	booker   Booker
	eventID  string
	hostID   string
	state    State
}

// New builds a machine over valid and runs the one-time initial date selection.
func New(valid slots.ValidTimeSet, opts Options) *Machine {
	m := &Machine{
		loc:      opts.Location,
		pageSize: opts.PageSize,
		now:      opts.Now,
		booker:   opts.Booker,
		eventID:  opts.EventID,
		hostID:   opts.HostID,
	}
	if m.loc == nil {
		m.loc = time.Local
	}
	if m.pageSize <= 0 {
		m.pageSize = DefaultPageSize
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.setValid(valid)

	now := m.now().In(m.loc)
	m.state = State{AnchorWeek: startOfWeek(now), Phase: PhaseBrowsing}
	m.autoSelect(now)
	return m
}

func (m *Machine) setValid(valid slots.ValidTimeSet) {
	m.valid = append(slots.ValidTimeSet(nil), valid...)
	m.byDay = make(map[dayKey][]time.Time)
	// valid is ascending, so each day's list is too
	for _, t := range m.valid {
		local := t.In(m.loc)
		k := keyOf(local)
		m.byDay[k] = append(m.byDay[k], local)
	}
}

// autoSelect picks today, else the first available day of the displayed week.
// It runs once per session.
func (m *Machine) autoSelect(now time.Time) {
	if m.state.AutoSelectDone {
		return
	}
	m.state.AutoSelectDone = true

	today := startOfDay(now)
	if m.hasTimes(today) {
		m.selectDate(today)
		return
	}
	for i := 0; i < 7; i++ {
		day := m.state.AnchorWeek.AddDate(0, 0, i)
		if m.hasTimes(day) {
			m.selectDate(day)
			return
		}
	}
}

func (m *Machine) locked() bool {
	return m.state.Submitting || m.state.Phase == PhaseBooked
}

// hasTimes uses the calendar date of day as written, whatever its location.
func (m *Machine) hasTimes(day time.Time) bool {
	return len(m.byDay[keyOf(day)]) > 0
}

func (m *Machine) selectDate(day time.Time) {
	y, mo, dd := day.Date()
	d := time.Date(y, mo, dd, 0, 0, 0, 0, m.loc)
	m.state.SelectedDate = &d
	m.state.SelectedTime = nil
	m.state.TimeSlotPage = 0
	m.state.Phase = PhaseBrowsing
	m.state.Error = ""
}

// SelectWeek moves the displayed week by seven days and clears the selection.
func (m *Machine) SelectWeek(dir Direction) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked() || (dir != Prev && dir != Next) {
		return m.state
	}
	m.state.AnchorWeek = m.state.AnchorWeek.AddDate(0, 0, 7*int(dir))
	m.state.SelectedDate = nil
	m.state.SelectedTime = nil
	m.state.TimeSlotPage = 0
	m.state.Phase = PhaseBrowsing
	m.state.Error = ""
	return m.state
}

// SelectDate selects the calendar date of day if any valid instant falls on
// it in the display zone; otherwise the state is left unchanged.
func (m *Machine) SelectDate(day time.Time) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked() || !m.hasTimes(day) {
		return m.state
	}
	m.selectDate(day)
	return m.state
}

// PageTimeSlots moves one page within the selected day's list, without wrapping.
func (m *Machine) PageTimeSlots(dir Direction) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked() || m.state.SelectedDate == nil {
		return m.state
	}
	next := m.state.TimeSlotPage + int(dir)
	if (dir == Prev || dir == Next) && next >= 0 && next < m.totalPages() {
		m.state.TimeSlotPage = next
	}
	return m.state
}

// GoToPage jumps to page i of the selected day; out-of-range pages are ignored.
func (m *Machine) GoToPage(i int) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked() || m.state.SelectedDate == nil {
		return m.state
	}
	if i >= 0 && i < m.totalPages() {
		m.state.TimeSlotPage = i
	}
	return m.state
}

// SelectTime picks t from the selected day's instants and moves to confirmation.
func (m *Machine) SelectTime(t time.Time) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked() || m.state.SelectedDate == nil {
		return m.state
	}
	for _, c := range m.timesForSelectedDate() {
		if c.Equal(t) {
			picked := c.UTC()
			m.state.SelectedTime = &picked
			m.state.Phase = PhaseConfirming
			m.state.Error = ""
			return m.state
		}
	}
	return m.state
}

// CancelConfirmation returns to the selected day's slot list.
func (m *Machine) CancelConfirmation() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked() || m.state.Phase != PhaseConfirming {
		return m.state
	}
	m.state.Phase = PhaseBrowsing
	m.state.SelectedTime = nil
	m.state.Error = ""
	return m.state
}

// Submit books the selected time. A failed attempt stays in confirmation with
// the error attached so the guest can retry.
func (m *Machine) Submit(ctx context.Context, guest GuestDetails) (State, error) {
	m.mu.Lock()
	if m.state.Submitting {
		st := m.state
		m.mu.Unlock()
		return st, ErrSubmitInFlight
	}
	if m.state.Phase != PhaseConfirming || m.state.SelectedTime == nil {
		st := m.state
		m.mu.Unlock()
		return st, ErrNotConfirming
	}
	if m.booker == nil {
		st := m.state
		m.mu.Unlock()
		return st, ErrNoBooker
	}
	m.state.Submitting = true
	m.state.Error = ""
	req := BookingRequest{
		EventID:    m.eventID,
		HostID:     m.hostID,
		StartTime:  *m.state.SelectedTime,
		GuestName:  guest.Name,
		GuestEmail: guest.Email,
		GuestNotes: guest.Notes,
		Timezone:   m.loc.String(),
	}
	m.mu.Unlock()

	err := m.booker.CreateBooking(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Submitting = false
	if err != nil {
		m.state.Error = err.Error()
		return m.state, err
	}
	m.state.Phase = PhaseBooked
	return m.state, nil
}

// ChangeTimezone re-renders the valid set in loc. The displayed week keeps its
// calendar date and the selection is cleared.
func (m *Machine) ChangeTimezone(loc *time.Location) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked() || loc == nil {
		return m.state
	}
	y, mo, d := m.state.AnchorWeek.Date()
	m.loc = loc
	m.setValid(m.valid)
	m.state.AnchorWeek = time.Date(y, mo, d, 0, 0, 0, 0, loc)
	m.state.SelectedDate = nil
	m.state.SelectedTime = nil
	m.state.TimeSlotPage = 0
	m.state.Phase = PhaseBrowsing
	m.state.Error = ""
	return m.state
}

// Reload swaps in a freshly resolved valid set, keeping whatever part of the
// selection is still bookable.
func (m *Machine) Reload(valid slots.ValidTimeSet) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked() {
		return m.state
	}
	m.setValid(valid)
	if m.state.SelectedDate != nil && !m.hasTimes(*m.state.SelectedDate) {
		m.state.SelectedDate = nil
		m.state.SelectedTime = nil
		m.state.TimeSlotPage = 0
		m.state.Phase = PhaseBrowsing
		return m.state
	}
	if m.state.SelectedTime != nil && !m.valid.Contains(*m.state.SelectedTime) {
		m.state.SelectedTime = nil
		m.state.Phase = PhaseBrowsing
	}
	if pages := m.totalPages(); m.state.TimeSlotPage >= pages {
		m.state.TimeSlotPage = max(pages-1, 0)
	}
	return m.state
}

// State is the current step of the flow.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Location is the zone the guest sees days and times in.
func (m *Machine) Location() *time.Location {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loc
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// startOfWeek returns the Sunday that starts t's week.
func startOfWeek(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, -int(t.Weekday()))
}
