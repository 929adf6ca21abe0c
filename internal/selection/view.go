package selection

import "time"

// DayCell is one column of the displayed week.
type DayCell struct {
	Date      time.Time `json:"date"`
	Available bool      `json:"available"`
	Past      bool      `json:"past"`
	Selected  bool      `json:"selected"`
}

// View is a rendering snapshot taken under a single lock.
type View struct {
	State
	Timezone        string      `json:"timezone"`
	HasAvailability bool        `json:"has_availability"`
	Week            []DayCell   `json:"week"`
	Times           []time.Time `json:"times"`
	TotalPages      int         `json:"total_pages"`
	CanPrevPage     bool        `json:"can_prev_page"`
	CanNextPage     bool        `json:"can_next_page"`
}

func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return View{
		State:           m.state,
		Timezone:        m.loc.String(),
		HasAvailability: len(m.valid) > 0,
		Week:            m.week(),
		Times:           m.pageTimes(),
		TotalPages:      m.totalPages(),
		CanPrevPage:     m.state.TimeSlotPage > 0,
		CanNextPage:     m.state.TimeSlotPage < m.totalPages()-1,
	}
}

// Week returns the seven days starting at the anchor Sunday.
func (m *Machine) Week() []DayCell {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.week()
}

func (m *Machine) week() []DayCell {
	today := startOfDay(m.now().In(m.loc))
	cells := make([]DayCell, 7)
	for i := range cells {
		day := m.state.AnchorWeek.AddDate(0, 0, i)
		cells[i] = DayCell{
			Date:      day,
			Available: m.hasTimes(day),
			Past:      day.Before(today),
			Selected:  m.state.SelectedDate != nil && keyOf(*m.state.SelectedDate) == keyOf(day),
		}
	}
	return cells
}

// TimesForSelectedDate returns the selected day's instants in the display
// zone, ascending. It is empty when no date is selected.
func (m *Machine) TimesForSelectedDate() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.timesForSelectedDate()...)
}

func (m *Machine) timesForSelectedDate() []time.Time {
	if m.state.SelectedDate == nil {
		return nil
	}
	return m.byDay[keyOf(*m.state.SelectedDate)]
}

// PageTimes returns the current page of the selected day's instants.
func (m *Machine) PageTimes() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pageTimes()
}

func (m *Machine) pageTimes() []time.Time {
	times := m.timesForSelectedDate()
	start := m.state.TimeSlotPage * m.pageSize
	if start >= len(times) {
		return []time.Time{}
	}
	end := min(start+m.pageSize, len(times))
	return append([]time.Time(nil), times[start:end]...)
}

func (m *Machine) TotalPages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalPages()
}

func (m *Machine) totalPages() int {
	n := len(m.timesForSelectedDate())
	return (n + m.pageSize - 1) / m.pageSize
}

func (m *Machine) CanPrevPage() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.TimeSlotPage > 0
}

func (m *Machine) CanNextPage() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.TimeSlotPage < m.totalPages()-1
}
