package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"availability-service/internal/busy"
	"availability-service/internal/slots"
)

// memStore is an in-memory Store. CreateBooking follows the same order as
// PGStore: serialize, reject overlaps, verify, insert.
type memStore struct {
	bookMu sync.Mutex

	mu        sync.Mutex
	schedules map[string]HostSchedule
	events    map[string][]slots.Event
	feeds     []busy.Feed
	bookings  []Booking
	tokens    map[string]*oauth2.Token
}

var _ Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		schedules: make(map[string]HostSchedule),
		events:    make(map[string][]slots.Event),
		tokens:    make(map[string]*oauth2.Token),
	}
}

func (m *memStore) GetSchedule(_ context.Context, hostID string) (*HostSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hs, ok := m.schedules[hostID]
	if !ok {
		return nil, fmt.Errorf("schedule for host %s: %w", hostID, ErrNotFound)
	}
	return &hs, nil
}

func (m *memStore) SaveSchedule(_ context.Context, hs *HostSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	hs.UpdatedAt = fixedNow
	m.schedules[hs.HostID] = *hs
	return nil
}

func (m *memStore) CreateEvent(_ context.Context, e *slots.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.HostID] = append(m.events[e.HostID], *e)
	return nil
}

func (m *memStore) GetEvent(_ context.Context, hostID, eventID string) (*slots.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events[hostID] {
		if e.ID == eventID {
			return &e, nil
		}
	}
	return nil, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
}

func (m *memStore) ListEvents(_ context.Context, hostID string) ([]slots.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]slots.Event{}, m.events[hostID]...), nil
}

func (m *memStore) SetEventActive(_ context.Context, hostID, eventID string, active bool) (*slots.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events[hostID] {
		if m.events[hostID][i].ID == eventID {
			m.events[hostID][i].IsActive = active
			e := m.events[hostID][i]
			return &e, nil
		}
	}
	return nil, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
}

func (m *memStore) CreateFeed(_ context.Context, f *busy.Feed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeds = append(m.feeds, *f)
	return nil
}

func (m *memStore) ListFeeds(_ context.Context, hostID string) ([]busy.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []busy.Feed{}
	for _, f := range m.feeds {
		if f.HostID == hostID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memStore) ListAllFeeds(context.Context) ([]busy.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]busy.Feed{}, m.feeds...), nil
}

func (m *memStore) CreateBooking(ctx context.Context, b *Booking, verify func(context.Context) error) error {
	m.bookMu.Lock()
	defer m.bookMu.Unlock()

	m.mu.Lock()
	for _, o := range m.bookings {
		if o.HostID == b.HostID && o.Status == BookingConfirmed &&
			o.StartTime.Before(b.EndTime) && b.StartTime.Before(o.EndTime) {
			m.mu.Unlock()
			return ErrSlotTaken
		}
	}
	m.mu.Unlock()

	if verify != nil {
		if err := verify(ctx); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	b.CreatedAt = fixedNow
	m.bookings = append(m.bookings, *b)
	return nil
}

func (m *memStore) ListBookings(_ context.Context, hostID string, from, to time.Time, filtered bool) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Booking{}
	for _, b := range m.bookings {
		if b.HostID != hostID {
			continue
		}
		if filtered && !(b.StartTime.Before(to) && from.Before(b.EndTime)) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *memStore) GetBooking(_ context.Context, id string) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.ID == id {
			return &b, nil
		}
	}
	return nil, fmt.Errorf("booking %s: %w", id, ErrNotFound)
}

func (m *memStore) CancelBooking(_ context.Context, id string) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.bookings {
		if m.bookings[i].ID != id {
			continue
		}
		if m.bookings[i].Status == BookingCancelled {
			return nil, ErrAlreadyCancelled
		}
		m.bookings[i].Status = BookingCancelled
		b := m.bookings[i]
		return &b, nil
	}
	return nil, fmt.Errorf("booking %s: %w", id, ErrNotFound)
}

func (m *memStore) ConfirmedBookings(_ context.Context, hostID string, from, to time.Time) ([]busy.Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []busy.Interval
	for _, b := range m.bookings {
		if b.HostID == hostID && b.Status == BookingConfirmed &&
			b.StartTime.Before(to) && from.Before(b.EndTime) {
			out = append(out, busy.Interval{Start: b.StartTime, End: b.EndTime})
		}
	}
	return out, nil
}

func (m *memStore) GetToken(_ context.Context, hostID string) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[hostID], nil
}

func (m *memStore) SaveToken(_ context.Context, hostID string, tok *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[hostID] = tok
	return nil
}
