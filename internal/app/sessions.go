package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"availability-service/internal/selection"
)

// Session is one guest's walk through a host's slot picker.
type Session struct {
	ID      string
	HostID  string
	EventID string
	Machine *selection.Machine

	expires time.Time
}

// SessionManager keeps selection sessions in memory with a sliding TTL.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	svc      *BookingService
	ttl      time.Duration
	pageSize int
	now      func() time.Time
	log      *zap.Logger
}

func NewSessionManager(svc *BookingService, ttl time.Duration, pageSize int, log *zap.Logger) *SessionManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		svc:      svc,
		ttl:      ttl,
		pageSize: pageSize,
		now:      svc.now,
		log:      log,
	}
}

// Create resolves the event's slots and starts a session displayed in tz,
// or in the host's zone when tz is empty.
func (m *SessionManager) Create(ctx context.Context, hostID, eventID, tz string) (*Session, error) {
	res, err := m.svc.ResolveSlots(ctx, hostID, eventID)
	if err != nil {
		return nil, err
	}
	if tz == "" {
		tz = res.Host.Timezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q", ErrBadRequest, tz)
	}

	s := &Session{
		ID:      uuid.NewString(),
		HostID:  hostID,
		EventID: res.Event.ID,
		Machine: selection.New(res.Times, selection.Options{
			Location: loc,
			PageSize: m.pageSize,
			Now:      m.now,
			Booker:   sessionBooker{svc: m.svc},
			EventID:  res.Event.ID,
			HostID:   hostID,
		}),
		expires: m.now().Add(m.ttl),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.log.Debug("selection session created", zap.String("session_id", s.ID), zap.String("host_id", hostID))
	return s, nil
}

// Get returns a live session and extends its lifetime.
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !m.now().Before(s.expires) {
		delete(m.sessions, id)
		return nil, ErrSessionNotFound
	}
	s.expires = m.now().Add(m.ttl)
	return s, nil
}

// Refresh re-resolves the session's slots so newly taken times disappear.
func (m *SessionManager) Refresh(ctx context.Context, id string) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	res, err := m.svc.ResolveSlots(ctx, s.HostID, s.EventID)
	if err != nil {
		return nil, err
	}
	s.Machine.Reload(res.Times)
	return s, nil
}

// Sweep drops expired sessions and reports how many were removed.
func (m *SessionManager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if !now.Before(s.expires) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
