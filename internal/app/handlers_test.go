package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"availability-service/internal/availability"
	"availability-service/internal/selection"
	"availability-service/internal/slots"
)

const (
	staticToken = "operator-token"
	jwtSecret   = "test-secret"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	store  *memStore
	app    *App
	router *gin.Engine
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	store := newMemStore()
	svc, _ := newTestService(t, store)
	a := &App{
		Store:    store,
		Bookings: svc,
		Sessions: NewSessionManager(svc, time.Hour, 6, zap.NewNop()),
		Log:      zap.NewNop(),
	}
	r := gin.New()
	a.Register(r, AuthMiddleware([]string{staticToken}, jwtSecret))
	return &testEnv{store: store, app: a, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func signedToken(t *testing.T, subject string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: subject})
	s, err := tok.SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return s
}

var mondaySchedule = gin.H{
	"host_name": "Ada",
	"timezone":  "UTC",
	"availabilities": []gin.H{
		{"day_of_week": "monday", "start_time": "09:00", "end_time": "17:00"},
	},
	"primary_event_enabled":  true,
	"primary_event_duration": 30,
}

func TestHandler_ScheduleRoundTrip(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodPut, "/api/users/host-1/schedule", mondaySchedule, staticToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/users/host-1/schedule", nil, staticToken)
	require.Equal(t, http.StatusOK, w.Code)
	hs := decode[HostSchedule](t, w)
	assert.Equal(t, "Ada", hs.HostName)
	assert.Equal(t, "UTC", hs.Timezone)
	require.Len(t, hs.Windows, 1)
	assert.Equal(t, availability.Window{DayOfWeek: time.Monday, StartTime: 9 * 60, EndTime: 17 * 60}, hs.Windows[0])
	assert.True(t, hs.PrimaryEventEnabled)

	w = env.do(t, http.MethodGet, "/api/users/host-9/schedule", nil, staticToken)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_PutSchedulePrimaryEventDefaultsOn(t *testing.T) {
	env := setupRouter(t)

	body := gin.H{"host_name": "Ada", "timezone": "UTC"}
	w := env.do(t, http.MethodPut, "/api/users/host-1/schedule", body, staticToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.do(t, http.MethodGet, "/api/users/host-1/schedule", nil, staticToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[HostSchedule](t, w).PrimaryEventEnabled)

	body["primary_event_enabled"] = false
	w = env.do(t, http.MethodPut, "/api/users/host-1/schedule", body, staticToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.do(t, http.MethodGet, "/api/users/host-1/schedule", nil, staticToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[HostSchedule](t, w).PrimaryEventEnabled)
}

func TestHandler_PutScheduleRejectsBadInput(t *testing.T) {
	env := setupRouter(t)

	tests := []struct {
		name string
		body gin.H
		want int
	}{
		{"missing timezone", gin.H{"availabilities": []gin.H{}}, http.StatusBadRequest},
		{"unknown weekday", gin.H{"timezone": "UTC", "availabilities": []gin.H{
			{"day_of_week": "funday", "start_time": "09:00", "end_time": "17:00"},
		}}, http.StatusBadRequest},
		{"malformed time", gin.H{"timezone": "UTC", "availabilities": []gin.H{
			{"day_of_week": 1, "start_time": "9am", "end_time": "17:00"},
		}}, http.StatusBadRequest},
		{"end before start", gin.H{"timezone": "UTC", "availabilities": []gin.H{
			{"day_of_week": 1, "start_time": "17:00", "end_time": "09:00"},
		}}, http.StatusUnprocessableEntity},
		{"unknown zone", gin.H{"timezone": "Atlantis/Capital"}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPut, "/api/users/host-1/schedule", tt.body, staticToken)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
	_, err := env.store.GetSchedule(context.Background(), hostID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHandler_Auth(t *testing.T) {
	env := setupRouter(t)
	seedHost(t, env.store)

	w := env.do(t, http.MethodGet, "/api/users/host-1/schedule", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/users/host-1/schedule", nil, "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/users/host-1/schedule", nil, signedToken(t, "host-2"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/api/users/host-1/schedule", nil, signedToken(t, "host-1"))
	assert.Equal(t, http.StatusOK, w.Code)

	// guest routes need no token
	w = env.do(t, http.MethodGet, "/book/host-1/primary/slots", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	b, err := env.app.Bookings.CreateBooking(context.Background(), guestBooking(slots.PrimaryEventID, monday9))
	require.NoError(t, err)

	w = env.do(t, http.MethodDelete, "/api/bookings/"+b.ID, nil, signedToken(t, "host-2"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	stored, err := env.store.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, BookingConfirmed, stored.Status, "a foreign host cannot cancel")

	w = env.do(t, http.MethodGet, "/api/calendar/auth?user_id=host-1", nil, signedToken(t, "host-2"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = env.do(t, http.MethodGet, "/api/calendar/calendars?user_id=host-1", nil, signedToken(t, "host-2"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodDelete, "/api/bookings/"+b.ID, nil, signedToken(t, "host-1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, BookingCancelled, decode[Booking](t, w).Status)
}

func TestHandler_GetSlots(t *testing.T) {
	env := setupRouter(t)
	seedHost(t, env.store)

	w := env.do(t, http.MethodGet, "/book/host-1/primary/slots?timezone=Asia/Tokyo", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[slotsResponse](t, w)
	assert.True(t, resp.Available)
	assert.Equal(t, "Meeting with Ada", resp.EventName)
	assert.Equal(t, 30, resp.Duration)
	assert.Equal(t, "Asia/Tokyo", resp.Timezone)
	require.Len(t, resp.Times, 9*16)
	assert.True(t, monday9.Equal(resp.Times[0]))
	assert.Equal(t, "2026-10-19T18:00:00+09:00", resp.Local[0])

	w = env.do(t, http.MethodGet, "/book/host-1/primary/slots?timezone=Nowhere/Land", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/book/host-1/unknown/slots", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/book/nobody/primary/slots", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_GetSlotsEmptyWeek(t *testing.T) {
	env := setupRouter(t)
	body := gin.H{"host_name": "Ada", "timezone": "UTC", "primary_event_enabled": true}
	w := env.do(t, http.MethodPut, "/api/users/host-1/schedule", body, staticToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/book/host-1/primary/slots", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[slotsResponse](t, w)
	assert.False(t, resp.Available)
	assert.Empty(t, resp.Times)
}

func TestHandler_Events(t *testing.T) {
	env := setupRouter(t)
	seedHost(t, env.store)

	w := env.do(t, http.MethodPost, "/api/users/host-1/events",
		gin.H{"name": "Deep dive", "duration_in_minutes": 60}, staticToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[slots.Event](t, w)
	assert.True(t, created.IsActive)
	assert.Equal(t, slots.KindStored, created.Kind)

	w = env.do(t, http.MethodPost, "/api/users/host-1/events",
		gin.H{"name": "Broken", "duration_in_minutes": -5}, staticToken)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(t, http.MethodGet, "/api/users/host-1/events", nil, staticToken)
	require.Equal(t, http.StatusOK, w.Code)
	events := decode[[]slots.Event](t, w)
	require.Len(t, events, 2)
	assert.Equal(t, slots.PrimaryEventID, events[0].ID)
	assert.Equal(t, created.ID, events[1].ID)

	w = env.do(t, http.MethodGet, "/book/host-1/"+created.ID+"/slots", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[slotsResponse](t, w).Times, 9*17)

	w = env.do(t, http.MethodPut, "/api/users/host-1/events/"+created.ID, gin.H{"is_active": false}, staticToken)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/book/host-1/"+created.ID+"/slots", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPut, "/api/users/host-1/events/primary", gin.H{"is_active": false}, staticToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Feeds(t *testing.T) {
	env := setupRouter(t)
	seedHost(t, env.store)

	w := env.do(t, http.MethodPost, "/api/users/host-1/feeds", gin.H{"url": "not a url"}, staticToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/users/host-1/feeds", gin.H{"url": "https://calendar.example.com/a.ics"}, staticToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/users/host-1/feeds", nil, staticToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]gin.H](t, w), 1)
}

func TestHandler_CreateAndCancelBooking(t *testing.T) {
	env := setupRouter(t)
	seedHost(t, env.store)

	body := gin.H{
		"guest_name":  "Grace",
		"guest_email": "grace@example.com",
		"start_time":  "2026-10-19T11:00:00+02:00",
		"timezone":    "Europe/Berlin",
	}
	w := env.do(t, http.MethodPost, "/book/host-1/primary/bookings", body, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	b := decode[Booking](t, w)
	assert.True(t, monday9.Equal(b.StartTime))

	w = env.do(t, http.MethodPost, "/book/host-1/primary/bookings", body, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	offGrid := gin.H{"guest_name": "Grace", "guest_email": "grace@example.com", "start_time": "2026-10-19T09:45:00Z"}
	w = env.do(t, http.MethodPost, "/book/host-1/primary/bookings", offGrid, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	badStart := gin.H{"guest_name": "Grace", "guest_email": "grace@example.com", "start_time": "monday"}
	w = env.do(t, http.MethodPost, "/book/host-1/primary/bookings", badStart, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	noEmail := gin.H{"guest_name": "Grace", "start_time": "2026-10-19T10:00:00Z"}
	w = env.do(t, http.MethodPost, "/book/host-1/primary/bookings", noEmail, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/users/host-1/bookings?from=2026-10-19T00:00:00Z&to=2026-10-20T00:00:00Z", nil, staticToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]Booking](t, w), 1)

	w = env.do(t, http.MethodGet, "/api/users/host-1/bookings?from=yesterday&to=2026-10-20T00:00:00Z", nil, staticToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodDelete, "/api/bookings/"+b.ID, nil, staticToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, BookingCancelled, decode[Booking](t, w).Status)

	w = env.do(t, http.MethodDelete, "/api/bookings/"+b.ID, nil, staticToken)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandler_Busy(t *testing.T) {
	env := setupRouter(t)
	seedHost(t, env.store)
	_, err := env.app.Bookings.CreateBooking(context.Background(), guestBooking(slots.PrimaryEventID, monday9))
	require.NoError(t, err)

	w := env.do(t, http.MethodGet, "/api/users/host-1/busy", nil, staticToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/users/host-1/busy?from=2026-10-19T00:00:00Z&to=2026-10-20T00:00:00Z", nil, staticToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[struct {
		Count int `json:"count"`
	}](t, w)
	assert.Equal(t, 1, resp.Count)
}

func TestHandler_SessionFlow(t *testing.T) {
	env := setupRouter(t)
	seedHost(t, env.store)

	w := env.do(t, http.MethodPost, "/book/host-1/primary/sessions", nil, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	s := decode[sessionResponse](t, w)
	assert.True(t, s.HasAvailability)
	assert.Nil(t, s.SelectedDate, "no times in the current week")
	require.Len(t, s.Week, 7)
	base := "/sessions/" + s.ID

	w = env.do(t, http.MethodPost, base+"/week", gin.H{"direction": "sideways"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, base+"/week", gin.H{"direction": "next"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	s = decode[sessionResponse](t, w)
	assert.True(t, s.Week[1].Available)

	w = env.do(t, http.MethodPost, base+"/date", gin.H{"date": "2026-10-19"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	s = decode[sessionResponse](t, w)
	require.NotNil(t, s.SelectedDate)
	assert.Equal(t, 3, s.TotalPages)
	require.Len(t, s.Times, 6)
	assert.True(t, monday9.Equal(s.Times[0]))

	w = env.do(t, http.MethodPost, base+"/page", gin.H{"direction": "next"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	s = decode[sessionResponse](t, w)
	assert.Equal(t, 1, s.TimeSlotPage)
	assert.True(t, monday9.Add(3*time.Hour).Equal(s.Times[0]))

	w = env.do(t, http.MethodPost, base+"/page", gin.H{"page": 2}, "")
	require.Equal(t, http.StatusOK, w.Code)
	s = decode[sessionResponse](t, w)
	assert.Len(t, s.Times, 4)
	assert.False(t, s.CanNextPage)
	assert.True(t, s.CanPrevPage)

	w = env.do(t, http.MethodPost, base+"/submit", gin.H{"guest_name": "Grace", "guest_email": "grace@example.com"}, "")
	assert.Equal(t, http.StatusConflict, w.Code, "nothing to confirm yet")

	w = env.do(t, http.MethodPost, base+"/time", gin.H{"time": "2026-10-19T16:30:00Z"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	s = decode[sessionResponse](t, w)
	assert.Equal(t, selection.PhaseConfirming, s.Phase)

	w = env.do(t, http.MethodPost, base+"/cancel", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, selection.PhaseBrowsing, decode[sessionResponse](t, w).Phase)

	w = env.do(t, http.MethodPost, base+"/time", gin.H{"time": "2026-10-19T16:30:00Z"}, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, base+"/submit", gin.H{"guest_name": "Grace", "guest_email": "grace@example.com"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, selection.PhaseBooked, decode[sessionResponse](t, w).Phase)

	// booked is final
	w = env.do(t, http.MethodPost, base+"/week", gin.H{"direction": "prev"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, selection.PhaseBooked, decode[sessionResponse](t, w).Phase)

	bookings, err := env.store.ListBookings(context.Background(), hostID, time.Time{}, time.Time{}, false)
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, monday9.Add(7*time.Hour+30*time.Minute), bookings[0].StartTime)
}

func TestHandler_SessionSubmitConflictKeepsConfirmation(t *testing.T) {
	env := setupRouter(t)
	seedHost(t, env.store)

	w := env.do(t, http.MethodPost, "/book/host-1/primary/sessions", gin.H{"timezone": "UTC"}, "")
	require.Equal(t, http.StatusCreated, w.Code)
	base := "/sessions/" + decode[sessionResponse](t, w).ID

	env.do(t, http.MethodPost, base+"/week", gin.H{"direction": "next"}, "")
	env.do(t, http.MethodPost, base+"/date", gin.H{"date": "2026-10-19"}, "")
	w = env.do(t, http.MethodPost, base+"/time", gin.H{"time": "2026-10-19T09:00:00Z"}, "")
	require.Equal(t, selection.PhaseConfirming, decode[sessionResponse](t, w).Phase)

	// someone else takes the slot first
	_, err := env.app.Bookings.CreateBooking(context.Background(), guestBooking(slots.PrimaryEventID, monday9))
	require.NoError(t, err)

	w = env.do(t, http.MethodPost, base+"/submit", gin.H{"guest_name": "Grace", "guest_email": "grace@example.com"}, "")
	require.Equal(t, http.StatusConflict, w.Code)
	resp := decode[struct {
		Error   string          `json:"error"`
		Session sessionResponse `json:"session"`
	}](t, w)
	assert.Equal(t, ErrSlotTaken.Error(), resp.Error)
	assert.Equal(t, selection.PhaseConfirming, resp.Session.Phase)
	assert.Equal(t, ErrSlotTaken.Error(), resp.Session.Error)

	w = env.do(t, http.MethodPost, base+"/refresh", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	s := decode[sessionResponse](t, w)
	assert.Equal(t, selection.PhaseBrowsing, s.Phase)
	assert.Nil(t, s.SelectedTime)
}

func TestHandler_SessionTimezone(t *testing.T) {
	env := setupRouter(t)
	seedHost(t, env.store)

	w := env.do(t, http.MethodPost, "/book/host-1/primary/sessions", nil, "")
	require.Equal(t, http.StatusCreated, w.Code)
	base := "/sessions/" + decode[sessionResponse](t, w).ID

	w = env.do(t, http.MethodPut, base+"/timezone", gin.H{"timezone": "Moon/Base"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, base+"/timezone", gin.H{"timezone": "Asia/Tokyo"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Asia/Tokyo", decode[sessionResponse](t, w).Timezone)

	env.do(t, http.MethodPost, base+"/week", gin.H{"direction": "next"}, "")
	w = env.do(t, http.MethodPost, base+"/date", gin.H{"date": "2026-10-20"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	s := decode[sessionResponse](t, w)
	// 00:00 to 01:30 Tuesday in Tokyo is the tail of the UTC Monday window
	require.Len(t, s.Times, 4)
	assert.True(t, monday9.Add(6*time.Hour).Equal(s.Times[0]))
}

func TestHandler_UnknownSession(t *testing.T) {
	env := setupRouter(t)
	w := env.do(t, http.MethodGet, "/sessions/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodPost, "/sessions/nope/refresh", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_Health(t *testing.T) {
	env := setupRouter(t)
	w := env.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	env.app.Ping = func(context.Context) error { return errors.New("db down") }
	w = env.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandler_CalendarNotConfigured(t *testing.T) {
	env := setupRouter(t)
	w := env.do(t, http.MethodGet, "/api/calendar/auth?user_id=host-1", nil, staticToken)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w = env.do(t, http.MethodGet, "/oauth2callback?code=x&state=y", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
