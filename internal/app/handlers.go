package app

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"availability-service/internal/busy"
	"availability-service/internal/selection"
	"availability-service/internal/slots"
)

// GET /healthz
func (a *App) HealthHandler(c *gin.Context) {
	if a.Ping != nil {
		if err := a.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// PUT /api/users/:id/schedule
// Replaces the host's timezone, weekly windows and primary event settings.
func (a *App) PutScheduleHandler(c *gin.Context) {
	if !requireHost(c) {
		return
	}
	var payload scheduleRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	hs := payload.toSchedule(c.Param("id"))
	if err := hs.Validate(); err != nil {
		a.writeError(c, err)
		return
	}
	if err := a.Store.SaveSchedule(c.Request.Context(), hs); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, hs)
}

// GET /api/users/:id/schedule
func (a *App) GetScheduleHandler(c *gin.Context) {
	if !requireHost(c) {
		return
	}
	hs, err := a.Store.GetSchedule(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, hs)
}

// POST /api/users/:id/events
func (a *App) CreateEventHandler(c *gin.Context) {
	if !requireHost(c) {
		return
	}
	var payload eventRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ev := slots.Event{
		ID:                uuid.NewString(),
		HostID:            c.Param("id"),
		Name:              payload.Name,
		Description:       payload.Description,
		DurationInMinutes: payload.DurationInMinutes,
		IsActive:          payload.IsActive == nil || *payload.IsActive,
		Kind:              slots.KindStored,
	}
	if err := ev.Validate(); err != nil {
		a.writeError(c, err)
		return
	}
	if err := a.Store.CreateEvent(c.Request.Context(), &ev); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

// GET /api/users/:id/events
// Lists stored events, preceded by the primary event when the host has a schedule.
func (a *App) ListEventsHandler(c *gin.Context) {
	if !requireHost(c) {
		return
	}
	ctx := c.Request.Context()
	hostID := c.Param("id")

	events, err := a.Store.ListEvents(ctx, hostID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	hs, err := a.Store.GetSchedule(ctx, hostID)
	switch {
	case err == nil:
		events = append([]slots.Event{slots.PrimaryEvent(hs.Schedule, hs.HostName)}, events...)
	case !errors.Is(err, ErrNotFound):
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// PUT /api/users/:id/events/:event_id
func (a *App) UpdateEventHandler(c *gin.Context) {
	if !requireHost(c) {
		return
	}
	if c.Param("event_id") == slots.PrimaryEventID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "the primary event is configured through the schedule"})
		return
	}
	var payload eventUpdateRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ev, err := a.Store.SetEventActive(c.Request.Context(), c.Param("id"), c.Param("event_id"), *payload.IsActive)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

// POST /api/users/:id/feeds
func (a *App) CreateFeedHandler(c *gin.Context) {
	if !requireHost(c) {
		return
	}
	var payload feedRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	feed := busy.Feed{ID: uuid.NewString(), HostID: c.Param("id"), URL: payload.URL}
	if err := a.Store.CreateFeed(c.Request.Context(), &feed); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, feed)
}

// GET /api/users/:id/feeds
func (a *App) ListFeedsHandler(c *gin.Context) {
	if !requireHost(c) {
		return
	}
	feeds, err := a.Store.ListFeeds(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, feeds)
}

// parseRange reads the optional from/to RFC3339 pair. ok is false when a
// response has already been written.
func parseRange(c *gin.Context) (from, to time.Time, filtered, ok bool) {
	fromStr, toStr := c.Query("from"), c.Query("to")
	if fromStr == "" || toStr == "" {
		return from, to, false, true
	}
	var err error
	if from, err = time.Parse(time.RFC3339, fromStr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
		return from, to, false, false
	}
	if to, err = time.Parse(time.RFC3339, toStr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
		return from, to, false, false
	}
	if !from.Before(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be before to"})
		return from, to, false, false
	}
	return from.UTC(), to.UTC(), true, true
}

// GET /api/users/:id/bookings?from=ISO&to=ISO
func (a *App) ListBookingsHandler(c *gin.Context) {
	if !requireHost(c) {
		return
	}
	from, to, filtered, ok := parseRange(c)
	if !ok {
		return
	}
	bookings, err := a.Store.ListBookings(c.Request.Context(), c.Param("id"), from, to, filtered)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookings)
}

// DELETE /api/bookings/:id
func (a *App) CancelBookingHandler(c *gin.Context) {
	existing, err := a.Store.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	if !allowHost(c, existing.HostID) {
		return
	}
	b, err := a.Bookings.CancelBooking(c.Request.Context(), existing.ID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// GET /api/users/:id/busy?from=ISO&to=ISO
func (a *App) BusyHandler(c *gin.Context) {
	if !requireHost(c) {
		return
	}
	from, to, filtered, ok := parseRange(c)
	if !ok {
		return
	}
	if !filtered {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from and to required (ISO8601)"})
		return
	}
	ivs, err := a.Bookings.BusyBetween(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"busy": ivs, "count": len(ivs)})
}

// GET /book/:user_id/:event_id/slots?timezone=Area/City
func (a *App) GetSlotsHandler(c *gin.Context) {
	res, err := a.Bookings.ResolveSlots(c.Request.Context(), c.Param("user_id"), c.Param("event_id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	tz := c.DefaultQuery("timezone", res.Host.Timezone)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		a.writeError(c, fmt.Errorf("%w: timezone %q", ErrBadRequest, tz))
		return
	}

	resp := slotsResponse{
		HostID:    res.Host.HostID,
		EventID:   res.Event.ID,
		EventName: res.Event.Name,
		Duration:  res.Event.DurationInMinutes,
		Timezone:  loc.String(),
		Available: len(res.Times) > 0,
		Times:     res.Times,
		Local:     make([]string, len(res.Times)),
	}
	for i, t := range res.Times {
		resp.Local[i] = t.In(loc).Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

// POST /book/:user_id/:event_id/bookings
func (a *App) CreateBookingHandler(c *gin.Context) {
	var req createBookingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_time"})
		return
	}
	b, err := a.Bookings.CreateBooking(c.Request.Context(), selection.BookingRequest{
		EventID:    c.Param("event_id"),
		HostID:     c.Param("user_id"),
		StartTime:  start,
		GuestName:  req.GuestName,
		GuestEmail: req.GuestEmail,
		GuestNotes: req.GuestNotes,
		Timezone:   req.Timezone,
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

type sessionResponse struct {
	ID      string `json:"id"`
	HostID  string `json:"host_id"`
	EventID string `json:"event_id"`
	selection.View
}

func renderSession(s *Session) sessionResponse {
	return sessionResponse{ID: s.ID, HostID: s.HostID, EventID: s.EventID, View: s.Machine.View()}
}

// sessionFrom loads the session named in the path or writes the error.
func (a *App) sessionFrom(c *gin.Context) (*Session, bool) {
	s, err := a.Sessions.Get(c.Param("sid"))
	if err != nil {
		a.writeError(c, err)
		return nil, false
	}
	return s, true
}

// POST /book/:user_id/:event_id/sessions
func (a *App) CreateSessionHandler(c *gin.Context) {
	var req sessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	s, err := a.Sessions.Create(c.Request.Context(), c.Param("user_id"), c.Param("event_id"), req.Timezone)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, renderSession(s))
}

// GET /sessions/:sid
func (a *App) GetSessionHandler(c *gin.Context) {
	s, ok := a.sessionFrom(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, renderSession(s))
}

// POST /sessions/:sid/week {"direction": "next"}
func (a *App) SessionWeekHandler(c *gin.Context) {
	s, ok := a.sessionFrom(c)
	if !ok {
		return
	}
	var req directionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dir, err := selection.ParseDirection(req.Direction)
	if err != nil {
		a.writeError(c, err)
		return
	}
	s.Machine.SelectWeek(dir)
	c.JSON(http.StatusOK, renderSession(s))
}

// POST /sessions/:sid/date {"date": "2026-10-19"}
// A date without bookable times leaves the session unchanged.
func (a *App) SessionDateHandler(c *gin.Context) {
	s, ok := a.sessionFrom(c)
	if !ok {
		return
	}
	var req dateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	day, err := time.ParseInLocation("2006-01-02", req.Date, s.Machine.Location())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, want YYYY-MM-DD"})
		return
	}
	s.Machine.SelectDate(day)
	c.JSON(http.StatusOK, renderSession(s))
}

// POST /sessions/:sid/page {"page": 2} or {"direction": "prev"}
func (a *App) SessionPageHandler(c *gin.Context) {
	s, ok := a.sessionFrom(c)
	if !ok {
		return
	}
	var req pageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch {
	case req.Page != nil:
		s.Machine.GoToPage(*req.Page)
	case req.Direction != "":
		dir, err := selection.ParseDirection(req.Direction)
		if err != nil {
			a.writeError(c, err)
			return
		}
		s.Machine.PageTimeSlots(dir)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "page or direction required"})
		return
	}
	c.JSON(http.StatusOK, renderSession(s))
}

// POST /sessions/:sid/time {"time": "2026-10-19T13:00:00Z"}
func (a *App) SessionTimeHandler(c *gin.Context) {
	s, ok := a.sessionFrom(c)
	if !ok {
		return
	}
	var req timeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, err := time.Parse(time.RFC3339, req.Time)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid time"})
		return
	}
	s.Machine.SelectTime(t)
	c.JSON(http.StatusOK, renderSession(s))
}

// POST /sessions/:sid/cancel
func (a *App) SessionCancelHandler(c *gin.Context) {
	s, ok := a.sessionFrom(c)
	if !ok {
		return
	}
	s.Machine.CancelConfirmation()
	c.JSON(http.StatusOK, renderSession(s))
}

// POST /sessions/:sid/submit
func (a *App) SessionSubmitHandler(c *gin.Context) {
	s, ok := a.sessionFrom(c)
	if !ok {
		return
	}
	var req guestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	_, err := s.Machine.Submit(c.Request.Context(), selection.GuestDetails{
		Name:  req.GuestName,
		Email: req.GuestEmail,
		Notes: req.GuestNotes,
	})
	if err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			a.Log.Error("session submit failed", zap.String("session_id", s.ID), zap.Error(err))
		}
		c.JSON(code, gin.H{"error": err.Error(), "session": renderSession(s)})
		return
	}
	c.JSON(http.StatusOK, renderSession(s))
}

// POST /sessions/:sid/refresh
func (a *App) SessionRefreshHandler(c *gin.Context) {
	s, err := a.Sessions.Refresh(c.Request.Context(), c.Param("sid"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, renderSession(s))
}

// PUT /sessions/:sid/timezone {"timezone": "Europe/Berlin"}
func (a *App) SessionTimezoneHandler(c *gin.Context) {
	s, ok := a.sessionFrom(c)
	if !ok {
		return
	}
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	loc, err := time.LoadLocation(req.Timezone)
	if err != nil || req.Timezone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timezone"})
		return
	}
	s.Machine.ChangeTimezone(loc)
	c.JSON(http.StatusOK, renderSession(s))
}
