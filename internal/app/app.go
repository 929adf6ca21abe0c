package app

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

type App struct {
	Store    Store
	Bookings *BookingService
	Sessions *SessionManager
	// Calendar is nil when Google OAuth2 is not configured.
	Calendar *oauth2.Config
	// Ping reports backing store health for /healthz.
	Ping func(ctx context.Context) error
	Log  *zap.Logger
}

// Register mounts every route. Host routes sit behind auth; guest routes are public.
func (a *App) Register(router *gin.Engine, auth gin.HandlerFunc) {
	router.GET("/healthz", a.HealthHandler)
	// OAuth2 callback (must be outside auth)
	router.GET("/oauth2callback", a.GoogleOAuth2CallbackHandler)

	book := router.Group("/book/:user_id/:event_id")
	{
		book.GET("/slots", a.GetSlotsHandler)
		book.POST("/bookings", a.CreateBookingHandler)
		book.POST("/sessions", a.CreateSessionHandler)
	}

	sessions := router.Group("/sessions/:sid")
	{
		sessions.GET("", a.GetSessionHandler)
		sessions.POST("/week", a.SessionWeekHandler)
		sessions.POST("/date", a.SessionDateHandler)
		sessions.POST("/page", a.SessionPageHandler)
		sessions.POST("/time", a.SessionTimeHandler)
		sessions.POST("/cancel", a.SessionCancelHandler)
		sessions.POST("/submit", a.SessionSubmitHandler)
		sessions.POST("/refresh", a.SessionRefreshHandler)
		sessions.PUT("/timezone", a.SessionTimezoneHandler)
	}

	api := router.Group("/api", auth)
	{
		users := api.Group("/users/:id")
		{
			users.PUT("/schedule", a.PutScheduleHandler)
			users.GET("/schedule", a.GetScheduleHandler)
			users.POST("/events", a.CreateEventHandler)
			users.GET("/events", a.ListEventsHandler)
			users.PUT("/events/:event_id", a.UpdateEventHandler)
			users.POST("/feeds", a.CreateFeedHandler)
			users.GET("/feeds", a.ListFeedsHandler)
			users.GET("/bookings", a.ListBookingsHandler)
			users.GET("/busy", a.BusyHandler)
		}
		api.DELETE("/bookings/:id", a.CancelBookingHandler)

		calendar := api.Group("/calendar")
		{
			calendar.GET("/auth", a.GoogleAuthHandler)
			calendar.GET("/calendars", a.GetGoogleCalendarList)
		}
	}
}
