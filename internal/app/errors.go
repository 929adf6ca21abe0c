package app

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"availability-service/internal/availability"
	"availability-service/internal/selection"
	"availability-service/internal/slots"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrEventNotFound    = errors.New("event not found or inactive")
	ErrSlotTaken        = errors.New("slot already booked")
	ErrSlotUnavailable  = errors.New("slot not available")
	ErrAlreadyCancelled = errors.New("booking already cancelled")
	ErrBusyUnavailable  = errors.New("busy calendar unavailable")
	ErrSessionNotFound  = errors.New("session not found or expired")
	ErrBadRequest       = errors.New("bad request")
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, selection.ErrInvalidDirection):
		return http.StatusBadRequest
	case errors.Is(err, slots.ErrInvalidEvent),
		errors.Is(err, slots.ErrInvalidGrid),
		errors.Is(err, availability.ErrInvalidSchedule),
		errors.Is(err, availability.ErrInvalidWindow),
		errors.Is(err, availability.ErrInvalidTime):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrEventNotFound),
		errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSlotTaken),
		errors.Is(err, ErrSlotUnavailable),
		errors.Is(err, ErrAlreadyCancelled),
		errors.Is(err, selection.ErrSubmitInFlight),
		errors.Is(err, selection.ErrNotConfirming):
		return http.StatusConflict
	case errors.Is(err, ErrBusyUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError maps domain errors to a status and writes {"error": ...}.
func (a *App) writeError(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		a.Log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
