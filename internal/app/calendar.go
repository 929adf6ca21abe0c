package app

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// NewGoogleOAuthConfig builds the read-only calendar OAuth2 client, or nil
// when any credential is missing.
func NewGoogleOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	if clientID == "" || clientSecret == "" || redirectURL == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			calendar.CalendarReadonlyScope,
		},
		Endpoint: google.Endpoint,
	}
}

// oauthState binds the callback to a host id: "<host>.<unix>.<mac>".
func (a *App) oauthState(hostID string, now time.Time) string {
	payload := fmt.Sprintf("%s.%d", hostID, now.Unix())
	return payload + "." + a.stateMAC(payload)
}

func (a *App) stateMAC(payload string) string {
	mac := hmac.New(sha256.New, []byte(a.Calendar.ClientSecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))[:32]
}

func (a *App) hostFromState(state string) (string, bool) {
	i := strings.LastIndexByte(state, '.')
	if i < 0 {
		return "", false
	}
	payload, sig := state[:i], state[i+1:]
	if !hmac.Equal([]byte(sig), []byte(a.stateMAC(payload))) {
		return "", false
	}
	j := strings.LastIndexByte(payload, '.')
	if j <= 0 {
		return "", false
	}
	return payload[:j], true
}

// GET /api/calendar/auth?user_id=
func (a *App) GoogleAuthHandler(c *gin.Context) {
	if !allowHost(c, c.Query("user_id")) {
		return
	}
	if a.Calendar == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Google Calendar not configured"})
		return
	}
	hostID := c.Query("user_id")
	if hostID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	state := a.oauthState(hostID, a.Bookings.now())
	c.JSON(http.StatusOK, gin.H{
		"auth_url": a.Calendar.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce),
		"state":    state,
	})
}

// GET /oauth2callback
func (a *App) GoogleOAuth2CallbackHandler(c *gin.Context) {
	if a.Calendar == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Google Calendar not configured"})
		return
	}
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "authorization code required"})
		return
	}
	hostID, ok := a.hostFromState(c.Query("state"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state"})
		return
	}

	ctx := c.Request.Context()
	token, err := a.Calendar.Exchange(ctx, code)
	if err != nil {
		a.Log.Warn("oauth code exchange failed", zap.String("host_id", hostID), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to exchange code for token"})
		return
	}
	if err := a.Store.SaveToken(ctx, hostID, token); err != nil {
		a.writeError(c, err)
		return
	}
	a.Log.Info("google calendar connected", zap.String("host_id", hostID))
	c.JSON(http.StatusOK, gin.H{"message": "Authorization successful", "user_id": hostID})
}

// GET /api/calendar/calendars?user_id=
func (a *App) GetGoogleCalendarList(c *gin.Context) {
	if !allowHost(c, c.Query("user_id")) {
		return
	}
	if a.Calendar == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Google Calendar not configured"})
		return
	}
	hostID := c.Query("user_id")
	ctx := c.Request.Context()
	token, err := a.Store.GetToken(ctx, hostID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	if token == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "calendar not connected"})
		return
	}

	srv, err := calendar.NewService(ctx, option.WithHTTPClient(a.Calendar.Client(ctx, token)))
	if err != nil {
		a.writeError(c, fmt.Errorf("create calendar service: %w", err))
		return
	}
	calendarList, err := srv.CalendarList.List().Context(ctx).Do()
	if err != nil {
		a.writeError(c, fmt.Errorf("%w: list calendars: %w", ErrBusyUnavailable, err))
		return
	}

	type CalendarInfo struct {
		ID          string `json:"id"`
		Summary     string `json:"summary"`
		Description string `json:"description,omitempty"`
		Primary     bool   `json:"primary"`
		AccessRole  string `json:"access_role"`
	}
	calendars := make([]CalendarInfo, 0, len(calendarList.Items))
	for _, item := range calendarList.Items {
		calendars = append(calendars, CalendarInfo{
			ID:          item.Id,
			Summary:     item.Summary,
			Description: item.Description,
			Primary:     item.Primary,
			AccessRole:  item.AccessRole,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"calendars": calendars,
		"count":     len(calendars),
	})
}
