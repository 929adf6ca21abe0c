package busy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

type memTokens struct {
	tokens map[string]*oauth2.Token
	saved  int
}

func (m *memTokens) GetToken(_ context.Context, hostID string) (*oauth2.Token, error) {
	return m.tokens[hostID], nil
}

func (m *memTokens) SaveToken(_ context.Context, hostID string, tok *oauth2.Token) error {
	m.tokens[hostID] = tok
	m.saved++
	return nil
}

func TestGoogleSource_FreeBusy(t *testing.T) {
	var gotAuth string
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"kind": "calendar#freeBusy",
			"calendars": {"primary": {"busy": [
				{"start": "2026-10-19T14:00:00Z", "end": "2026-10-19T15:00:00Z"},
				{"start": "2026-10-19T10:00:00+02:00", "end": "2026-10-19T11:00:00+02:00"},
				{"start": "garbage", "end": "2026-10-19T11:00:00Z"}
			]}}
		}`))
	}))
	defer srv.Close()

	tokens := &memTokens{tokens: map[string]*oauth2.Token{"host-1": {AccessToken: "tok-1", TokenType: "Bearer"}}}
	src := NewGoogleSource(&oauth2.Config{}, tokens, nil, option.WithEndpoint(srv.URL+"/"))

	got, err := src.Busy(context.Background(), "host-1", at(0, 0), at(23, 0))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, at(8, 0), got[0].Start)
	assert.Equal(t, at(14, 0), got[1].Start)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "2026-10-19T00:00:00Z", gotReq["timeMin"])
	assert.Equal(t, 0, tokens.saved)
}

func TestGoogleSource_NoToken(t *testing.T) {
	src := NewGoogleSource(&oauth2.Config{}, &memTokens{tokens: map[string]*oauth2.Token{}}, nil)
	got, err := src.Busy(context.Background(), "host-1", at(0, 0), at(23, 0))
	require.NoError(t, err)
	assert.Empty(t, got)
}

type failingTokens struct{}

func (failingTokens) GetToken(context.Context, string) (*oauth2.Token, error) {
	return nil, errors.New("db down")
}
func (failingTokens) SaveToken(context.Context, string, *oauth2.Token) error { return nil }

func TestGoogleSource_TokenStoreError(t *testing.T) {
	_, err := NewGoogleSource(&oauth2.Config{}, failingTokens{}, nil).Busy(context.Background(), "host-1", at(0, 0), at(23, 0))
	assert.Error(t, err)
}
