package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/airbear/internal/config"
	"github.com/example/airbear/internal/logging"
	"github.com/example/airbear/internal/models"
)

type gotrue struct {
	t          *testing.T
	signupBody map[string]any
	loggedOut  string
	confirm    bool
}

func (g *gotrue) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("apikey") != "anon-key" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"No API key found in request"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	session := `{"access_token":"at-1","refresh_token":"rt-1","expires_in":3600,
		"user":{"id":"u1","email":"bear@airbear.me","app_metadata":{"role":"driver"},"user_metadata":{}}}`
	switch {
	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "password":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "hunter2" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
			return
		}
		_, _ = w.Write([]byte(session))
	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "refresh_token":
		_, _ = w.Write([]byte(`{"access_token":"at-2","refresh_token":"rt-2","expires_in":3600,"user":{"id":"u1","email":"bear@airbear.me"}}`))
	case r.URL.Path == "/auth/v1/signup":
		_ = json.NewDecoder(r.Body).Decode(&g.signupBody)
		if g.confirm {
			_, _ = w.Write([]byte(`{"id":"u9","email":"new@airbear.me"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"at-9","expires_in":3600,"user":{"id":"u9","email":"new@airbear.me","user_metadata":{"role":"driver"}}}`))
	case r.URL.Path == "/auth/v1/logout":
		g.loggedOut = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	case r.URL.Path == "/auth/v1/user":
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"msg":"invalid JWT"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"u1","email":"bear@airbear.me","app_metadata":{"role":"admin"}}`))
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, g *gotrue) *AuthClient {
	t.Helper()
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return NewAuthClient(config.SupabaseConfig{URL: srv.URL + "/", AnonKey: "anon-key"}, srv.Client(), logging.Discard())
}

func TestSignInStoresSessionAndEmits(t *testing.T) {
	c := newTestClient(t, &gotrue{t: t})
	ctx := context.Background()

	s, err := c.SignIn(ctx, "bear@airbear.me", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "at-1", s.AccessToken)
	assert.Equal(t, models.RoleDriver, s.User.Role)
	assert.WithinDuration(t, time.Now().Add(time.Hour), s.ExpiresAt, 5*time.Second)

	ev := <-c.Changes()
	require.NotNil(t, ev.Session)
	assert.Equal(t, "u1", ev.Session.User.ID)

	cur, err := c.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "at-1", cur.AccessToken)
}

func TestSignInBadPassword(t *testing.T) {
	c := newTestClient(t, &gotrue{t: t})
	_, err := c.SignIn(context.Background(), "bear@airbear.me", "wrong")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Invalid login credentials", apiErr.Message)
}

func TestSignUpSendsRoleInUserMetadata(t *testing.T) {
	g := &gotrue{t: t}
	c := newTestClient(t, g)

	s, err := c.SignUp(context.Background(), "new@airbear.me", "pw", models.RoleDriver)
	require.NoError(t, err)
	assert.Equal(t, models.RoleDriver, s.User.Role)
	data, _ := g.signupBody["data"].(map[string]any)
	assert.Equal(t, "driver", data["role"])
}

func TestSignUpNeedingConfirmation(t *testing.T) {
	c := newTestClient(t, &gotrue{t: t, confirm: true})
	_, err := c.SignUp(context.Background(), "new@airbear.me", "pw", models.RoleUser)
	assert.ErrorIs(t, err, ErrConfirmationRequired)
}

func TestSignOutClearsEvenOnSuccess(t *testing.T) {
	g := &gotrue{t: t}
	c := newTestClient(t, g)
	ctx := context.Background()
	_, err := c.SignIn(ctx, "bear@airbear.me", "hunter2")
	require.NoError(t, err)

	require.NoError(t, c.SignOut(ctx))
	assert.Equal(t, "Bearer at-1", g.loggedOut)
	cur, err := c.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)

	ev := <-c.Changes()
	assert.Nil(t, ev.Session, "only the latest change is kept")
}

func TestExpiredSessionRefreshes(t *testing.T) {
	c := newTestClient(t, &gotrue{t: t})
	c.Restore(&models.AuthSession{AccessToken: "old", RefreshToken: "rt-1", ExpiresAt: time.Now().Add(-time.Minute)})

	cur, err := c.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-2", cur.AccessToken)
}

func TestGetUser(t *testing.T) {
	c := newTestClient(t, &gotrue{t: t})
	u, err := c.GetUser(context.Background(), "at-1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, u.Role)

	_, err = c.GetUser(context.Background(), "bogus")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid JWT", apiErr.Message)
}

func TestMockModeIsInert(t *testing.T) {
	c := NewAuthClient(config.SupabaseConfig{URL: "https://mock.supabase.local", AnonKey: "x"}, nil, logging.Discard())
	assert.False(t, c.Enabled())

	_, err := c.SignIn(context.Background(), "a", "b")
	assert.ErrorIs(t, err, ErrNotConfigured)
	s, err := c.CurrentSession(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, s)
	assert.NoError(t, c.SignOut(context.Background()))
}
