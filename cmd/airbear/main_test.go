package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpapi "github.com/example/airbear/internal/http"

	"github.com/example/airbear/internal/geo"
	"github.com/example/airbear/internal/logging"
	"github.com/example/airbear/internal/models"
	"github.com/example/airbear/internal/storage"
)

func newAPI(t *testing.T) (*httptest.Server, *storage.MemoryStore) {
	t.Helper()
	t.Setenv("AIRBEAR_SESSION_FILE", filepath.Join(t.TempDir(), "session.json"))
	store := storage.NewMemoryStore()
	require.NoError(t, storage.SeedDemo(context.Background(), store, geo.DefaultTable(), 4))
	srv := httpapi.NewServer(httpapi.Deps{Store: store, Logger: logging.Discard()})
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		srv.Hub().Close()
	})
	return ts, store
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, a := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.ExecuteContext(context.Background())
	require.NoError(t, a.close())
	return out.String(), err
}

func TestSpotsAndQuote(t *testing.T) {
	ts, _ := newAPI(t)
	out, err := execute(t, "spots", "--api", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "court-street")
	assert.Contains(t, out, "Oakdale Mall")

	out, err = execute(t, "quote", "court-street", "oakdale-mall", "--api", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "court-street -> oakdale-mall: $")

	_, err = execute(t, "quote", "court-street", "mars", "--api", ts.URL)
	assert.Error(t, err)
}

func TestBookRequiresUser(t *testing.T) {
	ts, _ := newAPI(t)
	_, err := execute(t, "book", "court-street", "oakdale-mall", "--api", ts.URL)
	assert.ErrorIs(t, err, errSignIn)
}

func TestBookCreatesRide(t *testing.T) {
	ts, store := newAPI(t)
	out, err := execute(t, "book", "court-street", "oakdale-mall", "--api", ts.URL, "--user", "u9")
	require.NoError(t, err)
	assert.Contains(t, out, "Estimated fare $")
	assert.Contains(t, out, "requested, fare $")

	rides, err := store.RidesByUser(context.Background(), "u9")
	require.NoError(t, err)
	require.Len(t, rides, 1)
	assert.Equal(t, models.RidePending, rides[0].Status)

	_, err = execute(t, "book", "court-street", "court-street", "--api", ts.URL, "--user", "u9")
	assert.Error(t, err, "same pickup and destination is rejected before any request")
}

func TestCheckoutPlacesOrderAndPrintsURL(t *testing.T) {
	ts, store := newAPI(t)
	out, err := execute(t, "checkout", "--item", "cold-brew:2", "--item", "trail-mix", "--api", ts.URL, "--user", "u9")
	require.NoError(t, err)
	assert.Contains(t, out, "total $12.25")
	assert.Contains(t, out, "Complete payment at:")
	assert.Contains(t, out, "session_id=cs_mock_")

	orders, err := store.OrdersByUser(context.Background(), "u9")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.NotEmpty(t, orders[0].StripeSessionID)

	_, err = execute(t, "checkout", "--item", "sunscreen", "--api", ts.URL, "--user", "u9")
	assert.Error(t, err)
}

func TestParseItem(t *testing.T) {
	id, qty, err := parseItem("cold-brew:3")
	require.NoError(t, err)
	assert.Equal(t, "cold-brew", id)
	assert.Equal(t, 3, qty)

	id, qty, err = parseItem("trail-mix")
	require.NoError(t, err)
	assert.Equal(t, "trail-mix", id)
	assert.Equal(t, 1, qty)

	_, _, err = parseItem("cold-brew:0")
	assert.Error(t, err)
	_, _, err = parseItem(":2")
	assert.Error(t, err)
}

func TestSessionFileRoundTrip(t *testing.T) {
	t.Setenv("AIRBEAR_SESSION_FILE", filepath.Join(t.TempDir(), "nested", "session.json"))
	got, err := loadSession()
	require.NoError(t, err)
	assert.Nil(t, got)

	s := &models.AuthSession{AccessToken: "tok", User: models.User{ID: "u1", Role: models.RoleDriver}}
	require.NoError(t, saveSession(s))
	got, err = loadSession()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.User.ID)

	require.NoError(t, saveSession(nil))
	got, err = loadSession()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWhoamiAnonymous(t *testing.T) {
	ts, _ := newAPI(t)
	out, err := execute(t, "whoami", "--api", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Not signed in")
}
