package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/airbear/internal/logging"
	"github.com/example/airbear/internal/models"
)

func TestWSFeedDeliversChanges(t *testing.T) {
	gotQuery := make(chan string, 1)
	gotAuth := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery <- r.URL.RawQuery
		gotAuth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		c, _ := models.NewChange(models.TableRides, models.EventUpdate, models.Ride{ID: "r1", Status: models.RideAccepted}, nil)
		_ = conn.WriteJSON(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	feed := NewWSFeed(srv.URL, func() string { return "tok" }, logging.Discard())
	sub, err := feed.Subscribe(context.Background(), Topic{Table: "rides", Filter: "user_id=eq.u1"})
	require.NoError(t, err)

	select {
	case c := <-sub.C():
		assert.Equal(t, "rides", c.Table)
		assert.Equal(t, models.EventUpdate, c.EventType)
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
	}
	assert.Equal(t, "filter=user_id%3Deq.u1&table=rides", <-gotQuery)
	assert.Equal(t, "Bearer tok", <-gotAuth)

	require.NoError(t, sub.Close())
	assert.NoError(t, sub.Close(), "close is idempotent")
	_, open := <-sub.C()
	assert.False(t, open)
}

func TestParseFilter(t *testing.T) {
	col, val, err := ParseFilter("driver_id=eq.d1")
	require.NoError(t, err)
	assert.Equal(t, "driver_id", col)
	assert.Equal(t, "d1", val)

	col, val, err = ParseFilter("")
	require.NoError(t, err)
	assert.Empty(t, col)
	assert.Empty(t, val)

	_, _, err = ParseFilter("driver_id=gt.3")
	assert.Error(t, err)
}
