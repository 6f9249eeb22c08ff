package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/airbear/internal/logging"
	"github.com/example/airbear/internal/models"
	"github.com/example/airbear/internal/session"
)

type fakeSub struct {
	ch     chan models.Change
	mu     sync.Mutex
	closed bool
}

func (s *fakeSub) C() <-chan models.Change { return s.ch }
func (s *fakeSub) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeFeed struct {
	mu     sync.Mutex
	subs   map[string]*fakeSub
	order  []Topic
	failOn string
}

func newFakeFeed() *fakeFeed { return &fakeFeed{subs: map[string]*fakeSub{}} }

func (f *fakeFeed) Subscribe(_ context.Context, topic Topic) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if topic.Table == f.failOn {
		return nil, errors.New("channel error")
	}
	s := &fakeSub{ch: make(chan models.Change, 8)}
	f.subs[topic.Table] = s
	f.order = append(f.order, topic)
	return s, nil
}

func (f *fakeFeed) sub(table string) *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[table]
}

type recorder struct {
	mu          sync.Mutex
	invalidated []string
	notes       []Notification
	sounds      int
	soundErr    error
}

func (r *recorder) Invalidate(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, key)
}

func (r *recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) Play() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sounds++
	return r.soundErr
}

func (r *recorder) snapshot() ([]string, []Notification, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.invalidated...), append([]Notification(nil), r.notes...), r.sounds
}

func newTestTracker(feed Feed, rec *recorder) *Tracker {
	return NewTracker(Options{Feed: feed, Cache: rec, Notifier: rec, Sounder: rec, Log: logging.Discard()})
}

func rideChange(t *testing.T, oldStatus, newStatus models.RideStatus) models.Change {
	t.Helper()
	c, err := models.NewChange(models.TableRides, models.EventUpdate,
		models.Ride{ID: "r1", UserID: "u1", Status: newStatus},
		models.Ride{ID: "r1", UserID: "u1", Status: oldStatus})
	require.NoError(t, err)
	return c
}

func TestTopicsByRole(t *testing.T) {
	user := Topics(models.User{ID: "u1", Role: models.RoleUser})
	assert.Equal(t, []Topic{{Table: "rides", Filter: "user_id=eq.u1"}, {Table: "airbears"}}, user)

	driver := Topics(models.User{ID: "d1", Role: models.RoleDriver})
	assert.Equal(t, "driver_id=eq.d1", driver[0].Filter)
	assert.Len(t, driver, 2)

	admin := Topics(models.User{ID: "a1", Role: models.RoleAdmin})
	require.Len(t, admin, 4)
	assert.Equal(t, "orders", admin[2].Table)
	assert.Equal(t, "payments", admin[3].Table)
}

func TestRideAcceptedNotifiesOnceWithSound(t *testing.T) {
	feed, rec := newFakeFeed(), &recorder{}
	tr := newTestTracker(feed, rec)
	require.NoError(t, tr.Start(context.Background(), models.User{ID: "u1", Role: models.RoleUser}))
	defer tr.Stop()

	feed.sub("rides").ch <- rideChange(t, models.RidePending, models.RideAccepted)

	require.Eventually(t, func() bool {
		_, notes, _ := rec.snapshot()
		return len(notes) == 1
	}, time.Second, 5*time.Millisecond)
	tr.Stop()

	keys, notes, sounds := rec.snapshot()
	assert.Equal(t, "Ride Update", notes[0].Title)
	assert.Equal(t, "Your driver has accepted the ride!", notes[0].Body)
	assert.Equal(t, 1, sounds)
	assert.Contains(t, keys, "/api/rides/user/u1")
	assert.Contains(t, keys, "/api/rides")
}

func TestUnchangedStatusOnlyInvalidates(t *testing.T) {
	feed, rec := newFakeFeed(), &recorder{}
	tr := newTestTracker(feed, rec)
	require.NoError(t, tr.Start(context.Background(), models.User{ID: "u1", Role: models.RoleUser}))

	feed.sub("rides").ch <- rideChange(t, models.RideAccepted, models.RideAccepted)
	require.Eventually(t, func() bool {
		keys, _, _ := rec.snapshot()
		return len(keys) == 2
	}, time.Second, 5*time.Millisecond)
	tr.Stop()

	_, notes, sounds := rec.snapshot()
	assert.Empty(t, notes)
	assert.Zero(t, sounds)
}

func TestSoundFailureIsSwallowed(t *testing.T) {
	feed, rec := newFakeFeed(), &recorder{soundErr: errors.New("autoplay blocked")}
	tr := newTestTracker(feed, rec)
	require.NoError(t, tr.Start(context.Background(), models.User{ID: "u1", Role: models.RoleUser}))

	feed.sub("rides").ch <- rideChange(t, models.RideAccepted, models.RideInProgress)
	feed.sub("rides").ch <- rideChange(t, models.RideInProgress, models.RideCompleted)
	require.Eventually(t, func() bool {
		_, notes, _ := rec.snapshot()
		return len(notes) == 2
	}, time.Second, 5*time.Millisecond)
	tr.Stop()

	_, notes, sounds := rec.snapshot()
	assert.Equal(t, 1, sounds, "only in_progress plays a sound")
	assert.Equal(t, "Your ride is in progress!", notes[0].Body)
	assert.Equal(t, "Ride completed successfully!", notes[1].Body)
}

func TestDriverCopyDiffersFromUserCopy(t *testing.T) {
	for _, s := range []models.RideStatus{models.RidePending, models.RideAccepted, models.RideInProgress, models.RideCompleted, models.RideCancelled} {
		u := StatusMessage(models.RoleUser, s)
		d := StatusMessage(models.RoleDriver, s)
		a := StatusMessage(models.RoleAdmin, s)
		assert.NotEqual(t, u, d, s)
		assert.NotEqual(t, u, a, s)
	}
}

func vehicleChange(t *testing.T, wasAvailable, available, charging bool) models.Change {
	t.Helper()
	c, err := models.NewChange(models.TableAirbears, models.EventUpdate,
		models.Vehicle{ID: "airbear-01", IsAvailable: available, IsCharging: charging},
		models.Vehicle{ID: "airbear-01", IsAvailable: wasAvailable})
	require.NoError(t, err)
	return c
}

func TestDriverAvailableNotifiesUsersOnly(t *testing.T) {
	feed, rec := newFakeFeed(), &recorder{}
	tr := newTestTracker(feed, rec)
	require.NoError(t, tr.Start(context.Background(), models.User{ID: "u1", Role: models.RoleUser}))

	feed.sub("airbears").ch <- vehicleChange(t, true, true, false)  // already available
	feed.sub("airbears").ch <- vehicleChange(t, false, true, true)  // charging
	feed.sub("airbears").ch <- vehicleChange(t, false, true, false) // becomes available
	require.Eventually(t, func() bool {
		keys, _, _ := rec.snapshot()
		return len(keys) == 3
	}, time.Second, 5*time.Millisecond)
	tr.Stop()

	keys, notes, _ := rec.snapshot()
	assert.Equal(t, []string{"/api/rickshaws/available", "/api/rickshaws/available", "/api/rickshaws/available"}, keys)
	require.Len(t, notes, 1)
	assert.Equal(t, "🚗 Driver Available!", notes[0].Title)
	assert.Equal(t, "An AirBear driver is now available in your area", notes[0].Body)

	drivers, drec := newFakeFeed(), &recorder{}
	dt := newTestTracker(drivers, drec)
	require.NoError(t, dt.Start(context.Background(), models.User{ID: "d1", Role: models.RoleDriver}))
	drivers.sub("airbears").ch <- vehicleChange(t, false, true, false)
	require.Eventually(t, func() bool {
		keys, _, _ := drec.snapshot()
		return len(keys) == 1
	}, time.Second, 5*time.Millisecond)
	dt.Stop()
	_, dnotes, _ := drec.snapshot()
	assert.Empty(t, dnotes)
}

func TestAdminTopicsInvalidateAnalytics(t *testing.T) {
	feed, rec := newFakeFeed(), &recorder{}
	tr := newTestTracker(feed, rec)
	require.NoError(t, tr.Start(context.Background(), models.User{ID: "a1", Role: models.RoleAdmin}))

	order, err := models.NewChange(models.TableOrders, models.EventUpdate, models.Order{ID: "o1", Status: models.OrderPaid}, nil)
	require.NoError(t, err)
	pay, err := models.NewChange(models.TablePayments, models.EventInsert, models.Payment{ID: "p1"}, nil)
	require.NoError(t, err)
	feed.sub("orders").ch <- order
	feed.sub("payments").ch <- pay

	require.Eventually(t, func() bool {
		keys, _, _ := rec.snapshot()
		return len(keys) == 3
	}, time.Second, 5*time.Millisecond)
	tr.Stop()
	keys, _, _ := rec.snapshot()
	assert.ElementsMatch(t, []string{"/api/orders", "/api/analytics", "/api/analytics"}, keys)
}

func TestStopClosesEverySubscription(t *testing.T) {
	feed, rec := newFakeFeed(), &recorder{}
	tr := newTestTracker(feed, rec)
	require.NoError(t, tr.Start(context.Background(), models.User{ID: "a1", Role: models.RoleAdmin}))
	tr.Stop()

	for _, table := range []string{"rides", "airbears", "orders", "payments"} {
		assert.True(t, feed.sub(table).isClosed(), table)
	}
	_, tracking := tr.Tracking()
	assert.False(t, tracking)

	feed.sub("rides").ch <- rideChange(t, models.RidePending, models.RideAccepted)
	time.Sleep(20 * time.Millisecond)
	_, notes, _ := rec.snapshot()
	assert.Empty(t, notes, "no handler runs after Stop")
}

func TestStartFailureLeavesNothingOpen(t *testing.T) {
	feed, rec := newFakeFeed(), &recorder{}
	feed.failOn = "airbears"
	tr := newTestTracker(feed, rec)

	err := tr.Start(context.Background(), models.User{ID: "u1", Role: models.RoleUser})
	require.Error(t, err)
	assert.True(t, feed.sub("rides").isClosed())
	_, tracking := tr.Tracking()
	assert.False(t, tracking)
}

func TestFollowSession(t *testing.T) {
	feed, rec := newFakeFeed(), &recorder{}
	tr := newTestTracker(feed, rec)
	watch := make(chan session.Snapshot, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Follow(ctx, watch)
		close(done)
	}()

	user := models.User{ID: "u1", Role: models.RoleUser}
	watch <- session.Snapshot{State: session.Authenticated, User: &user, Role: user.Role}
	require.Eventually(t, func() bool {
		u, ok := tr.Tracking()
		return ok && u.ID == "u1"
	}, time.Second, 5*time.Millisecond)

	watch <- session.Snapshot{State: session.Anonymous, Role: models.RoleUser}
	require.Eventually(t, func() bool {
		_, ok := tr.Tracking()
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.True(t, feed.sub("rides").isClosed())

	watch <- session.Snapshot{State: session.Authenticated, User: &user, Role: user.Role}
	require.Eventually(t, func() bool {
		_, ok := tr.Tracking()
		return ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	_, ok := tr.Tracking()
	assert.False(t, ok, "follow must not leave subscriptions behind")
}

type staticVehicles []models.Vehicle

func (s staticVehicles) AvailableVehicles(context.Context) ([]models.Vehicle, error) { return s, nil }

func TestNearbyDriversDefaultRadius(t *testing.T) {
	lat, lng := 42.0987, -75.9180
	far1, far2 := 42.6, -75.0
	tr := NewTracker(Options{
		Vehicles: staticVehicles{
			{ID: "near", IsAvailable: true, CurrentLat: &lat, CurrentLng: &lng},
			{ID: "far", IsAvailable: true, CurrentLat: &far1, CurrentLng: &far2},
		},
		RadiusKm: 5,
		Log:      logging.Discard(),
	})

	got, err := tr.NearbyDrivers(context.Background(), lat, lng, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "near", got[0].ID)
	assert.InDelta(t, 0, got[0].DistanceKm, 1e-9)

	wide, err := tr.NearbyDrivers(context.Background(), lat, lng, 200)
	require.NoError(t, err)
	assert.Len(t, wide, 2)
}
