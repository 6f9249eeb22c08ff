package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/example/airbear/internal/geo"
	"github.com/example/airbear/internal/models"
	"github.com/example/airbear/internal/session"
)

// Invalidator marks cached query results stale. The tracker never writes
// data into the cache.
type Invalidator interface {
	Invalidate(key string)
}

type Notification struct {
	Title string
	Body  string
}

type Notifier interface {
	Notify(n Notification)
}

// Sounder plays the short alert for important ride updates.
type Sounder interface {
	Play() error
}

// VehicleSource lists vehicles that are available and not charging.
type VehicleSource interface {
	AvailableVehicles(ctx context.Context) ([]models.Vehicle, error)
}

// Query cache keys, matching the API paths they cache.
const (
	KeyRides       = "/api/rides"
	KeyRidesByUser = "/api/rides/user/"
	KeyAvailable   = "/api/rickshaws/available"
	KeyOrders      = "/api/orders"
	KeyAnalytics   = "/api/analytics"
)

const (
	rideUpdateTitle  = "Ride Update"
	driverAvailTitle = "🚗 Driver Available!"
	driverAvailBody  = "An AirBear driver is now available in your area"
	inboxSize        = 64
	defaultRadiusKm  = 5.0
)

var userCopy = map[models.RideStatus]string{
	models.RidePending:    "Your ride request has been received!",
	models.RideAccepted:   "Your driver has accepted the ride!",
	models.RideInProgress: "Your ride is in progress!",
	models.RideCompleted:  "Ride completed successfully!",
	models.RideCancelled:  "Ride has been cancelled.",
}

var driverCopy = map[models.RideStatus]string{
	models.RidePending:    "New ride request waiting for you.",
	models.RideAccepted:   "Ride accepted. Head to the pickup spot.",
	models.RideInProgress: "Passenger on board. Ride started.",
	models.RideCompleted:  "Ride complete. Nice driving!",
	models.RideCancelled:  "The passenger cancelled this ride.",
}

var adminCopy = map[models.RideStatus]string{
	models.RidePending:    "A ride was requested.",
	models.RideAccepted:   "A ride was accepted by its driver.",
	models.RideInProgress: "A ride is under way.",
	models.RideCompleted:  "A ride was completed.",
	models.RideCancelled:  "A ride was cancelled.",
}

// StatusMessage is the notification body a role sees for a ride status.
func StatusMessage(role models.Role, s models.RideStatus) string {
	table := userCopy
	switch role {
	case models.RoleDriver:
		table = driverCopy
	case models.RoleAdmin:
		table = adminCopy
	}
	if msg, ok := table[s]; ok {
		return msg
	}
	return "Ride status updated"
}

type Options struct {
	Feed     Feed
	Cache    Invalidator
	Notifier Notifier
	Sounder  Sounder
	Vehicles VehicleSource
	Spots    *geo.Table
	// RadiusKm is used by NearbyDrivers when the caller passes <= 0.
	RadiusKm float64
	Log      *slog.Logger
}

// Tracker keeps the live subscriptions for one signed-in user. Every
// subscription forwards into a single inbox drained by one dispatcher
// goroutine, so handlers never run concurrently.
type Tracker struct {
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	user    *models.User
	subs    []Subscription
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

func NewTracker(opts Options) *Tracker {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Spots == nil {
		opts.Spots = geo.DefaultTable()
	}
	if opts.RadiusKm <= 0 {
		opts.RadiusKm = defaultRadiusKm
	}
	return &Tracker{opts: opts, log: opts.Log}
}

// Topics lists what a user of the given role watches.
func Topics(u models.User) []Topic {
	rides := Topic{Table: models.TableRides, Filter: EqFilter("user_id", u.ID)}
	if u.Role.IsDriver() {
		rides.Filter = EqFilter("driver_id", u.ID)
	}
	out := []Topic{rides, {Table: models.TableAirbears}}
	if u.Role.IsAdmin() {
		out = append(out, Topic{Table: models.TableOrders}, Topic{Table: models.TablePayments})
	}
	return out
}

// Start subscribes for u, replacing any previous user's subscriptions. It is
// a no-op when already tracking the same user and role.
func (t *Tracker) Start(ctx context.Context, u models.User) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.user != nil && t.user.ID == u.ID && t.user.Role == u.Role {
		return nil
	}
	t.stopLocked()

	runCtx, cancel := context.WithCancel(ctx)
	var subs []Subscription
	for _, topic := range Topics(u) {
		sub, err := t.opts.Feed.Subscribe(runCtx, topic)
		if err != nil {
			cancel()
			for _, s := range subs {
				_ = s.Close()
			}
			return err
		}
		subs = append(subs, sub)
	}

	inbox := make(chan models.Change, inboxSize)
	for _, sub := range subs {
		t.workers.Add(1)
		go t.forward(runCtx, sub, inbox)
	}
	user := u
	t.workers.Add(1)
	go t.dispatch(runCtx, user, inbox)

	t.user, t.subs, t.cancel = &user, subs, cancel
	t.log.Info("tracking started", "user_id", u.ID, "role", u.Role, "topics", len(subs))
	return nil
}

// Stop closes every subscription and waits for the dispatcher to exit.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Tracker) stopLocked() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	for _, s := range t.subs {
		if err := s.Close(); err != nil {
			t.log.Debug("close subscription", "error", err)
		}
	}
	t.workers.Wait()
	t.log.Info("tracking stopped", "user_id", t.user.ID)
	t.user, t.subs, t.cancel = nil, nil, nil
}

// Tracking reports the user currently tracked, if any.
func (t *Tracker) Tracking() (models.User, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.user == nil {
		return models.User{}, false
	}
	return *t.user, true
}

// Follow starts tracking when the session becomes authenticated and stops on
// sign-out. It returns when ctx ends or the watch channel closes, leaving
// nothing subscribed.
func (t *Tracker) Follow(ctx context.Context, watch <-chan session.Snapshot) {
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-watch:
			if !ok {
				return
			}
			switch snap.State {
			case session.Authenticated:
				if snap.User == nil {
					continue
				}
				if err := t.Start(ctx, *snap.User); err != nil {
					t.log.Warn("start tracking failed", "error", err)
				}
			case session.Anonymous:
				t.Stop()
			}
		}
	}
}

func (t *Tracker) forward(ctx context.Context, sub Subscription, inbox chan<- models.Change) {
	defer t.workers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub.C():
			if !ok {
				return
			}
			select {
			case inbox <- c:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (t *Tracker) dispatch(ctx context.Context, u models.User, inbox <-chan models.Change) {
	defer t.workers.Done()
	// vehicle bookability as last seen, for records without an old image
	seen := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-inbox:
			t.handle(u, c, seen)
		}
	}
}

type rideRecord struct {
	ID     string            `json:"id"`
	Status models.RideStatus `json:"status"`
}

type vehicleRecord struct {
	ID          string `json:"id"`
	IsAvailable *bool  `json:"is_available"`
	IsCharging  *bool  `json:"is_charging"`
}

func (v vehicleRecord) bookable() (bool, bool) {
	if v.IsAvailable == nil {
		return false, false
	}
	charging := v.IsCharging != nil && *v.IsCharging
	return *v.IsAvailable && !charging, true
}

func (t *Tracker) handle(u models.User, c models.Change, seen map[string]bool) {
	switch c.Table {
	case models.TableRides:
		t.invalidate(KeyRides, KeyRidesByUser+u.ID)
		if c.EventType != models.EventUpdate {
			return
		}
		var oldR, newR rideRecord
		if err := decode(c.New, &newR); err != nil {
			t.log.Debug("undecodable ride change", "error", err)
			return
		}
		_ = decode(c.Old, &oldR)
		if newR.Status == "" || newR.Status == oldR.Status {
			return
		}
		t.notify(Notification{Title: rideUpdateTitle, Body: StatusMessage(u.Role, newR.Status)})
		if newR.Status == models.RideAccepted || newR.Status == models.RideInProgress {
			t.playSound()
		}

	case models.TableAirbears:
		t.invalidate(KeyAvailable)
		var newV, oldV vehicleRecord
		if err := decode(c.New, &newV); err != nil || newV.ID == "" {
			return
		}
		now, ok := newV.bookable()
		if !ok {
			return
		}
		_ = decode(c.Old, &oldV)
		was, known := oldV.bookable()
		if !known {
			was, known = seen[newV.ID]
		}
		seen[newV.ID] = now
		if now && known && !was && u.Role == models.RoleUser {
			t.notify(Notification{Title: driverAvailTitle, Body: driverAvailBody})
		}

	case models.TableOrders:
		t.invalidate(KeyOrders, KeyAnalytics)

	case models.TablePayments:
		t.invalidate(KeyAnalytics)
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("empty record")
	}
	return json.Unmarshal(raw, v)
}

func (t *Tracker) invalidate(keys ...string) {
	if t.opts.Cache == nil {
		return
	}
	for _, k := range keys {
		t.opts.Cache.Invalidate(k)
	}
}

func (t *Tracker) notify(n Notification) {
	if t.opts.Notifier != nil {
		t.opts.Notifier.Notify(n)
	}
}

// playSound is best-effort; failures are logged and dropped.
func (t *Tracker) playSound() {
	if t.opts.Sounder == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.log.Debug("notification sound panicked", "panic", r)
		}
	}()
	if err := t.opts.Sounder.Play(); err != nil {
		t.log.Debug("could not play notification sound", "error", err)
	}
}

// NearbyDrivers fetches bookable vehicles and keeps those within radiusKm of
// the given point. A non-positive radius uses the configured default.
func (t *Tracker) NearbyDrivers(ctx context.Context, lat, lon, radiusKm float64) ([]models.NearbyVehicle, error) {
	if radiusKm <= 0 {
		radiusKm = t.opts.RadiusKm
	}
	vs, err := t.opts.Vehicles.AvailableVehicles(ctx)
	if err != nil {
		return nil, err
	}
	return geo.Nearby(vs, t.opts.Spots, lat, lon, radiusKm), nil
}
