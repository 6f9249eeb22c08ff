package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/airbear/internal/fare"
	"github.com/example/airbear/internal/geo"
	"github.com/example/airbear/internal/models"
)

var (
	ErrValidation = errors.New("invalid booking")
	ErrBusy       = errors.New("booking already submitting")
	ErrBooked     = errors.New("ride already booked; change a spot or reset to book again")
)

type Stage int

const (
	SelectingPickup Stage = iota
	SelectingDestination
	ReviewingFare
	Submitting
	Booked
	Failed
)

func (s Stage) String() string {
	switch s {
	case SelectingPickup:
		return "selecting-pickup"
	case SelectingDestination:
		return "selecting-destination"
	case ReviewingFare:
		return "reviewing-fare"
	case Submitting:
		return "submitting"
	case Booked:
		return "booked"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// RideCreator submits a ride request to the backend.
type RideCreator interface {
	CreateRide(ctx context.Context, req models.RideRequest) (models.Ride, error)
}

// State is a copy of the flow's current position.
type State struct {
	Stage       Stage
	Pickup      string
	Destination string
	Quote       *models.Quote
	Ride        *models.Ride
	Err         string
}

// Flow walks one user through picking spots, reviewing the estimate and
// submitting. After Booked, status changes come from the realtime tracker;
// the flow never polls.
type Flow struct {
	spots    *geo.Table
	est      fare.Estimator
	creator  RideCreator
	userID   string
	onChange func(State)
	log      *slog.Logger

	mu    sync.Mutex
	state State
}

type Option func(*Flow)

// OnChange is called after every stage change, including the transient
// Failed stage that precedes the return to ReviewingFare.
func OnChange(fn func(State)) Option { return func(f *Flow) { f.onChange = fn } }

func WithLogger(l *slog.Logger) Option { return func(f *Flow) { f.log = l } }

func New(spots *geo.Table, est fare.Estimator, creator RideCreator, userID string, opts ...Option) *Flow {
	f := &Flow{spots: spots, est: est, creator: creator, userID: userID, log: slog.Default()}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) activeSpot(id string) error {
	s, ok := f.spots.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: unknown spot %q", ErrValidation, id)
	}
	if !s.IsActive {
		return fmt.Errorf("%w: %s is not in service", ErrValidation, s.Name)
	}
	return nil
}

// SelectPickup sets the pickup spot. Changing it after a booking starts a
// new attempt.
func (f *Flow) SelectPickup(id string) error {
	if err := f.activeSpot(id); err != nil {
		return err
	}
	f.mu.Lock()
	if f.state.Stage == Submitting {
		f.mu.Unlock()
		return ErrBusy
	}
	f.state.Pickup = id
	f.resetOutcomeLocked()
	s := f.advanceLocked()
	f.mu.Unlock()
	f.emit(s)
	return nil
}

func (f *Flow) SelectDestination(id string) error {
	if err := f.activeSpot(id); err != nil {
		return err
	}
	f.mu.Lock()
	if f.state.Stage == Submitting {
		f.mu.Unlock()
		return ErrBusy
	}
	f.state.Destination = id
	f.resetOutcomeLocked()
	s := f.advanceLocked()
	f.mu.Unlock()
	f.emit(s)
	return nil
}

func (f *Flow) resetOutcomeLocked() {
	f.state.Ride = nil
	f.state.Err = ""
}

// advanceLocked recomputes the stage and quote from the current selection.
func (f *Flow) advanceLocked() State {
	f.state.Quote = nil
	switch {
	case f.state.Pickup == "":
		f.state.Stage = SelectingPickup
	case f.state.Destination == "":
		f.state.Stage = SelectingDestination
	default:
		f.state.Stage = ReviewingFare
		if f.state.Pickup != f.state.Destination {
			if q, err := f.est.Quote(f.spots, f.state.Pickup, f.state.Destination); err == nil {
				f.state.Quote = &q
			}
		}
	}
	return f.state
}

func (f *Flow) validateLocked() error {
	switch {
	case f.userID == "":
		return fmt.Errorf("%w: sign in to book a ride", ErrValidation)
	case f.state.Pickup == "":
		return fmt.Errorf("%w: choose a pickup spot", ErrValidation)
	case f.state.Destination == "":
		return fmt.Errorf("%w: choose a destination", ErrValidation)
	case f.state.Pickup == f.state.Destination:
		return fmt.Errorf("%w: pickup and destination must differ", ErrValidation)
	}
	return nil
}

// Submit sends the ride request. Validation failures never reach the
// network. Once Booked, a new selection or Reset is needed before another
// ride can be requested. A backend failure returns the flow to ReviewingFare with the
// error message kept in State().Err.
func (f *Flow) Submit(ctx context.Context) (models.Ride, error) {
	f.mu.Lock()
	switch f.state.Stage {
	case Submitting:
		f.mu.Unlock()
		return models.Ride{}, ErrBusy
	case Booked:
		f.mu.Unlock()
		return models.Ride{}, ErrBooked
	}
	if err := f.validateLocked(); err != nil {
		f.state.Err = err.Error()
		f.mu.Unlock()
		return models.Ride{}, err
	}
	req := models.RideRequest{UserID: f.userID, PickupSpotID: f.state.Pickup, DestinationSpotID: f.state.Destination}
	f.state.Stage = Submitting
	f.state.Err = ""
	submitting := f.state
	f.mu.Unlock()
	f.emit(submitting)

	ride, err := f.creator.CreateRide(ctx, req)

	f.mu.Lock()
	if err != nil {
		f.state.Stage = Failed
		f.state.Err = err.Error()
		failed := f.state
		f.state.Stage = ReviewingFare
		back := f.state
		f.mu.Unlock()
		f.log.Warn("ride request failed", "pickup", req.PickupSpotID, "destination", req.DestinationSpotID, "error", err)
		f.emit(failed)
		f.emit(back)
		return models.Ride{}, fmt.Errorf("request ride: %w", err)
	}
	f.state.Stage = Booked
	f.state.Ride = &ride
	booked := f.state
	f.mu.Unlock()
	f.emit(booked)
	return ride, nil
}

// Reset clears the selection for a new attempt.
func (f *Flow) Reset() {
	f.mu.Lock()
	f.state = State{}
	s := f.state
	f.mu.Unlock()
	f.emit(s)
}

func (f *Flow) emit(s State) {
	if f.onChange != nil {
		f.onChange(s)
	}
}
