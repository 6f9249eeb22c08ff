package models

import (
	"errors"
	"fmt"
	"time"
)

type RideStatus string

const (
	RidePending    RideStatus = "pending"
	RideAccepted   RideStatus = "accepted"
	RideInProgress RideStatus = "in_progress"
	RideCompleted  RideStatus = "completed"
	RideCancelled  RideStatus = "cancelled"
)

var ErrInvalidTransition = errors.New("invalid ride status transition")

// rank orders the forward path; cancelled sits outside it.
var rank = map[RideStatus]int{
	RidePending:    0,
	RideAccepted:   1,
	RideInProgress: 2,
	RideCompleted:  3,
}

func (s RideStatus) Valid() bool {
	if s == RideCancelled {
		return true
	}
	_, ok := rank[s]
	return ok
}

func (s RideStatus) Terminal() bool { return s == RideCompleted || s == RideCancelled }

// CanTransition reports whether a ride may move from s to next. Only single
// forward steps are allowed, plus cancellation from any non-terminal state.
func (s RideStatus) CanTransition(next RideStatus) bool {
	if !s.Valid() || s.Terminal() || !next.Valid() {
		return false
	}
	if next == RideCancelled {
		return true
	}
	return rank[next] == rank[s]+1
}

// Transition moves the ride to next and stamps the matching timestamp.
// Timestamps already set are never overwritten.
func (r *Ride) Transition(next RideStatus, at time.Time) error {
	if !r.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, next)
	}
	stamp := func(p **time.Time) {
		if *p == nil {
			t := at
			*p = &t
		}
	}
	switch next {
	case RideAccepted:
		stamp(&r.AcceptedAt)
	case RideInProgress:
		stamp(&r.StartedAt)
	case RideCompleted:
		stamp(&r.CompletedAt)
	case RideCancelled:
		stamp(&r.CancelledAt)
	}
	r.Status = next
	return nil
}
