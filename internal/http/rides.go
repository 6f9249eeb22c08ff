package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/example/airbear/internal/auth"
	"github.com/example/airbear/internal/dispatch"
	"github.com/example/airbear/internal/models"
	"github.com/example/airbear/internal/observability"
)

var (
	errNotYourRide = errors.New("ride is assigned to another driver")
	errAlreadyHeld = errors.New("fare already held")
)

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var req models.RideRequest
	if !decodeBody(w, r, &req) {
		return
	}
	userID, status, err := s.actingUser(r, req.UserID)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	if req.PickupSpotID == "" || req.DestinationSpotID == "" {
		writeError(w, http.StatusBadRequest, "pickup_spot_id and destination_spot_id are required")
		return
	}
	if req.PickupSpotID == req.DestinationSpotID {
		writeError(w, http.StatusBadRequest, "pickup and destination must differ")
		return
	}
	for _, id := range []string{req.PickupSpotID, req.DestinationSpotID} {
		spot, ok := s.spots.Lookup(id)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown spot "+id)
			return
		}
		if !spot.IsActive {
			writeError(w, http.StatusBadRequest, spot.Name+" is not in service")
			return
		}
	}
	q, err := s.fare.Quote(s.spots, req.PickupSpotID, req.DestinationSpotID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ride := &models.Ride{
		ID:                uuid.NewString(),
		UserID:            userID,
		PickupSpotID:      req.PickupSpotID,
		DestinationSpotID: req.DestinationSpotID,
		Status:            models.RidePending,
		Fare:              q.Fare,
		DistanceKm:        q.DistanceKm,
		EstimatedMinutes:  q.Minutes,
		RequestedAt:       time.Now().UTC(),
	}
	if err := s.store.SaveRide(r.Context(), ride); err != nil {
		s.logger.Error("save ride failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create ride")
		return
	}
	observability.RidesRequested.Inc()
	dispatch.Emit(r.Context(), s.changes, s.logger, models.TableRides, models.EventInsert, ride, nil)
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleRidesByUser(w http.ResponseWriter, r *http.Request) {
	userID, status, err := s.actingUser(r, mux.Vars(r)["userId"])
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	rides, err := s.store.RidesByUser(r.Context(), userID)
	if err != nil {
		s.storeError(w, err, "rides")
		return
	}
	writeJSON(w, http.StatusOK, rides)
}

// handleRideStatus moves a ride one step along its lifecycle. Drivers claim a
// pending ride by accepting it and may only touch rides assigned to them.
func (s *Server) handleRideStatus(w http.ResponseWriter, r *http.Request) {
	var upd models.RideStatusUpdate
	if !decodeBody(w, r, &upd) {
		return
	}
	if !upd.Status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", upd.Status))
		return
	}
	actor, _ := auth.UserFromContext(r.Context())
	now := time.Now().UTC()

	before, after, err := s.store.MutateRide(r.Context(), mux.Vars(r)["id"], func(ride *models.Ride) error {
		if actor.Role.IsDriver() && ride.DriverID != "" && ride.DriverID != actor.ID {
			return errNotYourRide
		}
		if err := ride.Transition(upd.Status, now); err != nil {
			return err
		}
		if upd.Status == models.RideAccepted {
			switch {
			case upd.DriverID != "" && actor.Role.IsAdmin():
				ride.DriverID = upd.DriverID
			case ride.DriverID == "":
				ride.DriverID = actor.ID
			}
			if upd.VehicleID != "" {
				ride.VehicleID = upd.VehicleID
			}
		}
		return nil
	})
	if errors.Is(err, errNotYourRide) {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	if err != nil {
		s.storeError(w, err, "ride")
		return
	}
	observability.RideTransitions.WithLabelValues(string(after.Status)).Inc()
	dispatch.Emit(r.Context(), s.changes, s.logger, models.TableRides, models.EventUpdate, after, before)

	s.settlePayment(r.Context(), after)
	s.syncVehicle(r.Context(), after)
	writeJSON(w, http.StatusOK, after)
}

// settlePayment captures the held fare on completion and releases it on
// cancellation. Failures are logged; the ride status already changed.
func (s *Server) settlePayment(ctx context.Context, ride models.Ride) {
	if ride.PaymentIntentID == "" {
		return
	}
	var err error
	switch ride.Status {
	case models.RideCompleted:
		err = s.payments.Capture(ctx, ride.PaymentIntentID)
	case models.RideCancelled:
		err = s.payments.Cancel(ctx, ride.PaymentIntentID)
	default:
		return
	}
	if err != nil {
		s.logger.Warn("settle ride payment failed", "ride_id", ride.ID, "status", ride.Status, "error", err)
	}
}

// syncVehicle takes the assigned vehicle out of service while a ride is
// active and returns it when the ride ends.
func (s *Server) syncVehicle(ctx context.Context, ride models.Ride) {
	if ride.VehicleID == "" {
		return
	}
	var available bool
	switch ride.Status {
	case models.RideAccepted:
		available = false
	case models.RideCompleted, models.RideCancelled:
		available = true
	default:
		return
	}
	before, err := s.store.GetVehicle(ctx, ride.VehicleID)
	if err != nil {
		s.logger.Warn("load ride vehicle failed", "vehicle_id", ride.VehicleID, "error", err)
		return
	}
	if before.IsAvailable == available {
		return
	}
	after := before
	after.IsAvailable = available
	if ride.Status == models.RideCompleted {
		after.CurrentSpotID = ride.DestinationSpotID
	}
	if err := s.store.UpsertVehicle(ctx, after); err != nil {
		s.logger.Warn("update ride vehicle failed", "vehicle_id", after.ID, "error", err)
		return
	}
	if err := s.geo.Upsert(ctx, after); err != nil {
		s.logger.Warn("geo index upsert failed", "vehicle_id", after.ID, "error", err)
	}
	dispatch.Emit(ctx, s.changes, s.logger, models.TableAirbears, models.EventUpdate, after, before)
}

// handleRidePaymentIntent holds the ride's fare on the rider's card.
func (s *Server) handleRidePaymentIntent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ride, err := s.store.GetRide(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "ride")
		return
	}
	if _, status, err := s.actingUser(r, ride.UserID); err != nil {
		writeError(w, status, err.Error())
		return
	}
	if ride.Status.Terminal() {
		writeError(w, http.StatusConflict, "ride already "+string(ride.Status))
		return
	}
	if ride.PaymentIntentID != "" {
		writeJSON(w, http.StatusOK, map[string]string{"payment_intent_id": ride.PaymentIntentID})
		return
	}
	cents := ride.Fare.Shift(2).Round(0).IntPart()
	piID, err := s.payments.Hold(r.Context(), cents, ride.ID)
	if err != nil {
		s.logger.Error("hold ride fare failed", "ride_id", ride.ID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to hold fare")
		return
	}
	before, after, err := s.store.MutateRide(r.Context(), id, func(rd *models.Ride) error {
		if rd.PaymentIntentID != "" {
			return fmt.Errorf("ride %s already has a payment intent: %w", rd.ID, errAlreadyHeld)
		}
		rd.PaymentIntentID = piID
		return nil
	})
	if err != nil {
		if cerr := s.payments.Cancel(r.Context(), piID); cerr != nil {
			s.logger.Warn("release duplicate hold failed", "ride_id", id, "error", cerr)
		}
		if errors.Is(err, errAlreadyHeld) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.storeError(w, err, "ride")
		return
	}
	dispatch.Emit(r.Context(), s.changes, s.logger, models.TableRides, models.EventUpdate, after, before)
	writeJSON(w, http.StatusOK, map[string]string{"payment_intent_id": piID})
}
