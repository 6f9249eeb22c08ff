package httpapi

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/example/airbear/internal/fare"
	"github.com/example/airbear/internal/ingest"
	"github.com/example/airbear/internal/models"
	"github.com/example/airbear/internal/observability"
)

func (s *Server) handleSpots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.spots.All())
}

func (s *Server) handleSpot(w http.ResponseWriter, r *http.Request) {
	spot, ok := s.spots.Lookup(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "spot not found")
		return
	}
	writeJSON(w, http.StatusOK, spot)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}
	q, err := s.fare.Quote(s.spots, from, to)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, fare.ErrSpotNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleVehicles(w http.ResponseWriter, r *http.Request) {
	vs, err := s.store.ListVehicles(r.Context())
	if err != nil {
		s.storeError(w, err, "vehicles")
		return
	}
	writeJSON(w, http.StatusOK, vs)
}

func (s *Server) handleAvailableVehicles(w http.ResponseWriter, r *http.Request) {
	vs, err := s.store.AvailableVehicles(r.Context())
	if err != nil {
		s.storeError(w, err, "vehicles")
		return
	}
	writeJSON(w, http.StatusOK, vs)
}

func queryFloat(r *http.Request, key string) (float64, bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, true, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, true, fmt.Errorf("%s is not finite", key)
	}
	return f, true, nil
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	lat, okLat, errLat := queryFloat(r, "lat")
	lng, okLng, errLng := queryFloat(r, "lng")
	if !okLat || !okLng || errLat != nil || errLng != nil {
		writeError(w, http.StatusBadRequest, "lat and lng must be numbers")
		return
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		writeError(w, http.StatusBadRequest, "lat must be within [-90,90] and lng within [-180,180]")
		return
	}
	radius, _, err := queryFloat(r, "radius_km")
	if err != nil {
		writeError(w, http.StatusBadRequest, "radius_km must be a number")
		return
	}
	if radius <= 0 {
		radius = s.radiusKm
	}
	out, err := s.geo.Nearby(r.Context(), lat, lng, radius)
	if err != nil {
		s.logger.Error("nearby query failed", "error", err)
		writeError(w, http.StatusBadGateway, "nearby lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleLocation takes a driver's position report. With Kafka configured it
// is queued for the consumer, otherwise it is applied right away.
func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var u models.LocationUpdate
	if !decodeBody(w, r, &u) {
		return
	}
	u.VehicleID = mux.Vars(r)["id"]
	if err := ingest.ValidateLocation(u); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.locations != nil {
		if err := s.locations.PublishLocation(r.Context(), u); err != nil {
			observability.LocationUpdates.WithLabelValues("kafka", "error").Inc()
			s.logger.Error("queue location failed", "vehicle_id", u.VehicleID, "error", err)
			writeError(w, http.StatusBadGateway, "failed to queue location")
			return
		}
		observability.LocationUpdates.WithLabelValues("kafka", "ok").Inc()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}
	v, err := s.applier.Apply(r.Context(), u)
	if err != nil {
		observability.LocationUpdates.WithLabelValues("direct", "error").Inc()
		s.storeError(w, err, "vehicle")
		return
	}
	observability.LocationUpdates.WithLabelValues("direct", "ok").Inc()
	writeJSON(w, http.StatusOK, v)
}
