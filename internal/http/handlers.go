package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/airbear/internal/auth"
	"github.com/example/airbear/internal/config"
	"github.com/example/airbear/internal/dispatch"
	"github.com/example/airbear/internal/fare"
	"github.com/example/airbear/internal/geo"
	"github.com/example/airbear/internal/ingest"
	"github.com/example/airbear/internal/models"
	"github.com/example/airbear/internal/payments"
	"github.com/example/airbear/internal/storage"
	"github.com/example/airbear/internal/supabase"
)

const (
	maxBodyBytes    = 1 << 20
	maxWebhookBytes = 64 << 10
	webhookTTL      = 24 * time.Hour
)

// Deps are the collaborators the API serves from. Locations may be nil, in
// which case location reports are applied in-process.
type Deps struct {
	Spots       *geo.Table
	Fare        fare.Estimator
	RadiusKm    float64
	Store       storage.Store
	Geo         geo.Index
	Locations   ingest.LocationPublisher
	Payments    *payments.StripeClient
	Auth        *supabase.AuthClient
	Verifier    *auth.Verifier
	Hub         *dispatch.Hub
	Changes     dispatch.Publisher
	Idempotency storage.Idempotency
	Logger      *slog.Logger
}

type Server struct {
	spots       *geo.Table
	fare        fare.Estimator
	radiusKm    float64
	store       storage.Store
	geo         geo.Index
	locations   ingest.LocationPublisher
	applier     *ingest.Applier
	payments    *payments.StripeClient
	auth        *supabase.AuthClient
	verifier    *auth.Verifier
	hub         *dispatch.Hub
	changes     dispatch.Publisher
	idempotency storage.Idempotency
	logger      *slog.Logger
	mux         *mux.Router
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Spots == nil {
		d.Spots = geo.DefaultTable()
	}
	if d.RadiusKm <= 0 {
		d.RadiusKm = 5
	}
	if d.Verifier == nil {
		d.Verifier = auth.NewVerifier("")
	}
	if d.Hub == nil {
		d.Hub = dispatch.NewHub(d.Verifier, d.Logger)
	}
	if d.Changes == nil {
		d.Changes = d.Hub
	}
	if d.Geo == nil {
		d.Geo = geo.NewMemoryIndex(d.Spots)
	}
	if d.Idempotency == nil {
		d.Idempotency = storage.NewMemoryIdempotency()
	}
	if d.Fare.AverageSpeedKmh <= 0 {
		d.Fare = fare.DefaultEstimator()
	}
	if d.Payments == nil {
		d.Payments = payments.NewStripeClient(config.StripeConfig{}, d.Logger)
	}
	if d.Auth == nil {
		d.Auth = supabase.NewAuthClient(config.SupabaseConfig{}, nil, d.Logger)
	}
	s := &Server{
		spots:       d.Spots,
		fare:        d.Fare,
		radiusKm:    d.RadiusKm,
		store:       d.Store,
		geo:         d.Geo,
		locations:   d.Locations,
		payments:    d.Payments,
		auth:        d.Auth,
		verifier:    d.Verifier,
		hub:         d.Hub,
		changes:     d.Changes,
		idempotency: d.Idempotency,
		logger:      d.Logger,
		mux:         mux.NewRouter(),
	}
	s.applier = &ingest.Applier{Store: d.Store, Index: d.Geo, Changes: d.Changes, Log: d.Logger}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api").Subrouter()

	api.HandleFunc("/spots", s.handleSpots).Methods(http.MethodGet)
	api.HandleFunc("/spots/{id}", s.handleSpot).Methods(http.MethodGet)
	api.HandleFunc("/quote", s.handleQuote).Methods(http.MethodGet)

	api.HandleFunc("/rickshaws", s.handleVehicles).Methods(http.MethodGet)
	api.HandleFunc("/rickshaws/available", s.handleAvailableVehicles).Methods(http.MethodGet)
	api.HandleFunc("/rickshaws/nearby", s.handleNearby).Methods(http.MethodGet)
	api.HandleFunc("/rickshaws/{id}/location", s.requireRole(s.handleLocation, models.RoleDriver, models.RoleAdmin)).Methods(http.MethodPost)

	api.HandleFunc("/rides", s.handleCreateRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/user/{userId}", s.handleRidesByUser).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/status", s.requireRole(s.handleRideStatus, models.RoleDriver, models.RoleAdmin)).Methods(http.MethodPatch)
	api.HandleFunc("/rides/{id}/payment-intent", s.handleRidePaymentIntent).Methods(http.MethodPost)

	api.HandleFunc("/bodega/items", s.handleBodegaItems).Methods(http.MethodGet)
	api.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{userId}", s.handleOrdersByUser).Methods(http.MethodGet)

	api.HandleFunc("/payments/create-checkout-session", s.handleCreateCheckoutSession).Methods(http.MethodPost)
	api.HandleFunc("/payments/webhook", s.handleWebhook).Methods(http.MethodPost)

	api.HandleFunc("/inventory", s.handleInventory).Methods(http.MethodGet)
	api.HandleFunc("/inventory/adjust", s.requireRole(s.handleInventoryAdjust, models.RoleAdmin)).Methods(http.MethodPost)

	api.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)

	s.mux.HandleFunc("/ws", s.hub.ServeWS).Methods(http.MethodGet)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Hub exposes the change feed so the process can relay into it.
func (s *Server) Hub() *dispatch.Hub { return s.hub }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// storeError maps storage failures to a response.
func (s *Server) storeError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, storage.ErrInsufficientStock):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("store call failed", "what", what, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load "+what)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body: "+err.Error())
		return false
	}
	return true
}
