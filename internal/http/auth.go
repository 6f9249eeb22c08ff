package httpapi

import (
	"errors"
	"net/http"

	"github.com/example/airbear/internal/auth"
	"github.com/example/airbear/internal/models"
	"github.com/example/airbear/internal/supabase"
)

type credentials struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     models.Role `json:"role,omitempty"`
}

func (c credentials) valid() bool { return c.Email != "" && c.Password != "" }

// authError relays the auth provider's answer.
func (s *Server) authError(w http.ResponseWriter, err error) {
	var apiErr *supabase.Error
	switch {
	case errors.Is(err, supabase.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "authentication is not configured")
	case errors.As(err, &apiErr):
		status := apiErr.Status
		if status < 400 || status > 499 {
			status = http.StatusBadGateway
		}
		writeError(w, status, apiErr.Message)
	default:
		s.logger.Error("auth provider call failed", "error", err)
		writeError(w, http.StatusBadGateway, "authentication provider unavailable")
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if !decodeBody(w, r, &c) {
		return
	}
	if !c.valid() {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	sess, err := s.auth.Register(r.Context(), c.Email, c.Password, c.Role)
	if errors.Is(err, supabase.ErrConfirmationRequired) {
		writeJSON(w, http.StatusAccepted, map[string]string{"message": err.Error()})
		return
	}
	if err != nil {
		s.authError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if !decodeBody(w, r, &c) {
		return
	}
	if !c.valid() {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	sess, err := s.auth.PasswordGrant(r.Context(), c.Email, c.Password)
	if err != nil {
		s.authError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	tok := auth.BearerToken(r)
	if tok == "" {
		writeError(w, http.StatusUnauthorized, auth.ErrNoToken.Error())
		return
	}
	if err := s.auth.Logout(r.Context(), tok); err != nil {
		s.authError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMe reports the verified principal. The role comes from app_metadata
// only.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.verifier.Verify(auth.BearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, u)
}
