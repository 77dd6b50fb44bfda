package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dharsanguruparan/VoteDrop/internal/signing"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.AdminPassword == "" {
		respondError(w, http.StatusServiceUnavailable, "admin login is not configured")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid login payload")
		return
	}
	emailOK := strings.EqualFold(strings.TrimSpace(req.Email), s.cfg.AdminEmail)
	// ConstantTimeCompare keeps response time independent of the password.
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.cfg.AdminPassword)) == 1
	if !emailOK || !passOK {
		s.log.WithField("email", req.Email).Warn("rejected admin login")
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, exp := s.signer.Issue(s.cfg.AdminEmail, s.cfg.SessionTTL)
	s.log.Info("admin logged in")
	respondJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: exp})
}

// requireAdmin rejects requests without a valid bearer session token.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := s.signer.Parse(token); err != nil {
			msg := "invalid session"
			if errors.Is(err, signing.ErrExpiredToken) {
				msg = "session expired"
			}
			respondError(w, http.StatusUnauthorized, msg)
			return
		}
		next.ServeHTTP(w, r)
	})
}
