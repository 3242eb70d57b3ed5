package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/devmiguelgomez/wow-backend/internal/identity"
)

type contextKey string

const userContextKey contextKey = "user"

func userFrom(ctx context.Context) (identity.User, bool) {
	u, ok := ctx.Value(userContextKey).(identity.User)
	return u, ok
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}

// requireAuth rejects requests without a valid bearer token.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			respondError(w, http.StatusUnauthorized, "missing_token", "authorization bearer token is required")
			return
		}
		user, err := s.identity.Authenticate(r.Context(), token)
		if errors.Is(err, identity.ErrInvalidToken) {
			respondError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired token")
			return
		}
		if err != nil {
			respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	})
}

// optionalAuth resolves a bearer token when present but lets anonymous
// requests through; the chat handlers decide whether a session key suffices.
// A token that is present but invalid is still a 401 — silently downgrading
// an authenticated caller to anonymous would split their history.
func (s *Server) optionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, err := s.identity.Authenticate(r.Context(), token)
		if errors.Is(err, identity.ErrInvalidToken) {
			respondError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired token")
			return
		}
		if err != nil {
			respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	})
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string        `json:"token"`
	User  identity.User `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	user, token, err := s.identity.Register(r.Context(), req.Username, req.Email, req.Password)
	if errors.Is(err, identity.ErrDuplicate) {
		respondError(w, http.StatusConflict, "duplicate_user", "username or email already registered")
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	user, token, err := s.identity.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		respondError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}
