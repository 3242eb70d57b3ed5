package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/devmiguelgomez/wow-backend/internal/config"
	"github.com/devmiguelgomez/wow-backend/internal/conversation"
	"github.com/devmiguelgomez/wow-backend/internal/identity"
	"github.com/devmiguelgomez/wow-backend/internal/observability"
)

type Server struct {
	cfg      config.Config
	identity *identity.Provider
	manager  *conversation.Manager
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, provider *identity.Provider, manager *conversation.Manager, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		identity: provider,
		manager:  manager,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up; other sites must not
				// be able to drive a visitor's chat session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.countRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.optionalAuth)
			r.Post("/chat/send", s.handleChatSend)
			r.Get("/chat/history", s.handleChatHistory)
			r.Get("/chat/ws", s.handleChatWS)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/conversations", s.handleListConversations)
			r.Post("/conversations", s.handleCreateConversation)
			r.Get("/conversations/{id}", s.handleGetConversation)
			r.Post("/conversations/{id}/messages", s.handleAppendMessage)
			r.Delete("/conversations/{id}", s.handleDeleteConversation)
		})
	})

	return r
}

// countRequests records one counter increment per handled request, labeled by
// the matched chi route pattern so conversation ids do not explode cardinality.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.metrics.ObserveHTTPRequest(chi.RouteContext(r.Context()).RoutePattern(), ww.Status())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondManagerError maps core errors onto the HTTP taxonomy. Upstream
// failures return 500 with the cause in details; the user turn is already
// durable by the time one surfaces.
func respondManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage),
		errors.Is(err, conversation.ErrUnknownTopic),
		errors.Is(err, conversation.ErrInvalidRole):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, conversation.ErrNotFound):
		respondError(w, http.StatusNotFound, "conversation_not_found", "conversation not found")
	case isUpstream(err):
		respondJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "failed to get a response from the model",
			Code:    "upstream_error",
			Details: err.Error(),
		})
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
