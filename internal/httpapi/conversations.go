package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/devmiguelgomez/wow-backend/internal/conversation"
)

type createConversationRequest struct {
	Title   string `json:"title"`
	Faction string `json:"faction"`
}

type appendMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	convs, err := s.manager.List(r.Context(), conversation.UserOwner(user.ID))
	if err != nil {
		respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, convs)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())

	var req createConversationRequest
	if err := decodeJSON(r, &req); err != nil && err != errEmptyBody {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	conv, err := s.manager.CreateConversation(r.Context(), conversation.UserOwner(user.ID), req.Faction, req.Title)
	if err != nil {
		respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing conversation id")
		return
	}

	conv, err := s.manager.Get(r.Context(), id, conversation.UserOwner(user.ID))
	if err != nil {
		respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing conversation id")
		return
	}

	var req appendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	turn, err := s.manager.AppendTurn(r.Context(), conversation.UserOwner(user.ID), id, conversation.Role(req.Role), req.Content)
	if err != nil {
		respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, turn)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing conversation id")
		return
	}

	if err := s.manager.Delete(r.Context(), id, conversation.UserOwner(user.ID)); err != nil {
		respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "conversation deleted"})
}
