package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/devmiguelgomez/wow-backend/internal/conversation"
	"github.com/devmiguelgomez/wow-backend/internal/gemini"
)

type sendRequest struct {
	Message        string `json:"message"`
	Faction        string `json:"faction"`
	SessionID      string `json:"sessionId"`
	ConversationID string `json:"conversationId"`
}

type sendResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversationId"`
}

type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type historyResponse struct {
	ConversationID string         `json:"conversationId"`
	ChatHistory    []historyEntry `json:"chatHistory"`
}

// chatOwner resolves who the chat request is for: the bearer user when
// authenticated, otherwise the caller-supplied session key when anonymous
// access is enabled.
func (s *Server) chatOwner(w http.ResponseWriter, r *http.Request, sessionID string) (conversation.OwnerRef, bool) {
	if user, ok := userFrom(r.Context()); ok {
		return conversation.UserOwner(user.ID), true
	}
	if !s.cfg.AllowAnonymous {
		respondError(w, http.StatusUnauthorized, "missing_token", "authorization bearer token is required")
		return conversation.OwnerRef{}, false
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "sessionId is required for anonymous chat")
		return conversation.OwnerRef{}, false
	}
	return conversation.SessionOwner(sessionID), true
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	owner, ok := s.chatOwner(w, r, req.SessionID)
	if !ok {
		return
	}

	reply, convID, err := s.manager.HandleMessage(r.Context(), owner, req.Faction, strings.TrimSpace(req.ConversationID), req.Message)
	if err != nil {
		respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sendResponse{Response: reply, ConversationID: convID})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.chatOwner(w, r, r.URL.Query().Get("sessionId"))
	if !ok {
		return
	}

	turns, convID, err := s.manager.History(r.Context(), owner, r.URL.Query().Get("faction"))
	if err != nil {
		respondManagerError(w, err)
		return
	}

	entries := make([]historyEntry, 0, len(turns))
	for _, t := range turns {
		entries = append(entries, historyEntry{Role: string(t.Role), Content: t.Content})
	}
	respondJSON(w, http.StatusOK, historyResponse{ConversationID: convID, ChatHistory: entries})
}

func isUpstream(err error) bool {
	var upstream *gemini.UpstreamError
	return errors.As(err, &upstream)
}
