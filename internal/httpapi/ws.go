package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/devmiguelgomez/wow-backend/internal/conversation"
)

type wsInbound struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

type wsOutbound struct {
	Response       string `json:"response,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Error          string `json:"error,omitempty"`
	Code           string `json:"code,omitempty"`
}

// handleChatWS runs a live chat over one websocket: each inbound {message}
// frame goes through the same manager path as POST /api/chat/send and yields
// one {response, conversationId} frame.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.chatOwner(w, r, r.URL.Query().Get("session_id"))
	if !ok {
		return
	}
	faction := strings.TrimSpace(r.URL.Query().Get("faction"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.ActiveChatSockets.Inc()
	defer s.metrics.ActiveChatSockets.Dec()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
		return nil
	})

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))

		var out wsOutbound
		reply, convID, err := s.manager.HandleMessage(r.Context(), owner, faction, strings.TrimSpace(in.ConversationID), in.Message)
		if err != nil {
			out = wsOutbound{ConversationID: convID, Error: err.Error(), Code: wsErrorCode(err)}
		} else {
			out = wsOutbound{Response: reply, ConversationID: convID}
		}

		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(out); err != nil {
			return
		}
	}
}

func wsErrorCode(err error) string {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		return "conversation_not_found"
	case isUpstream(err):
		return "upstream_error"
	default:
		return "invalid_request"
	}
}
