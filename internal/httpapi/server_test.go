package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/devmiguelgomez/wow-backend/internal/config"
	"github.com/devmiguelgomez/wow-backend/internal/conversation"
	"github.com/devmiguelgomez/wow-backend/internal/gemini"
	"github.com/devmiguelgomez/wow-backend/internal/identity"
	"github.com/devmiguelgomez/wow-backend/internal/observability"
)

var namespaceSeq atomic.Int64

type stubGateway struct {
	reply func(message string) (string, error)
}

func (g *stubGateway) Complete(_ context.Context, _ []gemini.Content, message string) (string, error) {
	if g.reply != nil {
		return g.reply(message)
	}
	return "reply to: " + message, nil
}

func newTestServer(t *testing.T, gw conversation.Gateway) *httptest.Server {
	t.Helper()
	if gw == nil {
		gw = &stubGateway{}
	}
	cfg := config.Config{
		AllowAnonymous: true,
		DefaultFaction: "alliance",
	}
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", namespaceSeq.Add(1)))
	provider := identity.NewProvider(identity.NewInMemoryStore(), 0)
	manager := conversation.NewManager(conversation.NewInMemoryStore(), gw, nil, metrics, cfg.DefaultFaction)
	srv := New(cfg, provider, manager, metrics)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, token string, body any) *http.Response {
	t.Helper()
	payload, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	return res
}

func getJSON(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	return res
}

func decodeBody(t *testing.T, res *http.Response, out any) {
	t.Helper()
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func registerUser(t *testing.T, ts *httptest.Server, username string) string {
	t.Helper()
	res := postJSON(t, ts.URL+"/api/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "secret123",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var body struct {
		Token string `json:"token"`
	}
	decodeBody(t, res, &body)
	if body.Token == "" {
		t.Fatalf("register response missing token")
	}
	return body.Token
}

func TestRegisterLoginFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	_ = registerUser(t, ts, "thrall")

	dup := postJSON(t, ts.URL+"/api/auth/register", "", map[string]string{
		"username": "thrall",
		"email":    "thrall@example.com",
		"password": "secret123",
	})
	dup.Body.Close()
	if dup.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register status = %d, want %d", dup.StatusCode, http.StatusConflict)
	}

	login := postJSON(t, ts.URL+"/api/auth/login", "", map[string]string{
		"email":    "thrall@example.com",
		"password": "secret123",
	})
	if login.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want %d", login.StatusCode, http.StatusOK)
	}
	var loginBody struct {
		Token string `json:"token"`
		User  struct {
			Username string `json:"username"`
		} `json:"user"`
	}
	decodeBody(t, login, &loginBody)
	if loginBody.Token == "" || loginBody.User.Username != "thrall" {
		t.Fatalf("login body = %+v", loginBody)
	}

	bad := postJSON(t, ts.URL+"/api/auth/login", "", map[string]string{
		"email":    "thrall@example.com",
		"password": "wrong",
	})
	bad.Body.Close()
	if bad.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want %d", bad.StatusCode, http.StatusUnauthorized)
	}
}

func TestChatSendAuthenticated(t *testing.T) {
	ts := newTestServer(t, nil)
	token := registerUser(t, ts, "jaina")

	res := postJSON(t, ts.URL+"/api/chat/send", token, map[string]string{
		"message": "tell me about stormwind",
		"faction": "alliance",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("send status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var body struct {
		Response       string `json:"response"`
		ConversationID string `json:"conversationId"`
	}
	decodeBody(t, res, &body)
	if body.Response != "reply to: tell me about stormwind" {
		t.Fatalf("response = %q", body.Response)
	}
	if body.ConversationID == "" {
		t.Fatalf("missing conversationId")
	}

	// A second send lands in the same conversation.
	res2 := postJSON(t, ts.URL+"/api/chat/send", token, map[string]string{
		"message": "and orgrimmar?",
		"faction": "alliance",
	})
	var body2 struct {
		ConversationID string `json:"conversationId"`
	}
	decodeBody(t, res2, &body2)
	if body2.ConversationID != body.ConversationID {
		t.Fatalf("conversation id changed: %q then %q", body.ConversationID, body2.ConversationID)
	}
}

func TestChatSendAnonymousSession(t *testing.T) {
	ts := newTestServer(t, nil)

	res := postJSON(t, ts.URL+"/api/chat/send", "", map[string]string{
		"message":   "hello",
		"faction":   "horde",
		"sessionId": "visitor-99",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("anonymous send status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	res.Body.Close()

	noSession := postJSON(t, ts.URL+"/api/chat/send", "", map[string]string{
		"message": "hello",
		"faction": "horde",
	})
	noSession.Body.Close()
	if noSession.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing sessionId status = %d, want %d", noSession.StatusCode, http.StatusBadRequest)
	}
}

func TestChatSendValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	token := registerUser(t, ts, "varian")

	missing := postJSON(t, ts.URL+"/api/chat/send", token, map[string]string{"faction": "alliance"})
	missing.Body.Close()
	if missing.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing message status = %d, want %d", missing.StatusCode, http.StatusBadRequest)
	}

	unknown := postJSON(t, ts.URL+"/api/chat/send", token, map[string]string{
		"message": "hi",
		"faction": "pandaren",
	})
	unknown.Body.Close()
	if unknown.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown faction status = %d, want %d", unknown.StatusCode, http.StatusBadRequest)
	}

	foreign := postJSON(t, ts.URL+"/api/chat/send", token, map[string]string{
		"message":        "hi",
		"faction":        "alliance",
		"conversationId": "not-a-real-id",
	})
	foreign.Body.Close()
	if foreign.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown conversationId status = %d, want %d", foreign.StatusCode, http.StatusNotFound)
	}
}

func TestChatSendUpstreamFailure(t *testing.T) {
	gw := &stubGateway{reply: func(string) (string, error) {
		return "", &gemini.UpstreamError{Op: "generate", Status: 503, Cause: errors.New("model overloaded")}
	}}
	ts := newTestServer(t, gw)
	token := registerUser(t, ts, "sylvanas")

	res := postJSON(t, ts.URL+"/api/chat/send", token, map[string]string{
		"message": "hi",
		"faction": "horde",
	})
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("upstream failure status = %d, want %d", res.StatusCode, http.StatusInternalServerError)
	}
	var body struct {
		Code    string `json:"code"`
		Details string `json:"details"`
	}
	decodeBody(t, res, &body)
	if body.Code != "upstream_error" {
		t.Fatalf("code = %q, want upstream_error", body.Code)
	}
	if !strings.Contains(body.Details, "model overloaded") {
		t.Fatalf("details = %q, want upstream cause", body.Details)
	}

	// The user turn survived the failure and shows up in history.
	hist := getJSON(t, ts.URL+"/api/chat/history?faction=horde", token)
	var histBody struct {
		ChatHistory []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"chatHistory"`
	}
	decodeBody(t, hist, &histBody)
	if len(histBody.ChatHistory) != 1 || histBody.ChatHistory[0].Role != "user" {
		t.Fatalf("history after failure = %+v, want the single user turn", histBody.ChatHistory)
	}
}

func TestChatHistoryGreeting(t *testing.T) {
	ts := newTestServer(t, nil)
	token := registerUser(t, ts, "anduin")

	for i := 0; i < 2; i++ {
		res := getJSON(t, ts.URL+"/api/chat/history?faction=horde", token)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("history status = %d, want %d", res.StatusCode, http.StatusOK)
		}
		var body struct {
			ConversationID string `json:"conversationId"`
			ChatHistory    []struct {
				Role string `json:"role"`
			} `json:"chatHistory"`
		}
		decodeBody(t, res, &body)
		if len(body.ChatHistory) != 1 {
			t.Fatalf("call %d: history length = %d, want 1 greeting", i, len(body.ChatHistory))
		}
		if body.ChatHistory[0].Role != "assistant" {
			t.Fatalf("greeting role = %q, want assistant", body.ChatHistory[0].Role)
		}
	}
}

func TestConversationsCRUD(t *testing.T) {
	ts := newTestServer(t, nil)
	token := registerUser(t, ts, "tyrande")

	unauth := getJSON(t, ts.URL+"/api/conversations", "")
	unauth.Body.Close()
	if unauth.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list status = %d, want %d", unauth.StatusCode, http.StatusUnauthorized)
	}

	created := postJSON(t, ts.URL+"/api/conversations", token, map[string]string{
		"title":   "war council",
		"faction": "alliance",
	})
	if created.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", created.StatusCode, http.StatusCreated)
	}
	var conv struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	decodeBody(t, created, &conv)
	if conv.ID == "" || conv.Title != "war council" {
		t.Fatalf("created conversation = %+v", conv)
	}

	appended := postJSON(t, ts.URL+"/api/conversations/"+conv.ID+"/messages", token, map[string]string{
		"role":    "user",
		"content": "we march at dawn",
	})
	if appended.StatusCode != http.StatusCreated {
		t.Fatalf("append status = %d, want %d", appended.StatusCode, http.StatusCreated)
	}
	var turn struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	decodeBody(t, appended, &turn)
	if turn.Role != "user" || turn.Content != "we march at dawn" {
		t.Fatalf("appended turn = %+v", turn)
	}

	got := getJSON(t, ts.URL+"/api/conversations/"+conv.ID, token)
	if got.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want %d", got.StatusCode, http.StatusOK)
	}
	var fetched struct {
		Turns []struct {
			Content string `json:"content"`
		} `json:"turns"`
	}
	decodeBody(t, got, &fetched)
	if len(fetched.Turns) != 1 {
		t.Fatalf("fetched turns = %d, want 1", len(fetched.Turns))
	}

	list := getJSON(t, ts.URL+"/api/conversations", token)
	var convs []struct {
		ID string `json:"id"`
	}
	decodeBody(t, list, &convs)
	if len(convs) != 1 || convs[0].ID != conv.ID {
		t.Fatalf("list = %+v", convs)
	}

	// Another user must not see or touch it.
	otherToken := registerUser(t, ts, "nathanos")
	foreign := getJSON(t, ts.URL+"/api/conversations/"+conv.ID, otherToken)
	foreign.Body.Close()
	if foreign.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign get status = %d, want %d", foreign.StatusCode, http.StatusNotFound)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/conversations/"+conv.ID, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	deleted, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete request error: %v", err)
	}
	deleted.Body.Close()
	if deleted.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want %d", deleted.StatusCode, http.StatusOK)
	}

	gone := getJSON(t, ts.URL+"/api/conversations/"+conv.ID, token)
	gone.Body.Close()
	if gone.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want %d", gone.StatusCode, http.StatusNotFound)
	}
}

func TestInvalidBearerToken(t *testing.T) {
	ts := newTestServer(t, nil)

	res := getJSON(t, ts.URL+"/api/conversations", "made-up-token")
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("invalid token status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}

	// Chat routes accept anonymous callers, but a present-and-invalid token
	// is still rejected rather than downgraded.
	chat := postJSON(t, ts.URL+"/api/chat/send", "made-up-token", map[string]string{
		"message":   "hi",
		"sessionId": "s1",
	})
	chat.Body.Close()
	if chat.StatusCode != http.StatusUnauthorized {
		t.Fatalf("invalid token on chat status = %d, want %d", chat.StatusCode, http.StatusUnauthorized)
	}
}

func TestChatWebsocket(t *testing.T) {
	ts := newTestServer(t, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/chat/ws?faction=horde&session_id=ws-visitor"
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial error = %v", err)
	}
	if res != nil {
		res.Body.Close()
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"message": "lok'tar"}); err != nil {
		t.Fatalf("write error = %v", err)
	}
	var out struct {
		Response       string `json:"response"`
		ConversationID string `json:"conversationId"`
		Error          string `json:"error"`
	}
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read error = %v", err)
	}
	if out.Error != "" {
		t.Fatalf("unexpected error frame: %+v", out)
	}
	if out.Response != "reply to: lok'tar" || out.ConversationID == "" {
		t.Fatalf("frame = %+v", out)
	}

	// An empty message comes back as an error frame on the same socket.
	if err := conn.WriteJSON(map[string]string{"message": "  "}); err != nil {
		t.Fatalf("write error = %v", err)
	}
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read error = %v", err)
	}
	if out.Error == "" {
		t.Fatalf("expected error frame for empty message, got %+v", out)
	}

	hist := getJSON(t, ts.URL+"/api/chat/history?faction=horde&sessionId=ws-visitor", "")
	var histBody struct {
		ChatHistory []struct {
			Content string `json:"content"`
		} `json:"chatHistory"`
	}
	decodeBody(t, hist, &histBody)
	if len(histBody.ChatHistory) != 2 {
		t.Fatalf("history after ws exchange = %d turns, want 2", len(histBody.ChatHistory))
	}
}
