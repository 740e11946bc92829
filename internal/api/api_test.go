package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/chatbroker/internal/broker"
	"github.com/ashureev/chatbroker/internal/domain"
	"github.com/ashureev/chatbroker/internal/presence"
	"github.com/ashureev/chatbroker/internal/queue"
	"github.com/ashureev/chatbroker/internal/session"
	"github.com/ashureev/chatbroker/internal/store"
)

type fakeAuthenticator struct {
	principal domain.Principal
	err       error
}

func (f fakeAuthenticator) Authenticate(ctx context.Context, token string) (domain.Principal, error) {
	if f.err != nil {
		return domain.Principal{}, f.err
	}
	return f.principal, nil
}

func newTestServer(t *testing.T, agentID string) (*httptest.Server, store.Repository) {
	t.Helper()
	repo, err := store.NewSQLite(t.TempDir() + "/api.db")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	pres := presence.New(repo)
	b := broker.New(64)
	t.Cleanup(b.Shutdown)
	machine := session.New(repo, pres, b)
	dispatcher := queue.NewDispatcher(repo, pres, machine, false, 2, 64)
	t.Cleanup(dispatcher.Shutdown)

	authn := fakeAuthenticator{principal: domain.Principal{Role: domain.RoleAgent, ID: agentID, DisplayName: "Ada"}}
	base := NewHandler(repo, pres, machine, dispatcher, authn)

	r := chi.NewRouter()
	NewChatHandler(base).RegisterRoutes(r)
	NewAgentHandler(base).RegisterRoutes(r)
	NewHealthHandler(base).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestChatInitThenGetSession(t *testing.T) {
	srv, _ := newTestServer(t, "agent-1")

	resp := postJSON(t, srv.URL+"/api/chat/init", map[string]any{
		"customerName":  "Grace",
		"customerEmail": "grace@example.com",
		"sourceUrl":     "https://example.com",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("init status = %d", resp.StatusCode)
	}
	var initBody struct {
		Success bool `json:"success"`
		Data    struct {
			SessionID     string `json:"sessionId"`
			CustomerToken string `json:"customerToken"`
		} `json:"data"`
	}
	decodeBody(t, resp, &initBody)
	if !initBody.Success || initBody.Data.CustomerToken == "" {
		t.Fatalf("unexpected init body: %+v", initBody)
	}

	getResp, err := http.Get(srv.URL + "/api/chat/session/" + initBody.Data.CustomerToken)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	var getBody struct {
		Success bool `json:"success"`
		Data    struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	decodeBody(t, getResp, &getBody)
	if !getBody.Success || getBody.Data.Status != string(domain.StatusWaiting) {
		t.Fatalf("unexpected session body: %+v", getBody)
	}
}

func TestChatGetSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(t, "agent-1")

	resp, err := http.Get(srv.URL + "/api/chat/session/does-not-exist")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAgentEndpointsRequireAuth(t *testing.T) {
	srv, _ := newTestServer(t, "agent-1")

	resp, err := http.Get(srv.URL + "/api/agent/chats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestAgentActiveChatsWithAuth(t *testing.T) {
	srv, _ := newTestServer(t, "agent-1")

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/agent/chats", nil)
	req.Header.Set("Authorization", "Bearer anything")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Sessions []map[string]any `json:"sessions"`
		} `json:"data"`
	}
	decodeBody(t, resp, &body)
	if !body.Success || len(body.Data.Sessions) != 0 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestHealthReportsOK(t *testing.T) {
	srv, _ := newTestServer(t, "agent-1")

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
