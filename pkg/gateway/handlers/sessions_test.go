package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/voicegate-io/voicegate/pkg/core/session"
	"github.com/voicegate-io/voicegate/pkg/gateway/sessions"
	"github.com/voicegate-io/voicegate/pkg/gateway/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, cfg sessions.ManagerConfig) *sessions.Manager {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	m := sessions.NewManager(cfg)
	t.Cleanup(func() { m.CancelAll(sessions.ReasonShutdown) })
	return m
}

// fakeTurnStore records saves and serves canned recent turns. Saves
// arrive from the event pump goroutine, so access is locked.
type fakeTurnStore struct {
	mu        sync.Mutex
	recent    []store.TurnRecord
	recentErr error
	saved     []store.TurnRecord
}

func (f *fakeTurnStore) SaveTurn(ctx context.Context, sessionID string, sum session.TurnSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, store.RecordFromSummary(sessionID, sum))
	return nil
}

func (f *fakeTurnStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]store.TurnRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	return f.recent, nil
}

func (f *fakeTurnStore) Ping(ctx context.Context) error { return nil }

func (f *fakeTurnStore) Close() {}

func (f *fakeTurnStore) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func newSessionsMux(h *SessionsHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", h.Create)
	mux.HandleFunc("GET /api/sessions", h.List)
	mux.HandleFunc("GET /api/sessions/{id}", h.Describe)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.Delete)
	return mux
}

func decodeErrorCode(t *testing.T, body []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	return envelope.Error.Code
}

func TestCreateSession_ReturnsWebSocketURL(t *testing.T) {
	m := newTestManager(t, sessions.ManagerConfig{})
	h := &SessionsHandler{Manager: m, Logger: testLogger()}
	mux := newSessionsMux(h)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %q", rr.Code, rr.Body.String())
	}
	var resp createSessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatal("expected a session_id")
	}
	if want := "/ws/" + resp.SessionID; resp.WebSocketURL != want {
		t.Fatalf("websocket_url = %q, want %q", resp.WebSocketURL, want)
	}
	if _, ok := m.Get(resp.SessionID); !ok {
		t.Fatal("created session should be registered")
	}
}

func TestCreateSession_CapacityExhausted(t *testing.T) {
	m := newTestManager(t, sessions.ManagerConfig{MaxSessions: 1})
	h := &SessionsHandler{Manager: m, Logger: testLogger()}
	mux := newSessionsMux(h)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("first create status = %d, want 201", rr.Code)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("second create status = %d, want 503", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "capacity" {
		t.Fatalf("error code = %q, want capacity", code)
	}
}

func TestCreateSession_Draining(t *testing.T) {
	m := newTestManager(t, sessions.ManagerConfig{})
	m.SetDraining()
	h := &SessionsHandler{Manager: m, Logger: testLogger()}
	mux := newSessionsMux(h)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	if rr.Code != 529 {
		t.Fatalf("status = %d, want 529", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "draining" {
		t.Fatalf("error code = %q, want draining", code)
	}
}

func TestListSessions(t *testing.T) {
	m := newTestManager(t, sessions.ManagerConfig{})
	h := &SessionsHandler{Manager: m, Logger: testLogger()}
	mux := newSessionsMux(h)

	a, err := m.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp listSessionsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 2 || len(resp.Sessions) != 2 {
		t.Fatalf("count = %d with %d ids, want 2", resp.Count, len(resp.Sessions))
	}
	found := false
	for _, id := range resp.Sessions {
		if id == a.ID() {
			found = true
		}
	}
	if !found {
		t.Fatalf("list should contain %s", a.ID())
	}
}

func TestDescribeSession(t *testing.T) {
	m := newTestManager(t, sessions.ManagerConfig{})
	st := &fakeTurnStore{recent: []store.TurnRecord{
		{SessionID: "x", TurnID: "t1", Reason: "completed"},
		{SessionID: "x", TurnID: "t2", Reason: "aborted"},
	}}
	h := &SessionsHandler{Manager: m, Store: st, Logger: testLogger()}
	mux := newSessionsMux(h)

	sess, err := m.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/sessions/"+sess.ID(), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %q", rr.Code, rr.Body.String())
	}

	var resp struct {
		SessionID   string             `json:"session_id"`
		State       string             `json:"state"`
		TurnCount   int                `json:"turn_count"`
		Attached    bool               `json:"attached"`
		RecentTurns []store.TurnRecord `json:"recent_turns"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.SessionID != sess.ID() {
		t.Fatalf("session_id = %q, want %q", resp.SessionID, sess.ID())
	}
	if resp.State != "idle" {
		t.Fatalf("state = %q, want idle", resp.State)
	}
	if resp.Attached {
		t.Fatal("fresh session should not be attached")
	}
	if len(resp.RecentTurns) != 2 {
		t.Fatalf("recent_turns = %d entries, want 2", len(resp.RecentTurns))
	}
}

func TestDescribeSession_StoreFailureOmitsTurns(t *testing.T) {
	m := newTestManager(t, sessions.ManagerConfig{})
	st := &fakeTurnStore{recentErr: fmt.Errorf("store is down")}
	h := &SessionsHandler{Manager: m, Store: st, Logger: testLogger()}
	mux := newSessionsMux(h)

	sess, err := m.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/sessions/"+sess.ID(), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 despite store failure", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := resp["recent_turns"]; present {
		t.Fatal("recent_turns should be omitted when the store fails")
	}
}

func TestDescribeSession_Unknown(t *testing.T) {
	m := newTestManager(t, sessions.ManagerConfig{})
	h := &SessionsHandler{Manager: m, Logger: testLogger()}
	mux := newSessionsMux(h)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	m := newTestManager(t, sessions.ManagerConfig{})
	h := &SessionsHandler{Manager: m, Logger: testLogger()}
	mux := newSessionsMux(h)

	sess, err := m.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+sess.ID(), nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session should close after delete")
	}
	if m.Count() != 0 {
		t.Fatalf("Count = %d, want 0", m.Count())
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+sess.ID(), nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rr.Code)
	}
}
