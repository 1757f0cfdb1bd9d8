// ABOUTME: Tests for the HTTP command surface's chi router, covering
// ABOUTME: health, session create/show/delete, and turn dispatch.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relaykit/relay/coordinator"
	"github.com/relaykit/relay/engine"
	"github.com/relaykit/relay/events"
	"github.com/relaykit/relay/llm"
	"github.com/relaykit/relay/registry"
	"github.com/relaykit/relay/toolpipeline"
)

// fakeStreamAdapter always replies with a single fixed text chunk, enough
// to drive one full turn through the Coordinator/Engine stack.
type fakeStreamAdapter struct{}

func (fakeStreamAdapter) Name() string { return "fake" }

func (fakeStreamAdapter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return &llm.Response{Message: llm.AssistantMessage("ack")}, nil
}

func (fakeStreamAdapter) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamEvent, error) {
	ch := make(chan llm.StreamEvent, 5)
	ch <- llm.StreamEvent{Type: llm.StreamStart}
	ch <- llm.StreamEvent{Type: llm.StreamTextStart}
	ch <- llm.StreamEvent{Type: llm.StreamTextDelta, Delta: "ack"}
	ch <- llm.StreamEvent{Type: llm.StreamTextEnd}
	ch <- llm.StreamEvent{Type: llm.StreamFinish, FinishReason: &llm.FinishReason{Reason: llm.FinishStop}}
	close(ch)
	return ch, nil
}

func (fakeStreamAdapter) Close() error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()

	client := llm.NewClient(llm.WithProvider("fake", fakeStreamAdapter{}))
	router := events.NewRouter()
	toolRegistry := toolpipeline.NewRegistry()
	pipeline := toolpipeline.NewPipeline(toolRegistry, router)
	executor := engine.NewExecutor(client, pipeline, router)
	eng := engine.NewEngine(executor, router, nil)

	sessionRoot := t.TempDir()
	sessions := coordinator.NewSessionManager(sessionRoot, t.TempDir(), 0, 0)
	reg := registry.NewBuiltinRegistry()

	coord := coordinator.New(coordinator.Deps{
		Sessions:     sessions,
		Registry:     reg,
		ToolRegistry: toolRegistry,
		Pipeline:     pipeline,
		Engine:       eng,
		Router:       router,
	})

	return New(Config{}, Deps{
		Coord:         coord,
		Sessions:      sessions,
		SessionsDir:   sessionRoot,
		Registry:      reg,
		Router:        router,
		WorkspaceRoot: t.TempDir(),
	})
}

func TestServerHealth(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestServerCreateAndShowSession(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(createSessionRequest{AgentType: "default"})
	req := httptest.NewRequest(http.MethodPost, "/sessions/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created sessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.SessionID == "" {
		t.Fatal("expected a session id")
	}

	showReq := httptest.NewRequest(http.MethodGet, "/sessions/"+created.SessionID+"/", nil)
	showRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(showRec, showReq)
	if showRec.Code != http.StatusOK {
		t.Fatalf("expected 200 on show, got %d: %s", showRec.Code, showRec.Body.String())
	}
}

func TestServerCreateSessionRejectsUnknownAgent(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(createSessionRequest{AgentType: "no-such-agent"})
	req := httptest.NewRequest(http.MethodPost, "/sessions/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestServerShowUnknownSessionIsNotFound(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/sessions/does-not-exist/", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestServerDeleteSession(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(createSessionRequest{AgentType: "default"})
	req := httptest.NewRequest(http.MethodPost, "/sessions/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	var created sessionResponse
	_ = json.NewDecoder(rec.Body).Decode(&created)

	delReq := httptest.NewRequest(http.MethodDelete, "/sessions/"+created.SessionID+"/", nil)
	delRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(delRec, delReq)
	if delRec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", delRec.Code)
	}
}

func TestServerStartTurnRejectsEmptyMessage(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(createSessionRequest{AgentType: "default"})
	req := httptest.NewRequest(http.MethodPost, "/sessions/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	var created sessionResponse
	_ = json.NewDecoder(rec.Body).Decode(&created)

	turnBody, _ := json.Marshal(startTurnRequest{Message: ""})
	turnReq := httptest.NewRequest(http.MethodPost, "/sessions/"+created.SessionID+"/turns", bytes.NewReader(turnBody))
	turnRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(turnRec, turnReq)
	if turnRec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", turnRec.Code)
	}
}

func TestServerStartTurnAccepted(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(createSessionRequest{AgentType: "default"})
	req := httptest.NewRequest(http.MethodPost, "/sessions/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	var created sessionResponse
	_ = json.NewDecoder(rec.Body).Decode(&created)

	turnBody, _ := json.Marshal(startTurnRequest{Message: "hello"})
	turnReq := httptest.NewRequest(http.MethodPost, "/sessions/"+created.SessionID+"/turns", bytes.NewReader(turnBody))
	turnRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(turnRec, turnReq)
	if turnRec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", turnRec.Code, turnRec.Body.String())
	}

	time.Sleep(50 * time.Millisecond)
}
