// ABOUTME: Optional HTTP command surface (§6): REST endpoints for sessions
// ABOUTME: and turns plus a websocket event feed, fronting the same
// ABOUTME: Coordinator cmd/relay drives directly. Adapted from
// ABOUTME: web/server.go's chi-router-over-a-single-struct shape.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/relaykit/relay/coordinator"
	"github.com/relaykit/relay/errs"
	"github.com/relaykit/relay/events"
	"github.com/relaykit/relay/persistence"
	"github.com/relaykit/relay/registry"
	"github.com/relaykit/relay/session"
)

// Deps bundles the already-wired runtime a Server fronts. Nothing here is
// constructed by the server package itself; cmd/relay's bootstrap assembly
// builds these exactly as it does for the direct-CLI path.
type Deps struct {
	Coord         *coordinator.Coordinator
	Sessions      *coordinator.SessionManager
	SessionsDir   string // same baseDir the SessionManager was constructed with, for ListSessions
	Registry      *registry.Registry
	Router        *events.Router
	WorkspaceRoot string
}

// Server is the HTTP front end over a Coordinator.
type Server struct {
	deps   Deps
	addr   string
	router chi.Router
}

// New builds a Server bound to deps, with its router assembled and ready
// to serve.
func New(cfg Config, deps Deps) *Server {
	s := &Server{deps: deps, addr: cfg.addr()}
	s.router = s.buildRouter()
	return s
}

// Addr returns the address the server will listen on.
func (s *Server) Addr() string { return s.addr }

// Handler exposes the assembled router, mainly for tests that drive it with
// httptest without binding a real listener.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks serving HTTP on s.Addr().
func (s *Server) ListenAndServe() error {
	return http.ListenAndServe(s.addr, s.router)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.handleSessionsList)
		r.Post("/", s.handleSessionCreate)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleSessionShow)
			r.Delete("/", s.handleSessionDelete)
			r.Post("/turns", s.handleTurnStart)
			r.Post("/cancel", s.handleTurnCancel)
			r.Get("/events", s.handleEventStream)
		})
	})

	r.Route("/tools/{toolID}", func(r chi.Router) {
		r.Post("/confirm", s.handleToolConfirm)
		r.Post("/reject", s.handleToolReject)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createSessionRequest struct {
	AgentType string `json:"agent_type"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	AgentType string `json:"agent_type"`
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.AgentType == "" {
		req.AgentType = "default"
	}
	if _, ok := s.deps.Registry.GetAgent(req.AgentType); !ok {
		writeError(w, errs.New(errs.Validation, "unknown agent type: "+req.AgentType))
		return
	}

	sess, err := s.deps.Sessions.Create(req.AgentType, session.DefaultConfig(), s.deps.WorkspaceRoot)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{SessionID: sess.ID, AgentType: req.AgentType})
}

func (s *Server) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	if rows, ok, err := s.deps.Sessions.ListIndexed(500); ok {
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
		return
	}

	metas, err := persistence.ListSessions(s.deps.SessionsDir)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metas)
}

func (s *Server) handleSessionShow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	_, store, _, err := s.deps.Sessions.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	meta, err := store.LoadMetadata()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.deps.Sessions.Delete(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type startTurnRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleTurnStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	var req startTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, errs.New(errs.Validation, "message must not be empty"))
		return
	}

	_, store, _, err := s.deps.Sessions.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	meta, err := store.LoadMetadata()
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.deps.Coord.StartDialogTurn(r.Context(), coordinator.StartTurnInput{
		SessionID: id,
		UserInput: req.Message,
		AgentType: meta.AgentType,
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id})
}

type cancelTurnRequest struct {
	TurnID string `json:"turn_id"`
}

func (s *Server) handleTurnCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	var req cancelTurnRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := s.deps.Coord.CancelDialogTurn(id, req.TurnID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type confirmToolRequest struct {
	UpdatedInput map[string]any `json:"updated_input"`
}

func (s *Server) handleToolConfirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "toolID")
	var req confirmToolRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := s.deps.Coord.ConfirmTool(id, req.UpdatedInput); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rejectToolRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleToolReject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "toolID")
	var req rejectToolRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := s.deps.Coord.RejectTool(id, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var typed *errs.Error
	if errors.As(err, &typed) {
		switch typed.Kind {
		case errs.Validation:
			status = http.StatusBadRequest
		case errs.NotFound, errs.Session:
			status = http.StatusNotFound
		case errs.Permission:
			status = http.StatusForbidden
		case errs.Timeout, errs.Cancelled:
			status = http.StatusRequestTimeout
		}
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
