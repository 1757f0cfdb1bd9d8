// ABOUTME: Websocket event feed over a session's event stream, adapted from
// ABOUTME: the gateway control plane's upgrade/writeLoop/ping shape but
// ABOUTME: simplified to a one-directional push -- a relay client reads
// ABOUTME: events, it does not send commands over this connection.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 45 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wireEvent is the JSON shape pushed to a connected client for every event
// the router emits for the session it subscribed to.
type wireEvent struct {
	Kind      string         `json:"kind"`
	SessionID string         `json:"session_id"`
	TurnID    string         `json:"turn_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// handleEventStream upgrades the connection and relays every event the
// router's broadcast subscription delivers, filtered to this sessionID --
// SubscribeExternal's feed is broadcast to all subscribers regardless of the
// id passed in, so filtering client-side here mirrors what cmd/relay's own
// CLI loop already does against the same router.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go discardIncoming(conn)

	sub := s.deps.Router.SubscribeExternal(sessionID)
	defer s.deps.Router.Unsubscribe(sessionID)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.SessionID != sessionID {
				continue
			}
			payload, err := json.Marshal(wireEvent{
				Kind: string(ev.Kind), SessionID: ev.SessionID, TurnID: ev.TurnID,
				Timestamp: ev.Timestamp, Data: ev.Data,
			})
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// discardIncoming drains and ignores any client frames, only to keep
// ReadMessage's pong handling alive; this feed carries no client->server
// commands.
func discardIncoming(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
