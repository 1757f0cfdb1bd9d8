// ABOUTME: SQLite-backed index for fast session/turn listing queries, always
// ABOUTME: rebuildable from the on-disk JSONL logs, grounded on spec/store/sqlite.go's pattern.
package persistence

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/relaykit/relay/session"
)

// SessionRow is one row of the sessions listing cache.
type SessionRow struct {
	SessionID      string
	AgentType      string
	Title          string
	State          string
	TurnCount      int
	CreatedAt      string
	LastActivityAt string
}

// TurnRow is one row of the turns listing cache.
type TurnRow struct {
	TurnID      string
	SessionID   string
	TurnIndex   int
	UserInput   string
	State       string
	CreatedAt   string
	CompletedAt string
}

// Index is a SQLite-backed cache over session and turn metadata. It never
// holds data that doesn't also exist on disk in metadata.json/turns/*.json;
// it exists purely so listing and searching sessions doesn't require
// opening every session directory.
type Index struct {
	db *sql.DB
}

// OpenIndex opens or creates a SQLite index database at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite index: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			agent_type TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			turn_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			last_activity_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS turns (
			turn_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			turn_index INTEGER NOT NULL,
			user_input TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at TEXT NOT NULL,
			completed_at TEXT NOT NULL DEFAULT '',
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		);

		CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, turn_index);
		CREATE INDEX IF NOT EXISTS idx_sessions_activity ON sessions(last_activity_at DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the database connection.
func (idx *Index) Close() error { return idx.db.Close() }

// UpsertSession writes (or updates) one session's summary row.
func (idx *Index) UpsertSession(row SessionRow) error {
	_, err := idx.db.Exec(
		`INSERT INTO sessions (session_id, agent_type, title, state, turn_count, created_at, last_activity_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			agent_type = excluded.agent_type,
			title = excluded.title,
			state = excluded.state,
			turn_count = excluded.turn_count,
			last_activity_at = excluded.last_activity_at`,
		row.SessionID, row.AgentType, row.Title, row.State, row.TurnCount, row.CreatedAt, row.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// DeleteSession removes a session row and its turn rows.
func (idx *Index) DeleteSession(sessionID string) error {
	if _, err := idx.db.Exec("DELETE FROM turns WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("delete turns for session: %w", err)
	}
	if _, err := idx.db.Exec("DELETE FROM sessions WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// UpsertTurn writes (or updates) one turn's summary row.
func (idx *Index) UpsertTurn(row TurnRow) error {
	_, err := idx.db.Exec(
		`INSERT INTO turns (turn_id, session_id, turn_index, user_input, state, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(turn_id) DO UPDATE SET
			user_input = excluded.user_input,
			state = excluded.state,
			completed_at = excluded.completed_at`,
		row.TurnID, row.SessionID, row.TurnIndex, row.UserInput, row.State, row.CreatedAt, row.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert turn: %w", err)
	}
	return nil
}

// ListSessions returns session rows ordered by last activity descending.
func (idx *Index) ListSessions(limit int) ([]SessionRow, error) {
	rows, err := idx.db.Query(
		"SELECT session_id, agent_type, title, state, turn_count, created_at, last_activity_at "+
			"FROM sessions ORDER BY last_activity_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		if err := rows.Scan(&r.SessionID, &r.AgentType, &r.Title, &r.State, &r.TurnCount, &r.CreatedAt, &r.LastActivityAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListTurns returns turn rows for one session ordered by turn_index.
func (idx *Index) ListTurns(sessionID string) ([]TurnRow, error) {
	rows, err := idx.db.Query(
		"SELECT turn_id, session_id, turn_index, user_input, state, created_at, completed_at "+
			"FROM turns WHERE session_id = ? ORDER BY turn_index ASC", sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []TurnRow
	for rows.Next() {
		var r TurnRow
		if err := rows.Scan(&r.TurnID, &r.SessionID, &r.TurnIndex, &r.UserInput, &r.State, &r.CreatedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Rebuild clears the index and repopulates it from base's on-disk session
// directories. The index is a pure cache: any corruption or loss is
// recovered by calling this after an OpenIndex.
func Rebuild(idx *Index, base string) error {
	if _, err := idx.db.Exec("DELETE FROM turns"); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}
	if _, err := idx.db.Exec("DELETE FROM sessions"); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}

	metas, err := ListSessions(base)
	if err != nil {
		return fmt.Errorf("list sessions for rebuild: %w", err)
	}

	for _, meta := range metas {
		state := "idle"
		store, err := Open(base, meta.SessionID)
		if err != nil {
			continue
		}
		if st, err := store.LoadState(); err == nil {
			state = string(st.State)
		}

		if err := idx.UpsertSession(SessionRow{
			SessionID:      meta.SessionID,
			AgentType:      meta.AgentType,
			Title:          meta.Title,
			State:          state,
			TurnCount:      len(meta.TurnIDs),
			CreatedAt:      meta.CreatedAt,
			LastActivityAt: meta.LastActivityAt,
		}); err != nil {
			return fmt.Errorf("rebuild upsert session %s: %w", meta.SessionID, err)
		}

		for i, turnID := range meta.TurnIDs {
			turn, err := store.LoadTurn(turnID)
			if err != nil {
				continue
			}
			if err := idx.UpsertTurn(TurnRow{
				TurnID:      turn.TurnID,
				SessionID:   meta.SessionID,
				TurnIndex:   i,
				UserInput:   turn.UserInput,
				State:       string(turn.State),
				CreatedAt:   turn.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
				CompletedAt: formatCompletedAt(turn),
			}); err != nil {
				return fmt.Errorf("rebuild upsert turn %s: %w", turnID, err)
			}
		}
	}
	return nil
}

func formatCompletedAt(turn session.DialogTurn) string {
	if turn.CompletedAt.IsZero() {
		return ""
	}
	return turn.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
}
